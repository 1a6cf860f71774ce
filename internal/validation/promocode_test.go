package validation

import "testing"

func TestNormalizePromoCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"save10", "SAVE10"},
		{"  Save10  ", "SAVE10"},
		{"NEW_YEAR-2025", "NEW_YEAR-2025"},
	}

	for _, tt := range tests {
		if got := NormalizePromoCode(tt.in); got != tt.want {
			t.Fatalf("NormalizePromoCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidPromoCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"SAVE10", true},
		{"NEW_YEAR-2025", true},
		{"AB", false},
		{"", false},
		{"WITH SPACE", false},
		{"ПРОМО", false},
		{"TOOLONGTOOLONGTOOLONGTOOLONGTOOLONG", false},
	}

	for _, tt := range tests {
		if got := IsValidPromoCode(tt.code); got != tt.want {
			t.Fatalf("IsValidPromoCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
