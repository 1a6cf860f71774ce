package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStarsAmount(t *testing.T) {
	tests := []struct {
		kopecks int64
		want    int64
	}{
		{150, 1},
		{151, 2},
		{300, 2},
		{500000, 3334},
		{1, 1},
	}

	for _, tt := range tests {
		if got := StarsAmount(tt.kopecks); got != tt.want {
			t.Fatalf("StarsAmount(%d) = %d, want %d", tt.kopecks, got, tt.want)
		}
	}
}

func TestCreateInvoiceLink(t *testing.T) {
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/createInvoiceLink" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": "https://t.me/invoice/xyz",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")

	link, err := c.CreateInvoiceLink(context.Background(), "Заказ", "Оплата заказа", "order-payload", 100)
	if err != nil {
		t.Fatalf("CreateInvoiceLink: %v", err)
	}
	if link != "https://t.me/invoice/xyz" {
		t.Fatalf("link = %q", link)
	}
	if gotBody["currency"] != "XTR" {
		t.Fatalf("currency = %v, want XTR", gotBody["currency"])
	}
	if gotBody["payload"] != "order-payload" {
		t.Fatalf("payload = %v", gotBody["payload"])
	}
}

func TestAnswerPreCheckoutQuery_Decline(t *testing.T) {
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")

	if err := c.AnswerPreCheckoutQuery(context.Background(), "q1", false, "Заказ не найден"); err != nil {
		t.Fatalf("AnswerPreCheckoutQuery: %v", err)
	}
	if gotBody["ok"] != false || gotBody["error_message"] != "Заказ не найден" {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestRefundStarPayment_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"description": "CHARGE_NOT_FOUND",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")

	err := c.RefundStarPayment(context.Background(), 42, "charge-1")
	if err == nil {
		t.Fatalf("expected error when api answers ok=false")
	}
}

func TestUpdate_Decode(t *testing.T) {
	raw := `{
		"update_id": 10,
		"message": {
			"message_id": 5,
			"from": {"id": 77, "username": "buyer"},
			"successful_payment": {
				"currency": "XTR",
				"total_amount": 100,
				"invoice_payload": "9f0c9f0c-0000-0000-0000-000000000001",
				"telegram_payment_charge_id": "charge-xyz"
			}
		}
	}`

	var upd Update
	if err := json.Unmarshal([]byte(raw), &upd); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if upd.Message == nil || upd.Message.SuccessfulPayment == nil {
		t.Fatalf("successful_payment not decoded: %+v", upd)
	}
	if upd.Message.SuccessfulPayment.TelegramPaymentChargeID != "charge-xyz" {
		t.Fatalf("charge id = %q", upd.Message.SuccessfulPayment.TelegramPaymentChargeID)
	}
}
