// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// NormalizePromoCode приводит промокод к каноническому виду:
// без пробелов по краям, в верхнем регистре.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidPromoCode проверяет формат промокода: от 3 до 32 символов,
// латинские буквы, цифры, дефис и подчёркивание.
func IsValidPromoCode(code string) bool {
	if len(code) < 3 || len(code) > 32 {
		return false
	}

	for _, ch := range code {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}

	return true
}
