package model

import (
	"time"

	"github.com/google/uuid"
)

// DiscountType — способ расчёта скидки промокода.
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// PromoCode — правило скидки. Суммы в копейках; nil означает отсутствие
// ограничения.
type PromoCode struct {
	ID                uuid.UUID
	Code              string
	DiscountType      DiscountType
	DiscountValue     int64
	MinOrderAmount    *int64
	MaxDiscountAmount *int64
	MaxUsageCount     *int
	CurrentUsageCount int
	MaxUsagePerUser   *int
	ValidFrom         *time.Time
	ValidTo           *time.Time
	IsActive          bool
	CreatedAt         time.Time
}

// IsValid проверяет, применим ли промокод в момент now: активность,
// общий лимит использований и окно действия.
func (p *PromoCode) IsValid(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.MaxUsageCount != nil && p.CurrentUsageCount >= *p.MaxUsageCount {
		return false
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return false
	}
	return true
}

// CalculateDiscount возвращает размер скидки в копейках для заказа на
// сумму orderAmount: 0 ниже минимальной суммы, процент или фиксированная
// величина, с ограничением сверху при заданном MaxDiscountAmount.
func (p *PromoCode) CalculateDiscount(orderAmount int64) int64 {
	if p.MinOrderAmount != nil && orderAmount < *p.MinOrderAmount {
		return 0
	}

	discount := p.DiscountValue
	if p.DiscountType == DiscountPercentage {
		discount = orderAmount * p.DiscountValue / 100
	}

	if p.MaxDiscountAmount != nil && discount > *p.MaxDiscountAmount {
		discount = *p.MaxDiscountAmount
	}

	return discount
}

// IncrementUsage увеличивает счётчик использований промокода.
func (p *PromoCode) IncrementUsage() {
	p.CurrentUsageCount++
}
