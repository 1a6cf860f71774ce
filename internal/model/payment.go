package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus описывает статус платежа.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusWaitingForCapture PaymentStatus = "WAITING_FOR_CAPTURE"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
	PaymentStatusRefunding         PaymentStatus = "REFUNDING"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
)

// PaymentProvider — внешняя платёжная система.
type PaymentProvider string

const (
	ProviderYooKassa      PaymentProvider = "YOOKASSA"
	ProviderRobokassa     PaymentProvider = "ROBOKASSA"
	ProviderTelegramStars PaymentProvider = "TELEGRAM_STARS"
)

// Payment — попытка оплаты заказа через внешнюю платёжную систему.
// На заказ приходится не более одного платежа (уникальность по OrderID).
// Платежи никогда не удаляются: возврат — это переход статуса.
type Payment struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	Amount          int64
	Currency        string
	Provider        PaymentProvider
	Status          PaymentStatus
	ExternalID      string
	ConfirmationURL string
	ErrorCode       string
	ErrorMessage    string
	Metadata        string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// NewPayment создаёт платёж в статусе PENDING. Сумма копируется из заказа
// в момент создания и дальше не пересчитывается.
func NewPayment(orderID uuid.UUID, amount int64, provider PaymentProvider) *Payment {
	return &Payment{
		ID:        uuid.New(),
		OrderID:   orderID,
		Amount:    amount,
		Currency:  "RUB",
		Provider:  provider,
		Status:    PaymentStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// IsTerminal сообщает, достиг ли платёж конечного статуса. Повторная
// доставка подтверждения по такому платежу игнорируется.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// MarkAsWaitingForCapture переводит платёж в ожидание подтверждения списания.
func (p *Payment) MarkAsWaitingForCapture() {
	p.Status = PaymentStatusWaitingForCapture
}

// MarkAsCompleted фиксирует успешное завершение платежа.
func (p *Payment) MarkAsCompleted() {
	now := time.Now().UTC()
	p.Status = PaymentStatusCompleted
	p.CompletedAt = &now
}

// MarkAsFailed помечает платёж неуспешным с кодом и описанием ошибки провайдера.
func (p *Payment) MarkAsFailed(errorCode, errorMessage string) {
	p.Status = PaymentStatusFailed
	p.ErrorCode = errorCode
	p.ErrorMessage = errorMessage
}

// MarkAsCancelled помечает платёж отменённым.
func (p *Payment) MarkAsCancelled() {
	p.Status = PaymentStatusCancelled
}

// MarkAsRefunding переводит платёж в процесс возврата.
func (p *Payment) MarkAsRefunding() {
	p.Status = PaymentStatusRefunding
}

// MarkAsRefunded фиксирует завершённый возврат.
func (p *Payment) MarkAsRefunded() {
	p.Status = PaymentStatusRefunded
}
