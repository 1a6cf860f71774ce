// Package model содержит доменные сущности маркетплейса услуг.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// ErrInvalidStateTransition возвращается при попытке перевести заказ в статус,
// недостижимый из текущего.
var ErrInvalidStateTransition = errors.New("invalid order state transition")

// Order представляет заказ — долю одного продавца в оформленной корзине.
// Все денежные суммы хранятся в копейках. Статус меняется только через
// методы перехода, которые возвращают доменное событие для уведомлений.
type Order struct {
	ID                 uuid.UUID
	BuyerID            uuid.UUID
	SellerID           uuid.UUID
	Status             OrderStatus
	SubTotal           int64
	Commission         int64
	TotalAmount        int64
	PaymentMethod      PaymentProvider
	PaymentStatus      PaymentStatus
	PromoCode          string
	DiscountAmount     int64
	Notes              string
	Items              []OrderItem
	CreatedAt          time.Time
	PaidAt             *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason string
}

// OrderItem — позиция заказа. Название, описание и цена услуги копируются
// в момент оформления: последующие правки услуги не меняют историю заказов.
type OrderItem struct {
	ID                 uuid.UUID
	OrderID            uuid.UUID
	ServiceID          uuid.UUID
	ServiceTitle       string
	ServiceDescription string
	Quantity           int
	UnitPrice          int64
	TotalPrice         int64
}

// NewOrder создаёт заказ в статусе PENDING. Комиссия считается от подытога,
// итоговая сумма — подытог за вычетом скидки; после создания суммы не
// пересчитываются, поэтому позиции добавляются до сохранения заказа.
func NewOrder(buyerID, sellerID uuid.UUID, subTotal, commissionPct int64, method PaymentProvider, promoCode string, discount int64, notes string) (*Order, Event) {
	o := &Order{
		ID:             uuid.New(),
		BuyerID:        buyerID,
		SellerID:       sellerID,
		Status:         OrderStatusPending,
		SubTotal:       subTotal,
		Commission:     subTotal * commissionPct / 100,
		TotalAmount:    subTotal - discount,
		PaymentMethod:  method,
		PaymentStatus:  PaymentStatusPending,
		PromoCode:      promoCode,
		DiscountAmount: discount,
		Notes:          notes,
		CreatedAt:      time.Now().UTC(),
	}

	return o, Event{
		Type:     EventOrderCreated,
		OrderID:  o.ID,
		BuyerID:  buyerID,
		SellerID: sellerID,
		Amount:   o.TotalAmount,
	}
}

// NewOrderItem создаёт позицию заказа со снимком данных услуги.
func NewOrderItem(orderID, serviceID uuid.UUID, title, description string, quantity int, unitPrice int64) OrderItem {
	return OrderItem{
		ID:                 uuid.New(),
		OrderID:            orderID,
		ServiceID:          serviceID,
		ServiceTitle:       title,
		ServiceDescription: description,
		Quantity:           quantity,
		UnitPrice:          unitPrice,
		TotalPrice:         int64(quantity) * unitPrice,
	}
}

// AddItem добавляет позицию к заказу.
func (o *Order) AddItem(item OrderItem) {
	o.Items = append(o.Items, item)
}

// MarkAsPaid фиксирует факт оплаты: статус PAID, статус оплаты COMPLETED.
// Предусловий нет — повторный вызов лишь обновляет отметку времени.
func (o *Order) MarkAsPaid() Event {
	now := time.Now().UTC()
	o.PaymentStatus = PaymentStatusCompleted
	o.Status = OrderStatusPaid
	o.PaidAt = &now

	return Event{
		Type:     EventOrderPaid,
		OrderID:  o.ID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Amount:   o.TotalAmount,
	}
}

// MarkAsProcessing переводит оплаченный заказ в работу.
func (o *Order) MarkAsProcessing() (Event, error) {
	if o.Status != OrderStatusPaid {
		return Event{}, ErrInvalidStateTransition
	}

	o.Status = OrderStatusProcessing
	return o.statusChangedEvent(), nil
}

// MarkAsDelivered отмечает заказ доставленным.
func (o *Order) MarkAsDelivered() (Event, error) {
	if o.Status != OrderStatusProcessing {
		return Event{}, ErrInvalidStateTransition
	}

	o.Status = OrderStatusDelivered
	return o.statusChangedEvent(), nil
}

// Complete завершает доставленный заказ.
func (o *Order) Complete() (Event, error) {
	if o.Status != OrderStatusDelivered {
		return Event{}, ErrInvalidStateTransition
	}

	now := time.Now().UTC()
	o.Status = OrderStatusCompleted
	o.CompletedAt = &now

	return Event{
		Type:     EventOrderCompleted,
		OrderID:  o.ID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
	}, nil
}

// Cancel отменяет заказ из любого статуса, кроме COMPLETED. Отмена
// оплаченного заказа не трогает статус оплаты: возврат средств инициируется
// отдельно через платёжный сервис.
func (o *Order) Cancel(reason string) (Event, error) {
	if o.Status == OrderStatusCompleted {
		return Event{}, ErrInvalidStateTransition
	}

	now := time.Now().UTC()
	o.Status = OrderStatusCancelled
	o.CancelledAt = &now
	o.CancellationReason = reason

	return Event{
		Type:     EventOrderCancelled,
		OrderID:  o.ID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Reason:   reason,
	}, nil
}

// SetPaymentFailed помечает оплату заказа неуспешной.
func (o *Order) SetPaymentFailed() {
	o.PaymentStatus = PaymentStatusFailed
}

// RequestRefund переводит оплату заказа в статус REFUNDING.
// Возврат возможен только по завершённой оплате.
func (o *Order) RequestRefund() error {
	if o.PaymentStatus != PaymentStatusCompleted {
		return ErrInvalidStateTransition
	}

	o.PaymentStatus = PaymentStatusRefunding
	return nil
}

// MarkAsRefunded фиксирует возврат: обе оси статуса переходят в REFUNDED.
func (o *Order) MarkAsRefunded() Event {
	o.PaymentStatus = PaymentStatusRefunded
	o.Status = OrderStatusRefunded

	return Event{
		Type:     EventOrderRefunded,
		OrderID:  o.ID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Amount:   o.TotalAmount,
	}
}

func (o *Order) statusChangedEvent() Event {
	return Event{
		Type:     EventOrderStatusChanged,
		OrderID:  o.ID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Status:   o.Status,
	}
}
