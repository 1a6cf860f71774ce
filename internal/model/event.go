package model

import "github.com/google/uuid"

// EventType описывает вид доменного события заказа.
type EventType string

const (
	EventOrderCreated       EventType = "ORDER_CREATED"
	EventOrderPaid          EventType = "ORDER_PAID"
	EventOrderStatusChanged EventType = "ORDER_STATUS_CHANGED"
	EventOrderCompleted     EventType = "ORDER_COMPLETED"
	EventOrderCancelled     EventType = "ORDER_CANCELLED"
	EventOrderRefunded      EventType = "ORDER_REFUNDED"
)

// Event — доменное событие, возвращаемое методами перехода заказа.
// События передаются сервису уведомлений; сущность не накапливает их у себя.
type Event struct {
	Type     EventType
	OrderID  uuid.UUID
	BuyerID  uuid.UUID
	SellerID uuid.UUID
	Amount   int64
	Status   OrderStatus
	Reason   string
}
