package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification — уведомление пользователя о событии заказа.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      EventType
	Title     string
	Message   string
	OrderID   uuid.UUID
	IsRead    bool
	CreatedAt time.Time
}
