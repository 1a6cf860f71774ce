package model

import "github.com/google/uuid"

// ServiceSummary — данные услуги, необходимые для оформления заказа.
type ServiceSummary struct {
	ID          uuid.UUID
	SellerID    uuid.UUID
	Title       string
	Description string
	Price       int64
}

// CartItem — позиция корзины покупателя вместе с данными услуги.
type CartItem struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Quantity int
	Service  ServiceSummary
}
