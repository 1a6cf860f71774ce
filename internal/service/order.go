package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/teleserv/marketplace-system/internal/model"
	"github.com/teleserv/marketplace-system/internal/repository"
	"github.com/teleserv/marketplace-system/internal/validation"
)

// CreateOrderRequest — параметры оформления заказа из корзины.
type CreateOrderRequest struct {
	PaymentMethod model.PaymentProvider
	PromoCode     string
	Notes         string
}

// OrderService оформляет заказы и управляет их жизненным циклом.
type OrderService struct {
	repo          Repository
	notifier      Notifier
	commissionPct int64
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(repo Repository, notifier Notifier, commissionPct int64) *OrderService {
	return &OrderService{repo: repo, notifier: notifier, commissionPct: commissionPct}
}

// CreateFromCart оформляет содержимое корзины покупателя в заказы.
// Позиции группируются по продавцу, на каждого продавца создаётся отдельный
// заказ. Скидка промокода считается от общей суммы корзины и распределяется
// между заказами; остаток от целочисленного деления достаётся первому заказу,
// так что сумма скидок всегда равна рассчитанной скидке. Все заказы,
// счётчики промокода и очистка корзины фиксируются одной транзакцией.
func (s *OrderService) CreateFromCart(ctx context.Context, buyerID uuid.UUID, req CreateOrderRequest) ([]*model.Order, error) {
	items, err := s.repo.GetCartItems(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	// Группировка по продавцу с сохранением порядка появления в корзине.
	sellers := make([]uuid.UUID, 0)
	bySeller := make(map[uuid.UUID][]model.CartItem)
	var subTotal int64
	for _, it := range items {
		if _, ok := bySeller[it.Service.SellerID]; !ok {
			sellers = append(sellers, it.Service.SellerID)
		}
		bySeller[it.Service.SellerID] = append(bySeller[it.Service.SellerID], it)
		subTotal += it.Service.Price * int64(it.Quantity)
	}

	promo, discount, err := s.resolvePromoCode(ctx, buyerID, req.PromoCode, subTotal)
	if err != nil {
		return nil, err
	}
	promoID := uuid.Nil
	promoCode := ""
	if promo != nil {
		promoID = promo.ID
		promoCode = promo.Code
	}

	share := discount / int64(len(sellers))
	remainder := discount % int64(len(sellers))

	orders := make([]*model.Order, 0, len(sellers))
	for i, sellerID := range sellers {
		var sellerSubTotal int64
		for _, it := range bySeller[sellerID] {
			sellerSubTotal += it.Service.Price * int64(it.Quantity)
		}
		orderDiscount := share
		if i == 0 {
			orderDiscount += remainder
		}

		o, _ := model.NewOrder(buyerID, sellerID, sellerSubTotal, s.commissionPct, req.PaymentMethod, promoCode, orderDiscount, req.Notes)
		for _, it := range bySeller[sellerID] {
			o.AddItem(model.NewOrderItem(o.ID, it.Service.ID, it.Service.Title, it.Service.Description, it.Quantity, it.Service.Price))
		}
		orders = append(orders, o)
	}

	if err := s.repo.CreateOrdersFromCart(ctx, buyerID, orders, promoID); err != nil {
		return nil, fmt.Errorf("create orders: %w", err)
	}

	for _, o := range orders {
		s.notifier.SendOrderNotification(ctx, o.SellerID, model.EventOrderCreated,
			"Новый заказ",
			fmt.Sprintf("Получен новый заказ на сумму %s", formatRubles(o.TotalAmount)),
			o.ID)
	}
	return orders, nil
}

// resolvePromoCode проверяет применимость промокода и возвращает его вместе
// со скидкой. Неизвестный, истёкший или исчерпанный код оформление
// не блокирует: заказ создаётся без скидки.
func (s *OrderService) resolvePromoCode(ctx context.Context, buyerID uuid.UUID, code string, subTotal int64) (*model.PromoCode, int64, error) {
	code = validation.NormalizePromoCode(code)
	if code == "" {
		return nil, 0, nil
	}
	promo, err := s.repo.GetPromoCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrPromoCodeNotFound) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("get promo code: %w", err)
	}
	if !promo.IsValid(timeNow()) {
		return nil, 0, nil
	}
	if promo.MaxUsagePerUser != nil {
		used, err := s.repo.GetPromoUsageByUser(ctx, promo.ID, buyerID)
		if err != nil {
			return nil, 0, fmt.Errorf("get promo usage: %w", err)
		}
		if used >= *promo.MaxUsagePerUser {
			return nil, 0, nil
		}
	}
	discount := promo.CalculateDiscount(subTotal)
	if discount == 0 {
		return nil, 0, nil
	}
	return promo, discount, nil
}

// GetByID возвращает заказ с позициями. Доступ имеют только покупатель
// и продавец заказа.
func (s *OrderService) GetByID(ctx context.Context, orderID, userID uuid.UUID) (*model.Order, error) {
	o, err := s.repo.GetOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != userID && o.SellerID != userID {
		return nil, ErrForbidden
	}
	return o, nil
}

// GetBuyerOrders возвращает страницу заказов пользователя как покупателя.
func (s *OrderService) GetBuyerOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Order, int64, error) {
	limit, offset := pageBounds(page, pageSize)
	return s.repo.GetOrdersByUser(ctx, userID, false, limit, offset)
}

// GetSellerOrders возвращает страницу заказов пользователя как продавца.
func (s *OrderService) GetSellerOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Order, int64, error) {
	limit, offset := pageBounds(page, pageSize)
	return s.repo.GetOrdersByUser(ctx, userID, true, limit, offset)
}

// UpdateStatus переводит заказ в следующий статус выполнения.
// Операция доступна только продавцу заказа.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, sellerID uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != sellerID {
		return nil, ErrForbidden
	}

	var ev model.Event
	switch status {
	case model.OrderStatusProcessing:
		ev, err = o.MarkAsProcessing()
	case model.OrderStatusDelivered:
		ev, err = o.MarkAsDelivered()
	case model.OrderStatusCompleted:
		ev, err = o.Complete()
	default:
		err = model.ErrInvalidStateTransition
	}
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	s.notifier.SendOrderNotification(ctx, o.BuyerID, ev.Type,
		"Статус заказа изменён", statusMessage(o.Status), o.ID)
	return o, nil
}

// CancelOrder отменяет заказ. Отменить может покупатель или продавец.
// Возвращает признак того, что по заказу требуется возврат средств.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID, reason string) (bool, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.BuyerID != userID && o.SellerID != userID {
		return false, ErrForbidden
	}

	if _, err := o.Cancel(reason); err != nil {
		return false, err
	}
	if err := s.repo.UpdateOrder(ctx, o); err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}

	// Уведомляется противоположная сторона заказа.
	recipient := o.SellerID
	if userID == o.SellerID {
		recipient = o.BuyerID
	}
	msg := "Заказ отменён"
	if reason != "" {
		msg = fmt.Sprintf("Заказ отменён: %s", reason)
	}
	s.notifier.SendOrderNotification(ctx, recipient, model.EventOrderCancelled, "Заказ отменён", msg, o.ID)

	return o.PaymentStatus == model.PaymentStatusCompleted, nil
}

func pageBounds(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return pageSize, (page - 1) * pageSize
}

func statusMessage(status model.OrderStatus) string {
	switch status {
	case model.OrderStatusProcessing:
		return "Продавец приступил к выполнению заказа"
	case model.OrderStatusDelivered:
		return "Заказ выполнен и ожидает подтверждения"
	case model.OrderStatusCompleted:
		return "Заказ завершён"
	default:
		return fmt.Sprintf("Новый статус заказа: %s", status)
	}
}
