// Package handler содержит HTTP-обработчики API маркетплейса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teleserv/marketplace-system/internal/middleware"
	"github.com/teleserv/marketplace-system/internal/model"
	"github.com/teleserv/marketplace-system/internal/repository"
	"github.com/teleserv/marketplace-system/internal/service"
)

// OrderService определяет контракт сервиса заказов, используемый обработчиками.
type OrderService interface {
	CreateFromCart(ctx context.Context, buyerID uuid.UUID, req service.CreateOrderRequest) ([]*model.Order, error)
	GetByID(ctx context.Context, orderID, userID uuid.UUID) (*model.Order, error)
	GetBuyerOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Order, int64, error)
	GetSellerOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Order, int64, error)
	UpdateStatus(ctx context.Context, orderID, sellerID uuid.UUID, status model.OrderStatus) (*model.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID, reason string) (bool, error)
}

// PaymentService определяет контракт платёжного сервиса, используемый обработчиками.
type PaymentService interface {
	CreatePayment(ctx context.Context, orderID uuid.UUID, provider model.PaymentProvider, returnURL string) (*service.PaymentResult, error)
	GetPaymentStatus(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID) error
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	orders         OrderService
	payments       PaymentService
	webhooks       WebhookProcessor
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(orders OrderService, payments PaymentService, webhooks WebhookProcessor, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		orders:         orders,
		payments:       payments,
		webhooks:       webhooks,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeServiceError переводит типизированные ошибки сервисов в HTTP-ответ
// с машиночитаемым кодом.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "order not found")
	case errors.Is(err, repository.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "payment not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "access denied")
	case errors.Is(err, service.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "EMPTY_CART", "cart is empty")
	case errors.Is(err, service.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "ALREADY_PAID", "order already has an active payment")
	case errors.Is(err, service.ErrInvalidStatus), errors.Is(err, model.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "INVALID_STATUS", "operation is not allowed in the current status")
	case errors.Is(err, service.ErrManualRefundRequired):
		writeError(w, http.StatusConflict, "MANUAL_REFUND_REQUIRED", "refund must be processed manually")
	case errors.Is(err, service.ErrPaymentProvider):
		writeError(w, http.StatusBadGateway, "PAYMENT_ERROR", "payment provider request failed")
	case errors.Is(err, service.ErrRefundFailed):
		writeError(w, http.StatusBadGateway, "REFUND_FAILED", "refund failed")
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

type orderItemResponse struct {
	ServiceID   uuid.UUID `json:"service_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	TotalPrice  float64   `json:"total_price"`
}

type orderResponse struct {
	ID                 uuid.UUID           `json:"id"`
	BuyerID            uuid.UUID           `json:"buyer_id"`
	SellerID           uuid.UUID           `json:"seller_id"`
	Status             string              `json:"status"`
	SubTotal           float64             `json:"sub_total"`
	Commission         float64             `json:"commission"`
	TotalAmount        float64             `json:"total_amount"`
	DiscountAmount     float64             `json:"discount_amount,omitempty"`
	PaymentMethod      string              `json:"payment_method"`
	PaymentStatus      string              `json:"payment_status"`
	PromoCode          string              `json:"promo_code,omitempty"`
	Notes              string              `json:"notes,omitempty"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
	Items              []orderItemResponse `json:"items,omitempty"`
	CreatedAt          string              `json:"created_at"`
	PaidAt             *string             `json:"paid_at,omitempty"`
}

// rubles переводит сумму из копеек в рубли для ответа API.
func rubles(kopecks int64) float64 {
	return float64(kopecks) / 100
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:                 o.ID,
		BuyerID:            o.BuyerID,
		SellerID:           o.SellerID,
		Status:             string(o.Status),
		SubTotal:           rubles(o.SubTotal),
		Commission:         rubles(o.Commission),
		TotalAmount:        rubles(o.TotalAmount),
		DiscountAmount:     rubles(o.DiscountAmount),
		PaymentMethod:      string(o.PaymentMethod),
		PaymentStatus:      string(o.PaymentStatus),
		PromoCode:          o.PromoCode,
		Notes:              o.Notes,
		CancellationReason: o.CancellationReason,
		CreatedAt:          o.CreatedAt.Format(time.RFC3339),
	}
	if o.PaidAt != nil {
		paidAt := o.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &paidAt
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ServiceID:   item.ServiceID,
			Title:       item.ServiceTitle,
			Description: item.ServiceDescription,
			Quantity:    item.Quantity,
			UnitPrice:   rubles(item.UnitPrice),
			TotalPrice:  rubles(item.TotalPrice),
		})
	}
	return resp
}

type createOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
	PromoCode     string `json:"promo_code"`
	Notes         string `json:"notes"`
}

func parseProvider(name string) (model.PaymentProvider, bool) {
	switch name {
	case "yookassa", string(model.ProviderYooKassa):
		return model.ProviderYooKassa, true
	case "robokassa", string(model.ProviderRobokassa):
		return model.ProviderRobokassa, true
	case "telegram", string(model.ProviderTelegramStars):
		return model.ProviderTelegramStars, true
	}
	return "", false
}

// CreateOrder оформляет корзину текущего пользователя в заказы.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body")
		return
	}

	provider, ok := parseProvider(req.PaymentMethod)
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown payment method")
		return
	}

	orders, err := h.orders.CreateFromCart(r.Context(), userID, service.CreateOrderRequest{
		PaymentMethod: provider,
		PromoCode:     req.PromoCode,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetOrder возвращает заказ с позициями.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id")
		return
	}

	o, err := h.orders.GetByID(r.Context(), orderID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type orderListResponse struct {
	Orders   []orderResponse `json:"orders"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// ListOrders возвращает страницу заказов пользователя. Параметр role
// выбирает роль: покупатель (по умолчанию) или продавец.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	var (
		orders []model.Order
		total  int64
		err    error
	)
	if r.URL.Query().Get("role") == "seller" {
		orders, total, err = h.orders.GetSellerOrders(r.Context(), userID, page, pageSize)
	} else {
		orders, total, err = h.orders.GetBuyerOrders(r.Context(), userID, page, pageSize)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := orderListResponse{
		Orders:   make([]orderResponse, 0, len(orders)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в следующий статус выполнения.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body")
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), orderID, userID, model.OrderStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type cancelOrderResponse struct {
	Status         string `json:"status"`
	AwaitingRefund bool   `json:"awaiting_refund"`
}

// CancelOrder отменяет заказ по инициативе покупателя или продавца.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id")
		return
	}

	var req cancelOrderRequest
	if r.Body != nil {
		// Тело с причиной отмены необязательно.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	awaitingRefund, err := h.orders.CancelOrder(r.Context(), orderID, userID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelOrderResponse{
		Status:         string(model.OrderStatusCancelled),
		AwaitingRefund: awaitingRefund,
	})
}

type createPaymentRequest struct {
	OrderID   uuid.UUID `json:"order_id"`
	ReturnURL string    `json:"return_url"`
}

type paymentResponse struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	OrderID         uuid.UUID `json:"order_id"`
	Status          string    `json:"status"`
	ConfirmationURL string    `json:"confirmation_url,omitempty"`
}

// CreatePayment инициирует оплату заказа через провайдера из пути запроса.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	provider, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown payment provider")
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body")
		return
	}

	result, err := h.payments.CreatePayment(r.Context(), req.OrderID, provider, req.ReturnURL)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, paymentResponse{
		PaymentID:       result.PaymentID,
		OrderID:         result.OrderID,
		Status:          string(result.Status),
		ConfirmationURL: result.ConfirmationURL,
	})
}

// GetPaymentStatus возвращает текущее состояние платежа.
func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payment id")
		return
	}

	p, err := h.payments.GetPaymentStatus(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse{
		PaymentID:       p.ID,
		OrderID:         p.OrderID,
		Status:          string(p.Status),
		ConfirmationURL: p.ConfirmationURL,
	})
}

// RefundPayment проводит возврат платежа.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payment id")
		return
	}

	if err := h.payments.Refund(r.Context(), paymentID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.PaymentStatusRefunded)})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}
