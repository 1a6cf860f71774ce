// Package service реализует бизнес-логику маркетплейса: оформление заказов
// из корзины и оркестрацию платежей через внешние платёжные системы.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teleserv/marketplace-system/internal/model"
	"github.com/teleserv/marketplace-system/internal/provider/yookassa"
)

// ErrEmptyCart возвращается при оформлении заказа из пустой корзины.
var (
	ErrEmptyCart = errors.New("cart is empty")
	// ErrAlreadyPaid возвращается при попытке создать платёж для заказа,
	// у которого уже есть активный или завершённый платёж.
	ErrAlreadyPaid = errors.New("order already has a payment")
	// ErrForbidden возвращается, если пользователь не является стороной заказа.
	ErrForbidden = errors.New("access denied")
	// ErrInvalidStatus возвращается при попытке возврата незавершённого платежа.
	ErrInvalidStatus = errors.New("payment is not refundable")
	// ErrInvalidSignature возвращается при неверной подписи уведомления провайдера.
	ErrInvalidSignature = errors.New("invalid callback signature")
	// ErrInvalidOrder возвращается, если из уведомления не удалось извлечь заказ.
	ErrInvalidOrder = errors.New("invalid order reference")
	// ErrInvalidPayload возвращается при некорректном payload платежа Telegram.
	ErrInvalidPayload = errors.New("invalid payment payload")
	// ErrPaymentProvider возвращается, если провайдер не смог создать платёж.
	ErrPaymentProvider = errors.New("payment provider request failed")
	// ErrRefundFailed возвращается, если провайдер отклонил возврат.
	ErrRefundFailed = errors.New("refund failed")
	// ErrManualRefundRequired возвращается для провайдеров без API возвратов.
	ErrManualRefundRequired = errors.New("refund must be processed manually")
)

// Repository описывает контракт доступа к данным, используемый сервисами.
type Repository interface {
	GetCartItems(ctx context.Context, userID uuid.UUID) ([]model.CartItem, error)
	CreateOrdersFromCart(ctx context.Context, buyerID uuid.UUID, orders []*model.Order, promoCodeID uuid.UUID) error

	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrderWithItems(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID uuid.UUID, asSeller bool, limit, offset int) ([]model.Order, int64, error)
	UpdateOrder(ctx context.Context, o *model.Order) error

	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*model.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Payment, error)
	UpdatePayment(ctx context.Context, p *model.Payment) error
	TransitionPaymentStatus(ctx context.Context, id uuid.UUID, from []model.PaymentStatus, to model.PaymentStatus) error
	SavePaymentAndOrder(ctx context.Context, p *model.Payment, o *model.Order, expect []model.PaymentStatus) error

	GetPromoCodeByCode(ctx context.Context, code string) (*model.PromoCode, error)
	GetPromoUsageByUser(ctx context.Context, promoCodeID, userID uuid.UUID) (int, error)

	GetUserTelegramID(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Notifier доставляет пользователю уведомление о событии заказа.
// Реализация работает по принципу fire-and-forget.
type Notifier interface {
	SendOrderNotification(ctx context.Context, userID uuid.UUID, eventType model.EventType, title, message string, orderID uuid.UUID)
}

// YooKassaClient описывает операции API ЮKassa, используемые платёжным сервисом.
type YooKassaClient interface {
	CreatePayment(ctx context.Context, req yookassa.PaymentRequest, idempotenceKey string) (*yookassa.PaymentObject, error)
	GetPayment(ctx context.Context, paymentID string) (*yookassa.PaymentObject, error)
	CreateRefund(ctx context.Context, req yookassa.RefundRequest, idempotenceKey string) (*yookassa.RefundObject, error)
}

// RobokassaClient строит платёжные ссылки и проверяет подписи Robokassa.
type RobokassaClient interface {
	PaymentURL(amount int64, invID int64, description string, shpParams map[string]string) string
	VerifyResultSignature(outSum, invID, signature string, shpParams map[string]string) bool
}

// StarsClient описывает операции Bot API для платежей в Telegram Stars.
type StarsClient interface {
	CreateInvoiceLink(ctx context.Context, title, description, payload string, stars int64) (string, error)
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error
	RefundStarPayment(ctx context.Context, userTelegramID int64, chargeID string) error
}

// timeNow вынесено в переменную для подмены в тестах.
var timeNow = time.Now

// orderDescription — короткое описание заказа для платёжных систем.
func orderDescription(orderID uuid.UUID) string {
	return "Заказ #" + orderID.String()[:8]
}

// formatRubles печатает сумму в копейках как целые рубли для сообщений.
func formatRubles(kopecks int64) string {
	return fmt.Sprintf("%d ₽", kopecks/100)
}
