package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teleserv/marketplace-system/internal/model"
	"github.com/teleserv/marketplace-system/internal/provider/telegram"
	"github.com/teleserv/marketplace-system/internal/provider/yookassa"
	"github.com/teleserv/marketplace-system/internal/repository"
)

// PaymentResult — результат инициации платежа для выдачи клиенту.
type PaymentResult struct {
	PaymentID       uuid.UUID
	OrderID         uuid.UUID
	Status          model.PaymentStatus
	ConfirmationURL string
}

// RobokassaCallback — параметры Result-уведомления Robokassa.
type RobokassaCallback struct {
	OutSum         string
	InvID          string
	SignatureValue string
	ShpOrderID     string
}

// PaymentService оркестрирует платежи: инициирует их у провайдера,
// сверяет подтверждения из webhook-уведомлений со своим состоянием
// и проводит возвраты.
type PaymentService struct {
	repo      Repository
	yookassa  YooKassaClient
	robokassa RobokassaClient
	stars     StarsClient
	notifier  Notifier
	returnURL string
	logger    *zap.Logger
}

// NewPaymentService создаёт платёжный сервис.
func NewPaymentService(repo Repository, yk YooKassaClient, rk RobokassaClient, stars StarsClient, notifier Notifier, returnURL string, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		repo:      repo,
		yookassa:  yk,
		robokassa: rk,
		stars:     stars,
		notifier:  notifier,
		returnURL: returnURL,
		logger:    logger,
	}
}

// CreatePayment инициирует оплату заказа у выбранного провайдера.
// На заказ допускается один платёж; неуспешная попытка (FAILED или
// CANCELLED) переиспользует ту же запись, активная попытка блокирует
// новую с ошибкой ErrAlreadyPaid.
func (s *PaymentService) CreatePayment(ctx context.Context, orderID uuid.UUID, provider model.PaymentProvider, returnURL string) (*PaymentResult, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != model.PaymentStatusPending {
		return nil, ErrAlreadyPaid
	}

	p, err := s.preparePayment(ctx, o, provider)
	if err != nil {
		return nil, err
	}

	if returnURL == "" {
		returnURL = s.returnURL
	}

	switch provider {
	case model.ProviderYooKassa:
		err = s.initYooKassa(ctx, p, o, returnURL)
	case model.ProviderRobokassa:
		err = s.initRobokassa(p, o)
	case model.ProviderTelegramStars:
		err = s.initTelegramStars(ctx, p, o)
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", provider)
	}

	if err != nil {
		p.MarkAsFailed("PROVIDER_ERROR", err.Error())
		if updErr := s.repo.UpdatePayment(ctx, p); updErr != nil {
			s.logger.Error("failed to persist failed payment",
				zap.String("payment_id", p.ID.String()), zap.Error(updErr))
		}
		return nil, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	if err := s.repo.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	s.logger.Info("payment created",
		zap.String("payment_id", p.ID.String()),
		zap.String("order_id", o.ID.String()),
		zap.String("provider", string(provider)))

	return &PaymentResult{
		PaymentID:       p.ID,
		OrderID:         o.ID,
		Status:          p.Status,
		ConfirmationURL: p.ConfirmationURL,
	}, nil
}

// preparePayment возвращает запись платежа для новой попытки оплаты:
// создаёт новую либо сбрасывает существующую неуспешную в PENDING.
func (s *PaymentService) preparePayment(ctx context.Context, o *model.Order, provider model.PaymentProvider) (*model.Payment, error) {
	p := model.NewPayment(o.ID, o.TotalAmount, provider)
	err := s.repo.CreatePayment(ctx, p)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrPaymentExists) {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	existing, err := s.repo.GetPaymentByOrderID(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("get existing payment: %w", err)
	}
	if existing.Status != model.PaymentStatusFailed && existing.Status != model.PaymentStatusCancelled {
		return nil, ErrAlreadyPaid
	}

	// Повторная попытка после неудачи: запись сохраняется, статус сбрасывается.
	existing.Status = model.PaymentStatusPending
	existing.Provider = provider
	existing.Amount = o.TotalAmount
	existing.ExternalID = ""
	existing.ConfirmationURL = ""
	existing.ErrorCode = ""
	existing.ErrorMessage = ""
	return existing, nil
}

func (s *PaymentService) initYooKassa(ctx context.Context, p *model.Payment, o *model.Order, returnURL string) error {
	resp, err := s.yookassa.CreatePayment(ctx, yookassa.PaymentRequest{
		Amount: yookassa.Amount{
			Value:    yookassa.FormatAmount(p.Amount),
			Currency: p.Currency,
		},
		Description: orderDescription(o.ID),
		Confirmation: yookassa.Confirmation{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
		Capture:  true,
		Metadata: map[string]string{"order_id": o.ID.String()},
	}, p.ID.String())
	if err != nil {
		return err
	}

	p.ExternalID = resp.ID
	if resp.Confirmation != nil {
		p.ConfirmationURL = resp.Confirmation.ConfirmationURL
	}
	return nil
}

func (s *PaymentService) initRobokassa(p *model.Payment, o *model.Order) error {
	invID := robokassaInvoiceID(p.ID)
	p.ExternalID = strconv.FormatInt(invID, 10)
	p.ConfirmationURL = s.robokassa.PaymentURL(p.Amount, invID, orderDescription(o.ID),
		map[string]string{"Shp_orderId": o.ID.String()})
	return nil
}

func (s *PaymentService) initTelegramStars(ctx context.Context, p *model.Payment, o *model.Order) error {
	link, err := s.stars.CreateInvoiceLink(ctx, orderDescription(o.ID),
		"Оплата заказа на маркетплейсе", o.ID.String(), telegram.StarsAmount(p.Amount))
	if err != nil {
		return err
	}
	p.ConfirmationURL = link
	return nil
}

// robokassaInvoiceID выводит положительный числовой InvId из UUID платежа.
// Robokassa принимает только целочисленные номера счетов.
func robokassaInvoiceID(paymentID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint32(paymentID[:4]) & 0x7fffffff)
}

// GetPaymentStatus возвращает текущее состояние платежа. Для незавершённых
// платежей ЮKassa состояние дополнительно сверяется опросом API провайдера.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if p.Provider == model.ProviderYooKassa && p.ExternalID != "" &&
		(p.Status == model.PaymentStatusPending || p.Status == model.PaymentStatusWaitingForCapture) {
		obj, err := s.yookassa.GetPayment(ctx, p.ExternalID)
		if err != nil {
			s.logger.Warn("failed to poll payment status",
				zap.String("payment_id", p.ID.String()), zap.Error(err))
			return p, nil
		}
		if err := s.applyProviderStatus(ctx, p, obj.Status); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// ProcessYooKassaWebhook сверяет уведомление ЮKassa с состоянием платежа.
// Повторная доставка по платежу в конечном статусе игнорируется.
func (s *PaymentService) ProcessYooKassaWebhook(ctx context.Context, webhook yookassa.Webhook) error {
	p, err := s.repo.GetPaymentByExternalID(ctx, webhook.Object.ID)
	if err != nil {
		return err
	}
	if p.IsTerminal() {
		s.logger.Debug("duplicate webhook ignored", zap.String("payment_id", p.ID.String()))
		return nil
	}
	return s.applyProviderStatus(ctx, p, webhook.Object.Status)
}

// applyProviderStatus применяет статус платежа в терминах ЮKassa к платежу.
func (s *PaymentService) applyProviderStatus(ctx context.Context, p *model.Payment, status string) error {
	switch status {
	case "pending":
		return nil
	case "waiting_for_capture":
		p.MarkAsWaitingForCapture()
		return s.transitionInProgress(ctx, p)
	case "succeeded":
		p.MarkAsCompleted()
		return s.completePayment(ctx, p)
	case "canceled":
		p.MarkAsCancelled()
		return s.transitionInProgress(ctx, p)
	default:
		s.logger.Warn("unknown provider payment status",
			zap.String("payment_id", p.ID.String()), zap.String("status", status))
		return nil
	}
}

// transitionInProgress фиксирует новый статус платежа при условии, что он
// всё ещё находился в незавершённом состоянии. Конфликт статусов означает
// гонку с параллельным уведомлением и не является ошибкой.
func (s *PaymentService) transitionInProgress(ctx context.Context, p *model.Payment) error {
	err := s.repo.TransitionPaymentStatus(ctx, p.ID,
		[]model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusWaitingForCapture}, p.Status)
	if errors.Is(err, repository.ErrStatusConflict) {
		s.logger.Info("concurrent payment update ignored", zap.String("payment_id", p.ID.String()))
		return nil
	}
	return err
}

// completePayment атомарно фиксирует успешную оплату: платёж и заказ
// обновляются одной транзакцией, после чего продавец получает уведомление.
func (s *PaymentService) completePayment(ctx context.Context, p *model.Payment) error {
	o, err := s.repo.GetOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	o.MarkAsPaid()

	err = s.repo.SavePaymentAndOrder(ctx, p, o,
		[]model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusWaitingForCapture})
	if errors.Is(err, repository.ErrStatusConflict) {
		s.logger.Info("payment already completed", zap.String("payment_id", p.ID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("save payment and order: %w", err)
	}

	s.logger.Info("payment completed",
		zap.String("payment_id", p.ID.String()), zap.String("order_id", o.ID.String()))

	s.notifier.SendOrderNotification(ctx, o.SellerID, model.EventOrderPaid,
		"Оплата получена",
		fmt.Sprintf("Заказ на сумму %s оплачен", formatRubles(o.TotalAmount)),
		o.ID)
	return nil
}

// ProcessRobokassaCallback обрабатывает Result-уведомление Robokassa.
// Возвращает InvId для формирования обязательного ответа OK{InvId}.
func (s *PaymentService) ProcessRobokassaCallback(ctx context.Context, cb RobokassaCallback) (string, error) {
	shpParams := map[string]string{}
	if cb.ShpOrderID != "" {
		shpParams["Shp_orderId"] = cb.ShpOrderID
	}
	if !s.robokassa.VerifyResultSignature(cb.OutSum, cb.InvID, cb.SignatureValue, shpParams) {
		return "", ErrInvalidSignature
	}

	orderID, err := uuid.Parse(cb.ShpOrderID)
	if err != nil {
		return "", ErrInvalidOrder
	}

	p, err := s.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if p.IsTerminal() {
		s.logger.Debug("duplicate callback ignored", zap.String("payment_id", p.ID.String()))
		return cb.InvID, nil
	}

	p.ExternalID = cb.InvID
	p.MarkAsCompleted()
	if err := s.completePayment(ctx, p); err != nil {
		return "", err
	}
	return cb.InvID, nil
}

// ProcessPreCheckout отвечает на pre-checkout запрос Telegram. Ответ
// обязателен в любом случае: без него Telegram отклонит платёж сам.
func (s *PaymentService) ProcessPreCheckout(ctx context.Context, query *telegram.PreCheckoutQuery) error {
	orderID, err := uuid.Parse(query.InvoicePayload)
	if err != nil {
		return s.stars.AnswerPreCheckoutQuery(ctx, query.ID, false, "Неверные данные заказа")
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return s.stars.AnswerPreCheckoutQuery(ctx, query.ID, false, "Заказ не найден")
		}
		// Ответить нужно в любом случае, внутренняя ошибка — отказ.
		if answerErr := s.stars.AnswerPreCheckoutQuery(ctx, query.ID, false, "Попробуйте позже"); answerErr != nil {
			s.logger.Error("failed to answer pre-checkout query", zap.Error(answerErr))
		}
		return err
	}
	if o.PaymentStatus != model.PaymentStatusPending {
		return s.stars.AnswerPreCheckoutQuery(ctx, query.ID, false, "Заказ уже оплачен")
	}

	return s.stars.AnswerPreCheckoutQuery(ctx, query.ID, true, "")
}

// ProcessTelegramStarsPayment фиксирует успешное списание звёзд.
func (s *PaymentService) ProcessTelegramStarsPayment(ctx context.Context, payment *telegram.SuccessfulPayment) error {
	orderID, err := uuid.Parse(payment.InvoicePayload)
	if err != nil {
		return ErrInvalidPayload
	}

	p, err := s.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if p.IsTerminal() {
		s.logger.Debug("duplicate stars payment ignored", zap.String("payment_id", p.ID.String()))
		return nil
	}

	p.ExternalID = payment.TelegramPaymentChargeID
	p.MarkAsCompleted()
	return s.completePayment(ctx, p)
}

// Refund проводит возврат завершённого платежа. Возврату подлежит только
// платёж в статусе COMPLETED; у Robokassa нет API возвратов, такие платежи
// возвращаются вручную. При отказе провайдера статус откатывается обратно.
func (s *PaymentService) Refund(ctx context.Context, paymentID uuid.UUID) error {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != model.PaymentStatusCompleted {
		return ErrInvalidStatus
	}
	if p.Provider == model.ProviderRobokassa {
		return ErrManualRefundRequired
	}

	err = s.repo.TransitionPaymentStatus(ctx, p.ID,
		[]model.PaymentStatus{model.PaymentStatusCompleted}, model.PaymentStatusRefunding)
	if errors.Is(err, repository.ErrStatusConflict) {
		return ErrInvalidStatus
	}
	if err != nil {
		return fmt.Errorf("transition payment status: %w", err)
	}
	p.MarkAsRefunding()

	var refundErr error
	switch p.Provider {
	case model.ProviderYooKassa:
		refundErr = s.refundYooKassa(ctx, p)
	case model.ProviderTelegramStars:
		refundErr = s.refundTelegramStars(ctx, p)
	default:
		refundErr = fmt.Errorf("unknown payment provider: %s", p.Provider)
	}

	if refundErr != nil {
		s.logger.Error("refund failed",
			zap.String("payment_id", p.ID.String()), zap.Error(refundErr))
		if revertErr := s.repo.TransitionPaymentStatus(ctx, p.ID,
			[]model.PaymentStatus{model.PaymentStatusRefunding}, model.PaymentStatusCompleted); revertErr != nil {
			s.logger.Error("failed to revert payment status",
				zap.String("payment_id", p.ID.String()), zap.Error(revertErr))
		}
		return fmt.Errorf("%w: %w", ErrRefundFailed, refundErr)
	}

	o, err := s.repo.GetOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	o.MarkAsRefunded()
	p.MarkAsRefunded()

	err = s.repo.SavePaymentAndOrder(ctx, p, o, []model.PaymentStatus{model.PaymentStatusRefunding})
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("save payment and order: %w", err)
	}

	s.logger.Info("payment refunded",
		zap.String("payment_id", p.ID.String()), zap.String("order_id", o.ID.String()))

	s.notifier.SendOrderNotification(ctx, o.BuyerID, model.EventOrderRefunded,
		"Возврат выполнен",
		fmt.Sprintf("Средства по заказу на сумму %s возвращены", formatRubles(o.TotalAmount)),
		o.ID)
	return nil
}

func (s *PaymentService) refundYooKassa(ctx context.Context, p *model.Payment) error {
	result, err := s.yookassa.CreateRefund(ctx, yookassa.RefundRequest{
		PaymentID: p.ExternalID,
		Amount: yookassa.Amount{
			Value:    yookassa.FormatAmount(p.Amount),
			Currency: p.Currency,
		},
	}, uuid.NewString())
	if err != nil {
		return err
	}
	if result.Status != "succeeded" {
		return fmt.Errorf("unexpected refund status: %s", result.Status)
	}
	return nil
}

func (s *PaymentService) refundTelegramStars(ctx context.Context, p *model.Payment) error {
	o, err := s.repo.GetOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	telegramID, err := s.repo.GetUserTelegramID(ctx, o.BuyerID)
	if err != nil {
		return err
	}
	return s.stars.RefundStarPayment(ctx, telegramID, p.ExternalID)
}
