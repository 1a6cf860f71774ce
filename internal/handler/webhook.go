package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/teleserv/marketplace-system/internal/provider/telegram"
	"github.com/teleserv/marketplace-system/internal/provider/yookassa"
	"github.com/teleserv/marketplace-system/internal/service"
)

// WebhookProcessor определяет контракт обработки платёжных уведомлений.
type WebhookProcessor interface {
	ProcessYooKassaWebhook(ctx context.Context, webhook yookassa.Webhook) error
	ProcessRobokassaCallback(ctx context.Context, cb service.RobokassaCallback) (string, error)
	ProcessPreCheckout(ctx context.Context, query *telegram.PreCheckoutQuery) error
	ProcessTelegramStarsPayment(ctx context.Context, payment *telegram.SuccessfulPayment) error
}

// YooKassaWebhook принимает уведомление ЮKassa о смене статуса платежа.
// Разобранное уведомление всегда подтверждается статусом 200: ЮKassa
// повторяет доставку при любом другом ответе, а ошибки сверки решаются
// на нашей стороне.
func (h *Handler) YooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	var webhook yookassa.Webhook
	if err := json.NewDecoder(r.Body).Decode(&webhook); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed webhook body")
		return
	}

	if err := h.webhooks.ProcessYooKassaWebhook(r.Context(), webhook); err != nil {
		h.logger.Error("yookassa webhook processing failed",
			zap.String("external_id", webhook.Object.ID), zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
}

// RobokassaWebhook принимает Result-уведомление Robokassa. Протокол требует
// в ответ literal-строку "OK{InvId}", иначе уведомление считается
// недоставленным.
func (h *Handler) RobokassaWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed form body")
		return
	}

	cb := service.RobokassaCallback{
		OutSum:         r.Form.Get("OutSum"),
		InvID:          r.Form.Get("InvId"),
		SignatureValue: r.Form.Get("SignatureValue"),
		ShpOrderID:     r.Form.Get("Shp_orderId"),
	}

	invID, err := h.webhooks.ProcessRobokassaCallback(r.Context(), cb)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			writeError(w, http.StatusForbidden, "INVALID_SIGNATURE", "invalid callback signature")
		case errors.Is(err, service.ErrInvalidOrder):
			writeError(w, http.StatusBadRequest, "INVALID_ORDER", "invalid order reference")
		default:
			h.logger.Error("robokassa callback processing failed",
				zap.String("inv_id", cb.InvID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK" + invID))
}

// TelegramWebhook принимает обновления Bot API. Telegram повторяет доставку
// при не-200 ответе, поэтому внутренние ошибки только логируются.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("malformed telegram update", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	switch {
	case update.PreCheckoutQuery != nil:
		if err := h.webhooks.ProcessPreCheckout(r.Context(), update.PreCheckoutQuery); err != nil {
			h.logger.Error("pre-checkout processing failed",
				zap.String("query_id", update.PreCheckoutQuery.ID), zap.Error(err))
		}
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		if err := h.webhooks.ProcessTelegramStarsPayment(r.Context(), update.Message.SuccessfulPayment); err != nil {
			h.logger.Error("stars payment processing failed",
				zap.Int64("update_id", update.UpdateID), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusOK)
}
