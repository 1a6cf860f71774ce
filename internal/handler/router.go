package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/teleserv/marketplace-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
			r.Post("/orders/{id}/cancel", h.CancelOrder)

			r.Post("/payments/{provider}/create", h.CreatePayment)
			r.Get("/payments/{id}/status", h.GetPaymentStatus)
			r.Post("/payments/{id}/refund", h.RefundPayment)
		})

		// Уведомления платёжных систем приходят без аутентификации:
		// их подлинность проверяется подписью или сверкой с провайдером.
		r.Post("/payments/webhook/yookassa", h.YooKassaWebhook)
		r.Post("/payments/webhook/robokassa", h.RobokassaWebhook)
		r.Post("/telegram/webhook", h.TelegramWebhook)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
