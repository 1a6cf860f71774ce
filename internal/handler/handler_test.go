package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teleserv/marketplace-system/internal/middleware"
	"github.com/teleserv/marketplace-system/internal/model"
	"github.com/teleserv/marketplace-system/internal/provider/telegram"
	"github.com/teleserv/marketplace-system/internal/provider/yookassa"
	"github.com/teleserv/marketplace-system/internal/service"
)

type stubOrderService struct {
	createResp []*model.Order
	createErr  error

	getResp *model.Order
	getErr  error

	listResp []model.Order
	listErr  error

	updateResp *model.Order
	updateErr  error

	cancelAwaitingRefund bool
	cancelErr            error

	gotCreateReq service.CreateOrderRequest
	gotRole      string
}

func (s *stubOrderService) CreateFromCart(_ context.Context, _ uuid.UUID, req service.CreateOrderRequest) ([]*model.Order, error) {
	s.gotCreateReq = req
	return s.createResp, s.createErr
}

func (s *stubOrderService) GetByID(_ context.Context, _, _ uuid.UUID) (*model.Order, error) {
	return s.getResp, s.getErr
}

func (s *stubOrderService) GetBuyerOrders(_ context.Context, _ uuid.UUID, _, _ int) ([]model.Order, int64, error) {
	s.gotRole = "buyer"
	return s.listResp, int64(len(s.listResp)), s.listErr
}

func (s *stubOrderService) GetSellerOrders(_ context.Context, _ uuid.UUID, _, _ int) ([]model.Order, int64, error) {
	s.gotRole = "seller"
	return s.listResp, int64(len(s.listResp)), s.listErr
}

func (s *stubOrderService) UpdateStatus(_ context.Context, _, _ uuid.UUID, _ model.OrderStatus) (*model.Order, error) {
	return s.updateResp, s.updateErr
}

func (s *stubOrderService) CancelOrder(_ context.Context, _, _ uuid.UUID, _ string) (bool, error) {
	return s.cancelAwaitingRefund, s.cancelErr
}

type stubPaymentService struct {
	createResp *service.PaymentResult
	createErr  error

	statusResp *model.Payment
	statusErr  error

	refundErr error

	webhookErr  error
	callbackInv string
	callbackErr error

	gotProvider model.PaymentProvider
	gotWebhook  *yookassa.Webhook
	gotCallback *service.RobokassaCallback
	gotQuery    *telegram.PreCheckoutQuery
	gotPayment  *telegram.SuccessfulPayment
}

func (s *stubPaymentService) CreatePayment(_ context.Context, _ uuid.UUID, provider model.PaymentProvider, _ string) (*service.PaymentResult, error) {
	s.gotProvider = provider
	return s.createResp, s.createErr
}

func (s *stubPaymentService) GetPaymentStatus(_ context.Context, _ uuid.UUID) (*model.Payment, error) {
	return s.statusResp, s.statusErr
}

func (s *stubPaymentService) Refund(_ context.Context, _ uuid.UUID) error {
	return s.refundErr
}

func (s *stubPaymentService) ProcessYooKassaWebhook(_ context.Context, webhook yookassa.Webhook) error {
	s.gotWebhook = &webhook
	return s.webhookErr
}

func (s *stubPaymentService) ProcessRobokassaCallback(_ context.Context, cb service.RobokassaCallback) (string, error) {
	s.gotCallback = &cb
	return s.callbackInv, s.callbackErr
}

func (s *stubPaymentService) ProcessPreCheckout(_ context.Context, query *telegram.PreCheckoutQuery) error {
	s.gotQuery = query
	return s.webhookErr
}

func (s *stubPaymentService) ProcessTelegramStarsPayment(_ context.Context, payment *telegram.SuccessfulPayment) error {
	s.gotPayment = payment
	return s.webhookErr
}

type testEnv struct {
	orders   *stubOrderService
	payments *stubPaymentService
	auth     *middleware.AuthMiddleware
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		orders:   &stubOrderService{},
		payments: &stubPaymentService{},
		auth:     middleware.NewAuthMiddleware("test-secret"),
	}
	h := NewHandler(env.orders, env.payments, env.payments, zap.NewNop(), env.auth)
	env.router = h.SetupRouter()
	return env
}

// doAuthed выполняет запрос с валидным cookie авторизации.
func (e *testEnv) doAuthed(t *testing.T, userID uuid.UUID, method, target string, body io.Reader) *http.Response {
	t.Helper()

	rec := httptest.NewRecorder()
	e.auth.SetAuthCookie(rec, userID)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(method, target, body)
	req.AddCookie(cookie)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w.Result()
}

func testOrder(t *testing.T) *model.Order {
	t.Helper()
	o, _ := model.NewOrder(uuid.New(), uuid.New(), 500000, 10, model.ProviderYooKassa, "", 0, "")
	return o
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)
	o := testOrder(t)
	env.orders.createResp = []*model.Order{o}

	body, _ := json.Marshal(createOrderRequest{PaymentMethod: "yookassa", PromoCode: "SAVE10"})
	res := env.doAuthed(t, o.BuyerID, http.MethodPost, "/api/orders", bytes.NewReader(body))
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	if env.orders.gotCreateReq.PaymentMethod != model.ProviderYooKassa {
		t.Errorf("payment method = %s, want YOOKASSA", env.orders.gotCreateReq.PaymentMethod)
	}

	var resp []orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("got %d orders, want 1", len(resp))
	}
	if resp[0].TotalAmount != 5000 {
		t.Errorf("total = %v rubles, want 5000", resp[0].TotalAmount)
	}
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	env.orders.createErr = service.ErrEmptyCart

	body, _ := json.Marshal(createOrderRequest{PaymentMethod: "yookassa"})
	res := env.doAuthed(t, uuid.New(), http.MethodPost, "/api/orders", bytes.NewReader(body))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "EMPTY_CART" {
		t.Errorf("code = %q, want EMPTY_CART", resp.Code)
	}
}

func TestCreateOrder_UnknownPaymentMethod(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(createOrderRequest{PaymentMethod: "cash"})
	res := env.doAuthed(t, uuid.New(), http.MethodPost, "/api/orders", bytes.NewReader(body))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCreateOrder_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetOrder_Forbidden(t *testing.T) {
	env := newTestEnv(t)
	env.orders.getErr = service.ErrForbidden

	res := env.doAuthed(t, uuid.New(), http.MethodGet, "/api/orders/"+uuid.NewString(), nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestListOrders_SellerRole(t *testing.T) {
	env := newTestEnv(t)
	o := testOrder(t)
	env.orders.listResp = []model.Order{*o}

	res := env.doAuthed(t, o.SellerID, http.MethodGet, "/api/orders?role=seller", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if env.orders.gotRole != "seller" {
		t.Errorf("role = %q, want seller", env.orders.gotRole)
	}

	var resp orderListResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Orders) != 1 {
		t.Errorf("total = %d, orders = %d; want 1, 1", resp.Total, len(resp.Orders))
	}
}

func TestUpdateOrderStatus_InvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	env.orders.updateErr = model.ErrInvalidStateTransition

	body := strings.NewReader(`{"status":"COMPLETED"}`)
	res := env.doAuthed(t, uuid.New(), http.MethodPatch, "/api/orders/"+uuid.NewString()+"/status", body)
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "INVALID_STATUS" {
		t.Errorf("code = %q, want INVALID_STATUS", resp.Code)
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	env.orders.cancelAwaitingRefund = true

	body := strings.NewReader(`{"reason":"передумал"}`)
	res := env.doAuthed(t, uuid.New(), http.MethodPost, "/api/orders/"+uuid.NewString()+"/cancel", body)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp cancelOrderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.AwaitingRefund {
		t.Errorf("awaiting_refund = false, want true")
	}
}

func TestCreatePayment(t *testing.T) {
	env := newTestEnv(t)
	orderID := uuid.New()
	env.payments.createResp = &service.PaymentResult{
		PaymentID:       uuid.New(),
		OrderID:         orderID,
		Status:          model.PaymentStatusPending,
		ConfirmationURL: "https://yookassa.ru/pay",
	}

	body, _ := json.Marshal(createPaymentRequest{OrderID: orderID})
	res := env.doAuthed(t, uuid.New(), http.MethodPost, "/api/payments/yookassa/create", bytes.NewReader(body))
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	if env.payments.gotProvider != model.ProviderYooKassa {
		t.Errorf("provider = %s, want YOOKASSA", env.payments.gotProvider)
	}

	var resp paymentResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConfirmationURL != "https://yookassa.ru/pay" {
		t.Errorf("confirmation url = %q", resp.ConfirmationURL)
	}
}

func TestCreatePayment_AlreadyPaid(t *testing.T) {
	env := newTestEnv(t)
	env.payments.createErr = service.ErrAlreadyPaid

	body, _ := json.Marshal(createPaymentRequest{OrderID: uuid.New()})
	res := env.doAuthed(t, uuid.New(), http.MethodPost, "/api/payments/robokassa/create", bytes.NewReader(body))
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestRefundPayment_ManualRefund(t *testing.T) {
	env := newTestEnv(t)
	env.payments.refundErr = service.ErrManualRefundRequired

	res := env.doAuthed(t, uuid.New(), http.MethodPost, "/api/payments/"+uuid.NewString()+"/refund", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "MANUAL_REFUND_REQUIRED" {
		t.Errorf("code = %q, want MANUAL_REFUND_REQUIRED", resp.Code)
	}
}

func TestYooKassaWebhook_AlwaysOK(t *testing.T) {
	env := newTestEnv(t)
	env.payments.webhookErr = context.DeadlineExceeded

	body := strings.NewReader(`{"event":"payment.succeeded","object":{"id":"yk-1","status":"succeeded"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook/yookassa", body)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d even on processing error", w.Result().StatusCode, http.StatusOK)
	}
	if env.payments.gotWebhook == nil || env.payments.gotWebhook.Object.ID != "yk-1" {
		t.Errorf("webhook was not dispatched")
	}
}

func TestRobokassaWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.payments.callbackInv = "12345"

	form := url.Values{}
	form.Set("OutSum", "5000.00")
	form.Set("InvId", "12345")
	form.Set("SignatureValue", "abc")
	form.Set("Shp_orderId", uuid.NewString())

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook/robokassa", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "OK12345" {
		t.Errorf("body = %q, want OK12345", string(body))
	}
}

func TestRobokassaWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	env.payments.callbackErr = service.ErrInvalidSignature

	form := url.Values{}
	form.Set("OutSum", "5000.00")
	form.Set("InvId", "12345")
	form.Set("SignatureValue", "tampered")

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook/robokassa", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

func TestTelegramWebhook_PreCheckout(t *testing.T) {
	env := newTestEnv(t)

	body := strings.NewReader(`{"update_id":1,"pre_checkout_query":{"id":"q1","invoice_payload":"` + uuid.NewString() + `"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", body)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if env.payments.gotQuery == nil || env.payments.gotQuery.ID != "q1" {
		t.Errorf("pre-checkout query was not dispatched")
	}
}

func TestTelegramWebhook_SuccessfulPayment(t *testing.T) {
	env := newTestEnv(t)

	body := strings.NewReader(`{"update_id":2,"message":{"message_id":1,"successful_payment":{"currency":"XTR","invoice_payload":"` + uuid.NewString() + `","telegram_payment_charge_id":"charge-1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", body)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if env.payments.gotPayment == nil || env.payments.gotPayment.TelegramPaymentChargeID != "charge-1" {
		t.Errorf("stars payment was not dispatched")
	}
}
