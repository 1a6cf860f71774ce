// Package yookassa предоставляет клиент платёжного API ЮKassa.
package yookassa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL — адрес продуктового API ЮKassa.
const DefaultBaseURL = "https://api.yookassa.ru/v3"

// Client инкапсулирует HTTP-взаимодействие с API ЮKassa.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
}

// NewClient создаёт клиент ЮKassa с Basic-авторизацией магазина.
// Сетевые сбои ретраятся с ограничением по времени запроса.
func NewClient(baseURL, shopID, secretKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	auth := base64.StdEncoding.EncodeToString([]byte(shopID + ":" + secretKey))

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: "Basic " + auth,
		httpClient: rc.StandardClient(),
	}
}

// Amount — денежная сумма в формате ЮKassa: строка с двумя знаками после точки.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Confirmation описывает способ подтверждения платежа покупателем.
type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// PaymentRequest — запрос на создание платежа.
type PaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Description  string            `json:"description"`
	Confirmation Confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PaymentObject — платёж в представлении ЮKassa.
type PaymentObject struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Confirmation *Confirmation     `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RefundRequest — запрос на возврат платежа.
type RefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    Amount `json:"amount"`
}

// RefundObject — возврат в представлении ЮKassa.
type RefundObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	PaymentID string `json:"payment_id"`
	Amount    Amount `json:"amount"`
}

// Webhook — уведомление ЮKassa о смене статуса платежа.
type Webhook struct {
	Type   string        `json:"type"`
	Event  string        `json:"event"`
	Object PaymentObject `json:"object"`
}

// FormatAmount переводит сумму в копейках в строковый формат ЮKassa.
func FormatAmount(kopecks int64) string {
	return fmt.Sprintf("%d.%02d", kopecks/100, kopecks%100)
}

// CreatePayment создаёт платёж. Ключ идемпотентности позволяет провайдеру
// подавить дубликаты при сетевых повторах.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest, idempotenceKey string) (*PaymentObject, error) {
	var result PaymentObject
	if err := c.post(ctx, "/payments", req, idempotenceKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPayment запрашивает текущее состояние платежа по его идентификатору.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentObject, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result PaymentObject
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}

// CreateRefund создаёт возврат платежа.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest, idempotenceKey string) (*RefundObject, error) {
	var result RefundObject
	if err := c.post(ctx, "/refunds", req, idempotenceKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, idempotenceKey string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.authHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", idempotenceKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
