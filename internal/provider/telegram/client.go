// Package telegram предоставляет клиент Bot API: выставление счетов
// в Telegram Stars, ответы на pre-checkout запросы, возвраты и отправка
// сообщений пользователям.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL — адрес Bot API.
const DefaultBaseURL = "https://api.telegram.org"

// Client инкапсулирует HTTP-взаимодействие с Bot API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент Bot API для указанного токена бота.
func NewClient(baseURL, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: rc.StandardClient(),
	}
}

// StarsAmount переводит сумму в копейках в звёзды по фиксированному курсу
// 1 звезда = 150 копеек, с округлением вверх.
func StarsAmount(kopecks int64) int64 {
	return (kopecks + 149) / 150
}

type apiResponse struct {
	Ok          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// CreateInvoiceLink выставляет счёт в Telegram Stars и возвращает ссылку
// на оплату. Payload вернётся в pre-checkout запросе и событии об оплате.
func (c *Client) CreateInvoiceLink(ctx context.Context, title, description, payload string, stars int64) (string, error) {
	req := map[string]any{
		"title":       title,
		"description": description,
		"payload":     payload,
		"currency":    "XTR",
		"prices": []map[string]any{
			{"label": title, "amount": stars},
		},
	}

	raw, err := c.call(ctx, "createInvoiceLink", req)
	if err != nil {
		return "", err
	}

	var link string
	if err := json.Unmarshal(raw, &link); err != nil {
		return "", fmt.Errorf("decode invoice link: %w", err)
	}

	return link, nil
}

// AnswerPreCheckoutQuery отвечает на pre-checkout запрос. Telegram ждёт
// ответ не дольше десяти секунд, иначе платёж отклоняется на его стороне.
func (c *Client) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	req := map[string]any{
		"pre_checkout_query_id": queryID,
		"ok":                    ok,
	}
	if !ok && errorMessage != "" {
		req["error_message"] = errorMessage
	}

	_, err := c.call(ctx, "answerPreCheckoutQuery", req)
	return err
}

// RefundStarPayment возвращает звёзды покупателю по идентификатору списания.
func (c *Client) RefundStarPayment(ctx context.Context, userTelegramID int64, chargeID string) error {
	req := map[string]any{
		"user_id":                    userTelegramID,
		"telegram_payment_charge_id": chargeID,
	}

	_, err := c.call(ctx, "refundStarPayment", req)
	return err
}

// SetWebhook регистрирует URL для получения обновлений бота.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) error {
	req := map[string]any{
		"url":             webhookURL,
		"allowed_updates": []string{"pre_checkout_query", "message"},
	}

	_, err := c.call(ctx, "setWebhook", req)
	return err
}

// SendMessage отправляет пользователю текстовое сообщение.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	req := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}

	_, err := c.call(ctx, "sendMessage", req)
	return err
}

func (c *Client) call(ctx context.Context, method string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if !apiResp.Ok {
		return nil, fmt.Errorf("telegram api error: %s", apiResp.Description)
	}

	return apiResp.Result, nil
}
