package telegram

// Update — обновление, доставляемое Bot API на webhook. Из всего множества
// типов обновлений сервису нужны pre-checkout запросы и сообщения
// с подтверждением оплаты.
type Update struct {
	UpdateID         int64             `json:"update_id"`
	PreCheckoutQuery *PreCheckoutQuery `json:"pre_checkout_query,omitempty"`
	Message          *Message          `json:"message,omitempty"`
}

// PreCheckoutQuery — запрос подтверждения перед списанием звёзд.
type PreCheckoutQuery struct {
	ID             string `json:"id"`
	From           *User  `json:"from,omitempty"`
	Currency       string `json:"currency"`
	TotalAmount    int64  `json:"total_amount"`
	InvoicePayload string `json:"invoice_payload"`
}

// Message — сообщение бота; интересует только вложенное подтверждение оплаты.
type Message struct {
	MessageID         int64              `json:"message_id"`
	From              *User              `json:"from,omitempty"`
	SuccessfulPayment *SuccessfulPayment `json:"successful_payment,omitempty"`
}

// SuccessfulPayment — подтверждение успешного списания звёзд.
type SuccessfulPayment struct {
	Currency                string `json:"currency"`
	TotalAmount             int64  `json:"total_amount"`
	InvoicePayload          string `json:"invoice_payload"`
	TelegramPaymentChargeID string `json:"telegram_payment_charge_id"`
}

// User — пользователь Telegram.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}
