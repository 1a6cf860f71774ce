// Package robokassa реализует построение платёжных ссылок и проверку
// подписей Robokassa. Сетевых вызовов при создании платежа нет: провайдер
// обращается к сервису сам, когда покупатель завершает оплату.
package robokassa

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const paymentBaseURL = "https://auth.robokassa.ru/Merchant/Index.aspx"

// Client хранит реквизиты магазина Robokassa.
type Client struct {
	merchantLogin string
	password1     string
	password2     string
	testMode      bool
}

// New создаёт клиент Robokassa. Password1 подписывает исходящие ссылки,
// Password2 — входящие уведомления об оплате.
func New(merchantLogin, password1, password2 string, testMode bool) *Client {
	return &Client{
		merchantLogin: merchantLogin,
		password1:     password1,
		password2:     password2,
		testMode:      testMode,
	}
}

// FormatAmount переводит сумму в копейках в формат OutSum.
func FormatAmount(kopecks int64) string {
	return fmt.Sprintf("%d.%02d", kopecks/100, kopecks%100)
}

// PaymentURL строит ссылку на оплату счёта. Подпись: MD5 от
// "login:OutSum:InvId:password1[:Shp-параметры по алфавиту]".
func (c *Client) PaymentURL(amount int64, invID int64, description string, shpParams map[string]string) string {
	outSum := FormatAmount(amount)

	base := fmt.Sprintf("%s:%s:%d:%s", c.merchantLogin, outSum, invID, c.password1)
	if extra := joinSorted(shpParams); extra != "" {
		base += ":" + extra
	}

	q := url.Values{}
	q.Set("MerchantLogin", c.merchantLogin)
	q.Set("OutSum", outSum)
	q.Set("InvId", fmt.Sprintf("%d", invID))
	q.Set("Description", description)
	q.Set("SignatureValue", md5hex(base))
	q.Set("Culture", "ru")
	if c.testMode {
		q.Set("IsTest", "1")
	}
	for k, v := range shpParams {
		q.Set(k, v)
	}

	return paymentBaseURL + "?" + q.Encode()
}

// VerifyResultSignature проверяет подпись уведомления ResultURL:
// MD5 от "OutSum:InvId:password2[:Shp-параметры по алфавиту]".
// OutSum сверяется в том виде, в котором его прислал провайдер.
func (c *Client) VerifyResultSignature(outSum, invID, signature string, shpParams map[string]string) bool {
	base := fmt.Sprintf("%s:%s:%s", outSum, invID, c.password2)
	if extra := joinSorted(shpParams); extra != "" {
		base += ":" + extra
	}

	return strings.EqualFold(md5hex(base), signature)
}

func joinSorted(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, ":")
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
