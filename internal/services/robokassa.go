package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"skynet-vpn-bot/config"
)

const (
	robokassaPayURL       = "https://auth.robokassa.ru/Merchant/Index.aspx"
	robokassaRecurringURL = "https://auth.robokassa.ru/Merchant/Recurring"
)

type Robokassa struct {
	login        string
	password1    string
	password2    string
	test         bool
	payURL       string
	recurringURL string
	client       *http.Client
}

func NewRobokassa(cfg config.RobokassaConfig) *Robokassa {
	return &Robokassa{
		login:        cfg.Login,
		password1:    cfg.Password1,
		password2:    cfg.Password2,
		test:         cfg.Test,
		payURL:       robokassaPayURL,
		recurringURL: robokassaRecurringURL,
		client:       &http.Client{Timeout: 15 * time.Second},
	}
}

// Фискальный чек: патент, одна услуга, НДС 10%.
type receipt struct {
	Sno   string        `json:"sno"`
	Items []receiptItem `json:"items"`
}

type receiptItem struct {
	Name          string      `json:"name"`
	Quantity      int         `json:"quantity"`
	Sum           json.Number `json:"sum"`
	PaymentMethod string      `json:"payment_method"`
	PaymentObject string      `json:"payment_object"`
	Tax           string      `json:"tax"`
}

func (r *Robokassa) receipt(amount decimal.Decimal, description string) (string, error) {
	data, err := json.Marshal(receipt{
		Sno: "patent",
		Items: []receiptItem{{
			Name:          description,
			Quantity:      1,
			Sum:           json.Number(amount.StringFixed(2)),
			PaymentMethod: "full_payment",
			PaymentObject: "service",
			Tax:           "vat10",
		}},
	})
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(data)), nil
}

// формат ExpirationDate в Robokassa
const expirationLayout = "2006-01-02T15:04:05.0000000-07:00"

// PaymentURL создаёт ссылку на страницу оплаты счёта.
// После expires Robokassa не принимает оплату; нулевое время не ограничивает ссылку.
func (r *Robokassa) PaymentURL(invoiceID uint, amount decimal.Decimal, description string, recurring bool, expires time.Time) (string, error) {
	outSum := amount.StringFixed(2)
	inv := strconv.FormatUint(uint64(invoiceID), 10)
	rcpt, err := r.receipt(amount, description)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("MerchantLogin", r.login)
	params.Set("OutSum", outSum)
	params.Set("InvId", inv)
	params.Set("Description", description)
	params.Set("Receipt", rcpt)
	params.Set("SignatureValue", sign(r.login, outSum, inv, rcpt, r.password1))
	params.Set("Culture", "ru")
	if recurring {
		params.Set("Recurring", "true")
	}
	if !expires.IsZero() {
		params.Set("ExpirationDate", expires.Format(expirationLayout))
	}
	if r.test {
		params.Set("IsTest", "1")
	}
	return r.payURL + "?" + params.Encode(), nil
}

// VerifyResult проверяет подпись ResultURL: md5(OutSum:InvId:Password2).
// Значения берутся из формы как есть.
func (r *Robokassa) VerifyResult(outSum, invID, signature string) bool {
	return strings.EqualFold(sign(outSum, invID, r.password2), signature)
}

// ResultSignature считает подпись, которую Robokassa присылает на ResultURL.
func (r *Robokassa) ResultSignature(outSum, invID string) string {
	return sign(outSum, invID, r.password2)
}

// ChargeRecurring просит повторно списать сумму по родительскому счёту.
// Результат придёт на ResultURL как обычная оплата.
func (r *Robokassa) ChargeRecurring(ctx context.Context, invoiceID, previousInvoiceID uint, amount decimal.Decimal, description string) error {
	outSum := amount.StringFixed(2)
	inv := strconv.FormatUint(uint64(invoiceID), 10)
	rcpt, err := r.receipt(amount, description)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("MerchantLogin", r.login)
	form.Set("InvoiceID", inv)
	form.Set("PreviousInvoiceID", strconv.FormatUint(uint64(previousInvoiceID), 10))
	form.Set("OutSum", outSum)
	form.Set("Description", description)
	form.Set("Receipt", rcpt)
	form.Set("SignatureValue", sign(r.login, outSum, inv, rcpt, r.password1))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.recurringURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("robokassa recurring: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(strings.TrimSpace(string(body)), "OK") {
		return fmt.Errorf("robokassa recurring: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func sign(parts ...string) string {
	hash := md5.Sum([]byte(strings.Join(parts, ":")))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}
