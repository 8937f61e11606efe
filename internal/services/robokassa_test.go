package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skynet-vpn-bot/config"
	"skynet-vpn-bot/internal/db"
)

var robokassaTestConfig = config.RobokassaConfig{Login: "skynet", Password1: "p1", Password2: "p2"}

func TestPaymentURL(t *testing.T) {
	kassa := NewRobokassa(robokassaTestConfig)

	expires := time.Date(2024, 1, 2, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	raw, err := kassa.PaymentURL(42, decimal.RequireFromString("299"), "подписка skynetvpn на 1 месяц", true, expires)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "auth.robokassa.ru", u.Host)

	q := u.Query()
	assert.Equal(t, "skynet", q.Get("MerchantLogin"))
	assert.Equal(t, "299.00", q.Get("OutSum"))
	assert.Equal(t, "42", q.Get("InvId"))
	assert.Equal(t, "true", q.Get("Recurring"))
	assert.Equal(t, "2024-01-02T12:00:00.0000000+03:00", q.Get("ExpirationDate"))
	assert.Empty(t, q.Get("IsTest"))

	rcpt := q.Get("Receipt")
	assert.Equal(t, sign("skynet", "299.00", "42", rcpt, "p1"), q.Get("SignatureValue"))

	decoded, err := url.QueryUnescape(rcpt)
	require.NoError(t, err)
	var r struct {
		Sno   string `json:"sno"`
		Items []struct {
			Name string  `json:"name"`
			Sum  float64 `json:"sum"`
			Tax  string  `json:"tax"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(decoded), &r))
	assert.Equal(t, "patent", r.Sno)
	require.Len(t, r.Items, 1)
	assert.Equal(t, 299.0, r.Items[0].Sum)
	assert.Equal(t, "vat10", r.Items[0].Tax)
	assert.Equal(t, "подписка skynetvpn на 1 месяц", r.Items[0].Name)
}

func TestPaymentURLTestMode(t *testing.T) {
	cfg := robokassaTestConfig
	cfg.Test = true
	raw, err := NewRobokassa(cfg).PaymentURL(1, decimal.NewFromInt(100), "x", false, time.Time{})
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "1", u.Query().Get("IsTest"))
	assert.Empty(t, u.Query().Get("Recurring"))
	assert.Empty(t, u.Query().Get("ExpirationDate"))
}

type recurringEndpoint struct {
	mu    sync.Mutex
	forms []url.Values
	reply string
}

func (e *recurringEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	e.mu.Lock()
	e.forms = append(e.forms, r.PostForm)
	reply := e.reply
	e.mu.Unlock()
	_, _ = w.Write([]byte(reply))
}

func (e *recurringEndpoint) requests() []url.Values {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]url.Values(nil), e.forms...)
}

func TestChargeRecurring(t *testing.T) {
	ep := &recurringEndpoint{reply: "OK+43"}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	kassa := NewRobokassa(robokassaTestConfig)
	kassa.recurringURL = srv.URL

	require.NoError(t, kassa.ChargeRecurring(context.Background(), 43, 42, decimal.NewFromInt(299), "подписка"))
	forms := ep.requests()
	require.Len(t, forms, 1)
	f := forms[0]
	assert.Equal(t, "43", f.Get("InvoiceID"))
	assert.Equal(t, "42", f.Get("PreviousInvoiceID"))
	assert.Equal(t, "299.00", f.Get("OutSum"))
	assert.Equal(t, sign("skynet", "299.00", "43", f.Get("Receipt"), "p1"), f.Get("SignatureValue"))

	ep.mu.Lock()
	ep.reply = "ERROR"
	ep.mu.Unlock()
	assert.Error(t, kassa.ChargeRecurring(context.Background(), 44, 42, decimal.NewFromInt(299), "подписка"))
}

func TestRecurringChargerRun(t *testing.T) {
	h := newHarness(t, 1)
	ep := &recurringEndpoint{reply: "OK"}
	srv := httptest.NewServer(ep)
	defer srv.Close()
	h.kassa.recurringURL = srv.URL

	u := h.user(1001)
	parent := &db.Payment{UserID: u.ID, TariffID: h.tariff.ID, Amount: h.tariff.Price, AutoRenew: true}
	require.NoError(t, h.ledger.CreatePayment(h.ctx, parent))
	h.settle(parent)
	other := h.user(2002)
	h.settle(h.invoice(other, false))

	now := time.Date(2024, 1, 30, 12, 0, 0, 0, time.UTC)
	charger := NewRecurringCharger(h.ledger, h.kassa, h.msgr, func() time.Time { return now }, zap.NewNop())

	n, err := charger.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	forms := ep.requests()
	require.Len(t, forms, 1)
	assert.Equal(t, "1", forms[0].Get("PreviousInvoiceID"))

	// счёт уже выставлен, второй запуск в тот же день ничего не делает
	n, err = charger.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, ep.requests(), 1)

	// отказ Robokassa уходит операторам
	ep.mu.Lock()
	ep.reply = "ERROR"
	ep.mu.Unlock()
	third := h.user(3003)
	p3 := &db.Payment{UserID: third.ID, TariffID: h.tariff.ID, Amount: h.tariff.Price, AutoRenew: true}
	require.NoError(t, h.ledger.CreatePayment(h.ctx, p3))
	h.settle(p3)
	n, err = charger.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NotEmpty(t, h.msgr.operatorMessages())
}
