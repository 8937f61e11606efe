package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skynet-vpn-bot/config"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/db/dbtest"
	"skynet-vpn-bot/internal/lock"
	"skynet-vpn-bot/internal/logger"
	"skynet-vpn-bot/internal/panel"
	"skynet-vpn-bot/internal/panel/paneltest"
	"skynet-vpn-bot/internal/services"
	"skynet-vpn-bot/internal/validator"
)

type nopMessenger struct{}

func (nopMessenger) SendUser(context.Context, int64, logger.Message) error { return nil }
func (nopMessenger) SendOperators(context.Context, string)                 {}

// opsMessenger запоминает сообщения операторам.
type opsMessenger struct {
	nopMessenger
	mu  sync.Mutex
	ops []string
}

func (m *opsMessenger) SendOperators(_ context.Context, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, text)
}

func (m *opsMessenger) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

type env struct {
	ledger *db.Ledger
	kassa  *services.Robokassa
	fakes  []*paneltest.Fake
	ops    *opsMessenger
	router *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	e := &env{ledger: dbtest.New(t), ops: &opsMessenger{}}

	adapters := map[uint]panel.Adapter{}
	for i := 1; i <= 2; i++ {
		f := paneltest.New("srv" + strconv.Itoa(i))
		require.NoError(t, e.ledger.SaveServer(ctx, &db.Server{ID: uint(i), Name: f.Name, URL: "https://" + f.Name + ".example.com", InboundID: 1, IsActive: true}))
		adapters[uint(i)] = f
		e.fakes = append(e.fakes, f)
	}
	require.NoError(t, e.ledger.SaveTariff(ctx, &db.Tariff{ID: 1, Name: "Месяц", Days: 30, Price: decimal.NewFromInt(299), DeviceLimit: 3, IsActive: true}))

	log := zap.NewNop()
	registry := panel.NewRegistry(adapters)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	orch := services.NewOrchestrator(e.ledger, registry, log, services.OrchestratorConfig{
		Timeout:  200 * time.Millisecond,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
	e.kassa = services.NewRobokassa(config.RobokassaConfig{Login: "skynet", Password1: "p1", Password2: "p2"})
	locker := lock.NewLocal()
	v := validator.New()
	settler := services.NewSettler(e.ledger, orch, locker, nopMessenger{}, "https://vpn.example.com", log)

	srv := New(Deps{
		Ledger:   e.ledger,
		Webhook:  services.NewPaymentWebhook(e.kassa, settler, nopMessenger{}, v, log),
		Checkout: services.NewCheckout(e.ledger, e.kassa, log),
		Exporter: services.NewExporter(e.ledger, registry, 200*time.Millisecond, log),
		Admin:    services.NewAdminUpdater(e.ledger, orch, locker, e.ops, v, log),
		Profile:  config.ProfileConfig{Title: "⚡️ SkynetVPN", Announce: "Новости в канале", AnnounceURL: "https://t.me/skynetvpn"},
		APIKey:   "secret",
		Location: time.UTC,
		Log:      log,
	})
	e.router = srv.Router()
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) paid(t *testing.T, telegramID int64) *db.User {
	t.Helper()
	ctx := context.Background()
	u, err := e.ledger.UpsertUser(ctx, telegramID, "user")
	require.NoError(t, err)
	pay := &db.Payment{UserID: u.ID, TariffID: 1, Amount: decimal.NewFromInt(299)}
	require.NoError(t, e.ledger.CreatePayment(ctx, pay))
	w := e.do(resultRequest(e, pay.ID, "299.000000"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return u
}

func resultRequest(e *env, invID uint, outSum string) *http.Request {
	inv := strconv.FormatUint(uint64(invID), 10)
	form := url.Values{}
	form.Set("OutSum", outSum)
	form.Set("InvId", inv)
	form.Set("SignatureValue", e.kassa.ResultSignature(outSum, inv))
	req := httptest.NewRequest(http.MethodPost, "/payment/result", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestPaymentResult(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u, err := e.ledger.UpsertUser(ctx, 1001, "user")
	require.NoError(t, err)
	pay := &db.Payment{UserID: u.ID, TariffID: 1, Amount: decimal.NewFromInt(299)}
	require.NoError(t, e.ledger.CreatePayment(ctx, pay))

	inv := strconv.FormatUint(uint64(pay.ID), 10)
	for i := 0; i < 2; i++ {
		w := e.do(resultRequest(e, pay.ID, "299.00"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK"+inv, w.Body.String())
	}
	stored, err := e.ledger.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	form := url.Values{"OutSum": {"299.00"}, "InvId": {inv}, "SignatureValue": {strings.Repeat("F", 32)}}
	bad := httptest.NewRequest(http.MethodPost, "/payment/result", strings.NewReader(form.Encode()))
	bad.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := e.do(bad)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "OK")
}

func TestCheckoutRedirect(t *testing.T) {
	e := newEnv(t)
	_, err := e.ledger.UpsertUser(context.Background(), 1001, "user")
	require.NoError(t, err)

	w := e.do(httptest.NewRequest(http.MethodGet, "/payment/checkout?telegram_id=1001&tariff_id=1&auto_renew=true", nil))
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "auth.robokassa.ru", loc.Host)
	assert.Equal(t, "true", loc.Query().Get("Recurring"))

	w = e.do(httptest.NewRequest(http.MethodGet, "/payment/checkout?telegram_id=1001&tariff_id=9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(httptest.NewRequest(http.MethodGet, "/payment/checkout?tariff_id=1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionExport(t *testing.T) {
	e := newEnv(t)
	u := e.paid(t, 1001)

	for _, path := range []string{"/api/subscription", "/api/subscribtion"} {
		w := e.do(httptest.NewRequest(http.MethodGet, path+"?token="+u.Token, nil))
		require.Equal(t, http.StatusOK, w.Code)

		lines := strings.Split(w.Body.String(), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "vless://"))
		assert.Contains(t, lines[0], "srv1.example.com")
		assert.Contains(t, lines[1], "srv2.example.com")

		h := w.Header()
		assert.Equal(t, "text/plain; charset=utf-8", h.Get("Content-Type"))
		assert.Equal(t, "base64:"+base64.StdEncoding.EncodeToString([]byte("⚡️ SkynetVPN")), h.Get("profile-title"))
		assert.Equal(t, "base64:"+base64.StdEncoding.EncodeToString([]byte("Новости в канале")), h.Get("announce"))
		assert.Equal(t, "https://t.me/skynetvpn", h.Get("announce-url"))
		assert.Equal(t, "expire="+strconv.FormatInt(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC).Unix(), 10), h.Get("subscription-userinfo"))
		assert.Equal(t, "12", h.Get("profile-update-interval"))
		assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
		assert.Equal(t, "max-age=63072000; includeSubDomains; preload", h.Get("Strict-Transport-Security"))
	}

	w := e.do(httptest.NewRequest(http.MethodGet, "/api/subscription?token=1001", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	for _, f := range e.fakes {
		f.FailAll()
	}
	w = e.do(httptest.NewRequest(http.MethodGet, "/api/subscription?token="+u.Token, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(httptest.NewRequest(http.MethodGet, "/api/subscription", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminEndpointsRequireKey(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		desc string
		key  string
		want int
	}{
		{"no key", "", http.StatusUnauthorized},
		{"wrong key", "guess", http.StatusUnauthorized},
		{"valid key", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
		if tt.key != "" {
			req.Header.Set("X-Api-Key", tt.key)
		}
		w := e.do(req)
		assert.Equal(t, tt.want, w.Code, tt.desc)
	}
}

func TestUpdateClientAndList(t *testing.T) {
	e := newEnv(t)
	e.paid(t, 1001)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/update_client", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", "secret")
		return e.do(req)
	}

	w := post(`{"user_id": 1001, "devices": 5, "sub_time": "2024-31-12"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = post(`{"user_id": 404, "devices": 5, "sub_time": "2024-12-31"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = post(`{"user_id": 1001, "devices": 5, "sub_time": "2024-12-31"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp updateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2025-01-01", resp.SubEnd)
	assert.Empty(t, resp.FailedServers)

	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	req.Header.Set("X-Api-Key", "secret")
	w = e.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []services.ClientRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1001), rows[0].TelegramID)
	assert.Equal(t, 5, rows[0].DeviceLimit)
	assert.Equal(t, "01.01.2025", rows[0].SubEnd)
	assert.Equal(t, "1 месяц", rows[0].Tariff)
}

func TestUpdateClientMalformedBodyNotifiesOperators(t *testing.T) {
	e := newEnv(t)
	u := e.paid(t, 1001)
	before, err := e.ledger.UserByID(context.Background(), u.ID)
	require.NoError(t, err)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/update_client", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", "secret")
		return e.do(req)
	}

	w := post(`{"user_id": 1001, "devices": "5", "sub_time": "2024-12-31"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	msgs := e.ops.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "1001")
	assert.Contains(t, msgs[0], "devices")

	w = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	msgs = e.ops.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "отклонён")

	after, err := e.ledger.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.DeviceLimit, after.DeviceLimit)
}

func TestRecoveryAnswers500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
