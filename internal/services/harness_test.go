package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"skynet-vpn-bot/config"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/db/dbtest"
	"skynet-vpn-bot/internal/lock"
	"skynet-vpn-bot/internal/logger"
	"skynet-vpn-bot/internal/panel"
	"skynet-vpn-bot/internal/panel/paneltest"
	"skynet-vpn-bot/internal/validator"
)

type sentMessage struct {
	ChatID int64
	Msg    logger.Message
}

type recordMessenger struct {
	mu    sync.Mutex
	users []sentMessage
	ops   []string
}

func (m *recordMessenger) SendUser(_ context.Context, chatID int64, msg logger.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, sentMessage{ChatID: chatID, Msg: msg})
	return nil
}

func (m *recordMessenger) SendOperators(_ context.Context, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, text)
}

func (m *recordMessenger) userMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.users...)
}

func (m *recordMessenger) operatorMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	ledger   *db.Ledger
	fakes    []*paneltest.Fake
	tariff   *db.Tariff
	msgr     *recordMessenger
	now      time.Time
	kassa    *Robokassa
	orch     *Orchestrator
	settler  *Settler
	exporter *Exporter
	admin    *AdminUpdater
	webhook  *PaymentWebhook
	logs     *observer.ObservedLogs
}

// newHarness поднимает ledger на SQLite и servers фейковых панелей.
// Первый сервер считает трафик.
func newHarness(t *testing.T, servers int) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		ledger: dbtest.New(t),
		msgr:   &recordMessenger{},
		now:    time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
	}

	adapters := map[uint]panel.Adapter{}
	for i := 1; i <= servers; i++ {
		f := paneltest.New(fmt.Sprintf("srv%d", i))
		srv := &db.Server{
			ID:            uint(i),
			Name:          f.Name,
			URL:           fmt.Sprintf("https://%s.example.com:2053", f.Name),
			InboundID:     1,
			MetersTraffic: i == 1,
			IsActive:      true,
		}
		require.NoError(t, h.ledger.SaveServer(h.ctx, srv))
		adapters[srv.ID] = f
		h.fakes = append(h.fakes, f)
	}

	h.tariff = &db.Tariff{ID: 1, Name: "Месяц", Days: 30, Price: decimal.NewFromInt(299), DeviceLimit: 3, TrafficGB: 100, IsActive: true}
	require.NoError(t, h.ledger.SaveTariff(h.ctx, h.tariff))

	core, logs := observer.New(zapcore.InfoLevel)
	h.logs = logs
	log := zap.New(core)
	h.kassa = NewRobokassa(config.RobokassaConfig{Login: "skynet", Password1: "p1", Password2: "p2"})
	h.orch = NewOrchestrator(h.ledger, panel.NewRegistry(adapters), log, OrchestratorConfig{
		Timeout:  200 * time.Millisecond,
		Location: time.UTC,
		Now:      func() time.Time { return h.now },
	})
	locker := lock.NewLocal()
	h.settler = NewSettler(h.ledger, h.orch, locker, h.msgr, "https://vpn.example.com", log)
	h.exporter = NewExporter(h.ledger, panel.NewRegistry(adapters), 200*time.Millisecond, log)
	h.admin = NewAdminUpdater(h.ledger, h.orch, locker, h.msgr, validator.New(), log)
	h.webhook = NewPaymentWebhook(h.kassa, h.settler, h.msgr, validator.New(), log)
	return h
}

func (h *harness) user(telegramID int64) *db.User {
	h.t.Helper()
	u, err := h.ledger.UpsertUser(h.ctx, telegramID, fmt.Sprintf("user%d", telegramID))
	require.NoError(h.t, err)
	return u
}

func (h *harness) reload(u *db.User) *db.User {
	h.t.Helper()
	fresh, err := h.ledger.UserByID(h.ctx, u.ID)
	require.NoError(h.t, err)
	return fresh
}

func (h *harness) invoice(u *db.User, recurring bool) *db.Payment {
	h.t.Helper()
	pay := &db.Payment{UserID: u.ID, TariffID: h.tariff.ID, Amount: h.tariff.Price, Recurring: recurring}
	require.NoError(h.t, h.ledger.CreatePayment(h.ctx, pay))
	return pay
}

func (h *harness) settle(pay *db.Payment) *SettlementOutcome {
	h.t.Helper()
	out, err := h.settler.Settle(h.ctx, SettleInput{InvoiceID: pay.ID, Amount: pay.Amount})
	require.NoError(h.t, err)
	return out
}

func (h *harness) links(u *db.User) []db.ClientLink {
	h.t.Helper()
	links, err := h.ledger.ClientLinks(h.ctx, u.ID)
	require.NoError(h.t, err)
	return links
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
