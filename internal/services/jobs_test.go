package services

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db"
)

func (h *harness) jobs(now time.Time) *Jobs {
	return NewJobs(h.ledger, h.msgr, time.UTC, func() time.Time { return now }, zap.NewNop())
}

func TestNotifyExpiringSubscriptions(t *testing.T) {
	h := newHarness(t, 1)
	soon := h.user(1001)
	h.settle(h.invoice(soon, false)) // до 31.01
	h.now = time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)
	later := h.user(2002)
	h.settle(h.invoice(later, false)) // до 19.02

	jobs := h.jobs(time.Date(2024, 1, 29, 10, 0, 0, 0, time.UTC))
	n, err := jobs.NotifyExpiringSubscriptions(h.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := h.msgr.userMessages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, int64(1001), last.ChatID)
	assert.Contains(t, last.Msg.Text, "31.01.2024")

	// второй раз не напоминаем
	n, err = jobs.NotifyExpiringSubscriptions(h.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// продление сбрасывает отметку
	h.now = time.Date(2024, 1, 29, 11, 0, 0, 0, time.UTC)
	h.settle(h.invoice(h.reload(soon), false))
	assert.False(t, h.reload(soon).NotifiedExpiring)
}

func TestDisableExpiredSubscriptions(t *testing.T) {
	h := newHarness(t, 1)
	u := h.user(1001)
	h.settle(h.invoice(u, false))
	require.NoError(t, h.ledger.SetAutoRenew(h.ctx, u.ID, true))

	n, err := h.jobs(time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)).DisableExpiredSubscriptions(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "последний день подписки ещё действует")

	n, err = h.jobs(time.Date(2024, 2, 1, 0, 5, 0, 0, time.UTC)).DisableExpiredSubscriptions(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := h.reload(u)
	assert.Zero(t, stored.TariffID)
	assert.False(t, stored.AutoRenew)
	require.NotNil(t, stored.SubEnd)
	assert.True(t, stored.SubEnd.Equal(day(2024, 1, 31)))

	msgs := h.msgr.userMessages()
	assert.Equal(t, lapsedNotice, msgs[len(msgs)-1].Msg.Text)
}

func TestCleanupPendingPayments(t *testing.T) {
	h := newHarness(t, 1)
	u := h.user(1001)
	paid := h.invoice(u, false)
	h.settle(paid)
	pending := h.invoice(u, false)

	n, err := h.jobs(time.Now()).CleanupPendingPayments(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.jobs(time.Now().Add(pendingTTL + time.Hour)).CleanupPendingPayments(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := h.ledger.PaymentByID(h.ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, stale.Abandoned)
	kept, err := h.ledger.PaymentByID(h.ctx, paid.ID)
	require.NoError(t, err)
	assert.False(t, kept.Abandoned)

	// уже помеченные счета повторно не считаются
	n, err = h.jobs(time.Now().Add(pendingTTL + 2*time.Hour)).CleanupPendingPayments(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLateConfirmationAfterCleanup(t *testing.T) {
	h := newHarness(t, 1)
	u := h.user(1001)
	pending := h.invoice(u, false)

	n, err := h.jobs(time.Now().Add(pendingTTL + time.Hour)).CleanupPendingPayments(h.ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	out := h.settle(pending)
	assert.False(t, out.Replayed)
	assert.True(t, out.SubEnd.Equal(day(2024, 1, 31)))
	stored := h.reload(u)
	require.NotNil(t, stored.SubEnd)
	assert.True(t, stored.SubEnd.Equal(day(2024, 1, 31)))
	assert.Equal(t, 1, h.fakes[0].Clients())

	pay, err := h.ledger.PaymentByID(h.ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, pay.Paid)
}

func TestListClients(t *testing.T) {
	h := newHarness(t, 1)
	active := h.user(1001)
	h.settle(h.invoice(active, false))
	lapsed := h.user(2002)
	h.settle(h.invoice(lapsed, false))
	require.NoError(t, h.ledger.ClearTariff(h.ctx, lapsed.ID))
	h.user(3003) // без подписки

	rows, err := ListClients(h.ctx, h.ledger, time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ClientRow{TelegramID: 1001, Name: "user1001", DeviceLimit: 3, SubEnd: "31.01.2024", Tariff: "1 месяц"}, rows[0])
	assert.Equal(t, "Подписка отменена", rows[1].Tariff)
}

func TestCheckoutCreate(t *testing.T) {
	h := newHarness(t, 1)
	h.user(1001)
	checkout := NewCheckout(h.ledger, h.kassa, zap.NewNop())

	link, err := checkout.Create(h.ctx, 1001, h.tariff.ID, true)
	require.NoError(t, err)
	pay, err := h.ledger.PaymentByID(h.ctx, link.InvoiceID)
	require.NoError(t, err)
	assert.False(t, pay.Paid)
	assert.True(t, pay.AutoRenew)
	assert.True(t, pay.Amount.Equal(h.tariff.Price))

	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "299.00", u.Query().Get("OutSum"))
	expires, err := time.Parse(expirationLayout, u.Query().Get("ExpirationDate"))
	require.NoError(t, err)
	assert.WithinDuration(t, pay.CreatedAt.Add(paymentLinkTTL), expires, time.Second)
	assert.Less(t, paymentLinkTTL, pendingTTL)

	retired := &db.Tariff{ID: 2, Name: "Старый", Days: 90, Price: h.tariff.Price, DeviceLimit: 1}
	require.NoError(t, h.ledger.SaveTariff(h.ctx, retired))
	_, err = checkout.Create(h.ctx, 1001, retired.ID, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = checkout.Create(h.ctx, 999, h.tariff.ID, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDaysLabel(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{30, "1 месяц"},
		{90, "3 месяца"},
		{180, "6 месяцев"},
		{365, "1 год"},
		{1, "1 день"},
		{3, "3 дня"},
		{14, "14 дней"},
		{21, "21 день"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DaysLabel(tt.days))
	}
}

func TestServerStatuses(t *testing.T) {
	h := newHarness(t, 2)
	h.settle(h.invoice(h.user(1001), false))
	h.settle(h.invoice(h.user(2002), false))

	statuses, err := ServerStatuses(h.ctx, h.ledger)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "srv1.example.com", statuses[0].Host)
	assert.Equal(t, int64(2), statuses[0].Clients)
	assert.True(t, statuses[0].Meters)

	text := FormatServerStatuses(statuses)
	assert.Contains(t, text, "#1 srv1")
	assert.Contains(t, text, "клиентов: 2")
	assert.Equal(t, "Серверы не настроены", FormatServerStatuses(nil))
}
