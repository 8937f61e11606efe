package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/panel"
)

type OrchestratorConfig struct {
	Timeout     time.Duration // на один вызов панели
	Location    *time.Location
	Now         func() time.Time
	NewClientID func() string
}

// Orchestrator приводит клиентов на всех серверах к целевому сроку и лимиту устройств
// и фиксирует результат в ledger.
type Orchestrator struct {
	ledger *db.Ledger
	panels PanelSource
	log    *zap.Logger
	cfg    OrchestratorConfig
}

func NewOrchestrator(ledger *db.Ledger, panels PanelSource, log *zap.Logger, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewClientID == nil {
		cfg.NewClientID = uuid.NewString
	}
	return &Orchestrator{ledger: ledger, panels: panels, log: log, cfg: cfg}
}

// Request — reconcile после оплаты тарифа.
type Request struct {
	User      *db.User
	Tariff    *db.Tariff
	Recurring bool
	PaymentID uint // 0 вне оплаты
}

// Target — желаемое состояние подписки.
type Target struct {
	SubEnd          time.Time
	DeviceLimit     int
	TrafficCapBytes int64
	TariffID        uint // 0: не менять
}

type ServerOutcome struct {
	ServerID   uint
	ServerName string
	OK         bool
	Kind       error // apperr.ErrPanelUnavailable или apperr.ErrPanelRejected
	Reason     string
}

type Report struct {
	SubEnd  time.Time
	User    *db.User
	Servers []ServerOutcome
}

// Failed возвращает серверы, которые не удалось обновить.
func (r *Report) Failed() []ServerOutcome {
	var out []ServerOutcome
	for _, s := range r.Servers {
		if !s.OK {
			out = append(out, s)
		}
	}
	return out
}

// reconciled — имена серверов, где вызов панели прошёл.
func (r *Report) reconciled() []string {
	var names []string
	for _, s := range r.Servers {
		if s.OK {
			names = append(names, s.ServerName)
		}
	}
	return names
}

// Today возвращает начало текущего дня в зоне сервиса.
func (o *Orchestrator) Today() time.Time {
	return StartOfDay(o.cfg.Now().In(o.cfg.Location))
}

// NewExpiry считает новый срок подписки:
// первая выдача, просроченная подписка и автосписание — от сегодняшнего дня,
// действующая подписка продлевается от текущего конца.
func NewExpiry(today time.Time, current *time.Time, hasLinks bool, days int, recurring bool) time.Time {
	today = StartOfDay(today)
	if recurring || !hasLinks || current == nil {
		return today.AddDate(0, 0, days)
	}
	end := StartOfDay(current.In(today.Location()))
	if end.After(today) {
		return end.AddDate(0, 0, days)
	}
	return today.AddDate(0, 0, days)
}

// Reconcile применяет оплаченный тариф ко всем серверам.
func (o *Orchestrator) Reconcile(ctx context.Context, req Request) (*Report, error) {
	if req.User == nil || req.Tariff == nil {
		return nil, fmt.Errorf("reconcile: user and tariff required: %w", apperr.ErrMalformedInput)
	}
	if req.Tariff.Days <= 0 {
		return nil, fmt.Errorf("tariff %d has %d days: %w", req.Tariff.ID, req.Tariff.Days, apperr.ErrMalformedInput)
	}
	links, err := o.ledger.ClientLinks(ctx, req.User.ID)
	if err != nil {
		return nil, fmt.Errorf("load links of user %d: %w", req.User.ID, err)
	}
	target := Target{
		SubEnd:          NewExpiry(o.Today(), req.User.SubEnd, len(links) > 0, req.Tariff.Days, req.Recurring),
		DeviceLimit:     req.Tariff.DeviceLimit,
		TrafficCapBytes: req.Tariff.TrafficCapBytes(),
		TariffID:        req.Tariff.ID,
	}
	return o.apply(ctx, req.User, links, target, req.PaymentID)
}

// Apply доводит серверы до явно заданного состояния (административное изменение).
func (o *Orchestrator) Apply(ctx context.Context, user *db.User, target Target, paymentID uint) (*Report, error) {
	links, err := o.ledger.ClientLinks(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load links of user %d: %w", user.ID, err)
	}
	return o.apply(ctx, user, links, target, paymentID)
}

func (o *Orchestrator) apply(ctx context.Context, user *db.User, links []db.ClientLink, target Target, paymentID uint) (*Report, error) {
	servers, err := o.ledger.ActiveServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load servers: %w", err)
	}
	byServer := make(map[uint]db.ClientLink, len(links))
	for _, l := range links {
		byServer[l.ServerID] = l
	}

	// связи резервируются по порядку серверов: ID связи задаёт порядок профилей
	outcomes := make([]ServerOutcome, len(servers))
	adapters := make([]panel.Adapter, len(servers))
	reserved := make([]*db.ClientLink, len(servers))
	for i, srv := range servers {
		out := ServerOutcome{ServerID: srv.ID, ServerName: srv.Name}
		adapter, err := o.panels.Adapter(srv.ID)
		if err != nil {
			outcomes[i] = o.fail(out, err, false)
			continue
		}
		if l, ok := byServer[srv.ID]; ok {
			reserved[i] = &l
		} else {
			// метка клиента строится из ID связи
			reserved[i], err = o.ledger.ReserveClientLink(ctx, user.ID, srv.ID, o.cfg.NewClientID())
			if err != nil {
				outcomes[i] = o.fail(out, err, false)
				continue
			}
		}
		adapters[i] = adapter
	}

	var g errgroup.Group
	for i, srv := range servers {
		if adapters[i] == nil {
			continue
		}
		i, srv := i, srv
		g.Go(func() error {
			outcomes[i] = o.provision(ctx, user, srv, adapters[i], reserved[i], target)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range outcomes {
		fields := []zap.Field{
			zap.Uint("user_id", user.ID),
			zap.Uint("server_id", out.ServerID),
			zap.String("server", out.ServerName),
			zap.Bool("ok", out.OK),
		}
		if out.OK {
			o.log.Info("server reconciled", fields...)
			continue
		}
		failed++
		o.log.Warn("server reconcile failed", append(fields, zap.String("reason", out.Reason))...)
	}

	report := &Report{SubEnd: target.SubEnd, Servers: outcomes}
	updated, err := o.ledger.CommitSubscription(ctx, db.SubscriptionCommit{
		UserID:        user.ID,
		Version:       user.Version,
		SubEnd:        target.SubEnd,
		DeviceLimit:   target.DeviceLimit,
		TariffID:      target.TariffID,
		PaymentID:     paymentID,
		FailedServers: failed,
	})
	if err != nil {
		// панели уже получили новый срок, ledger нет: нужна ручная сверка
		o.log.Error("subscription commit failed after panel calls",
			zap.Uint("user_id", user.ID),
			zap.Uint("invoice_id", paymentID),
			zap.Time("sub_end", target.SubEnd),
			zap.Int("servers", len(outcomes)),
			zap.Int("failed", failed),
			zap.Strings("reconciled", report.reconciled()),
			zap.Error(err),
		)
		return report, err
	}
	report.User = updated
	o.log.Info("subscription committed",
		zap.Uint("user_id", user.ID),
		zap.Uint("invoice_id", paymentID),
		zap.Time("sub_end", target.SubEnd),
		zap.Int("servers", len(outcomes)),
		zap.Int("failed", failed),
	)
	return report, nil
}

// provision создаёт или обновляет клиента на одном сервере.
func (o *Orchestrator) provision(ctx context.Context, user *db.User, srv db.Server, adapter panel.Adapter, link *db.ClientLink, target Target) ServerOutcome {
	out := ServerOutcome{ServerID: srv.ID, ServerName: srv.Name}

	spec := panel.ClientSpec{
		ID:           link.TunID,
		Label:        link.Label(srv.Name),
		DeviceLimit:  target.DeviceLimit,
		ExpiryMillis: target.SubEnd.UnixMilli(),
		TelegramID:   user.TelegramID,
		DisplayName:  user.Name,
	}
	if srv.MetersTraffic {
		spec.TrafficCapBytes = target.TrafficCapBytes
	}

	var err error
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	if link.Provisioned {
		err = adapter.UpdateClient(callCtx, spec)
	} else {
		err = adapter.CreateClient(callCtx, spec)
		if errors.Is(err, panel.ErrClientExists) {
			// клиент уже создан прошлой попыткой
			err = adapter.UpdateClient(callCtx, spec)
		}
	}
	if err != nil {
		return o.fail(out, err, errors.Is(callCtx.Err(), context.DeadlineExceeded))
	}

	if !link.Provisioned {
		if err := o.ledger.MarkLinkProvisioned(ctx, link.ID); err != nil {
			o.log.Warn("mark link provisioned", zap.Uint("link_id", link.ID), zap.Error(err))
		}
	}
	out.OK = true
	return out
}

func (o *Orchestrator) fail(out ServerOutcome, err error, deadline bool) ServerOutcome {
	var netErr net.Error
	switch {
	case deadline || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		out.Kind = apperr.ErrPanelUnavailable
		out.Reason = "timeout"
	case errors.Is(err, apperr.ErrPanelRejected):
		out.Kind = apperr.ErrPanelRejected
		out.Reason = err.Error()
	default:
		out.Kind = apperr.ErrPanelUnavailable
		out.Reason = err.Error()
	}
	return out
}
