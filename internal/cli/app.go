package cli

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"skynet-vpn-bot/config"
	"skynet-vpn-bot/internal/admin"
	"skynet-vpn-bot/internal/catalog"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/lock"
	"skynet-vpn-bot/internal/logger"
	"skynet-vpn-bot/internal/panel"
	"skynet-vpn-bot/internal/services"
	"skynet-vpn-bot/internal/validator"
)

// redisLockTTL ограничивает жизнь блокировки, если процесс упал, не сняв её.
const redisLockTTL = 2 * time.Minute

// base — конфиг, логгер и БД; этого хватает для migrate и sync-catalog.
type base struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	ledger   *db.Ledger
	validate *validator.Validator
}

func newBase() (*base, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	ledger, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &base{cfg: cfg, log: log, ledger: ledger, validate: validator.New()}, nil
}

func (b *base) close() {
	_ = b.ledger.Close()
	_ = b.log.Sync()
}

// prepare мигрирует схему и загружает каталог серверов и тарифов.
func (b *base) prepare(ctx context.Context) error {
	if err := b.ledger.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	cat, err := catalog.Load(b.cfg.CatalogFile, b.validate)
	if err != nil {
		return err
	}
	return catalog.Sync(ctx, cat, b.ledger, b.log)
}

type app struct {
	*base
	botAPI   *tgbotapi.BotAPI
	notifier *logger.Notifier
	locker   lock.Locker
	closers  []func()

	kassa    *services.Robokassa
	orch     *services.Orchestrator
	settler  *services.Settler
	webhook  *services.PaymentWebhook
	checkout *services.Checkout
	exporter *services.Exporter
	updater  *services.AdminUpdater
	charger  *services.RecurringCharger
	jobs     *services.Jobs
	backup   *admin.Backup
	admin    *admin.Handler
}

func newApp(ctx context.Context) (*app, error) {
	b, err := newBase()
	if err != nil {
		return nil, err
	}
	a := &app{base: b}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg, log := a.cfg, a.log
	if err := a.prepare(ctx); err != nil {
		return err
	}

	servers, err := a.ledger.ActiveServers(ctx)
	if err != nil {
		return fmt.Errorf("load servers: %w", err)
	}
	registry, err := panel.BuildRegistry(servers, cfg.PanelTimeout, log)
	if err != nil {
		return fmt.Errorf("build panel registry: %w", err)
	}
	log.Info("panel registry ready", zap.Int("servers", registry.Len()))

	if cfg.RedisURL != "" {
		r, err := lock.NewRedis(ctx, cfg.RedisURL, redisLockTTL, log)
		if err != nil {
			return err
		}
		a.locker = r
		a.closers = append(a.closers, func() { _ = r.Close() })
	} else {
		a.locker = lock.NewLocal()
	}

	a.botAPI, err = tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	var mailer *logger.Mailer
	if cfg.SMTP.Enabled() {
		mailer = logger.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.To)
	}
	a.notifier = logger.NewNotifier(a.botAPI, cfg.AdminTelegramIDs, mailer, log)
	logger.InitNotifier(a.notifier)

	a.kassa = services.NewRobokassa(cfg.Robokassa)
	a.orch = services.NewOrchestrator(a.ledger, registry, log, services.OrchestratorConfig{
		Timeout:  cfg.PanelTimeout,
		Location: cfg.Location,
	})
	a.settler = services.NewSettler(a.ledger, a.orch, a.locker, a.notifier, cfg.PublicURL, log)
	a.webhook = services.NewPaymentWebhook(a.kassa, a.settler, a.notifier, a.validate, log)
	a.checkout = services.NewCheckout(a.ledger, a.kassa, log)
	a.exporter = services.NewExporter(a.ledger, registry, cfg.PanelTimeout, log)
	a.updater = services.NewAdminUpdater(a.ledger, a.orch, a.locker, a.notifier, a.validate, log)
	a.charger = services.NewRecurringCharger(a.ledger, a.kassa, a.notifier, time.Now, log)
	a.jobs = services.NewJobs(a.ledger, a.notifier, cfg.Location, time.Now, log)
	a.backup = admin.NewBackup(cfg.DatabaseURL, cfg.BackupDir, log)
	a.admin = admin.NewHandler(a.botAPI, a.ledger, a.updater, a.backup, admin.Config{
		IsAdmin:   cfg.IsAdmin,
		PublicURL: cfg.PublicURL,
		Location:  cfg.Location,
	}, log)
	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		c()
	}
	a.base.close()
}
