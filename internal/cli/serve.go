package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skynet-vpn-bot/internal/api"
	"skynet-vpn-bot/internal/bot"
	"skynet-vpn-bot/internal/logger"
)

const (
	shutdownTimeout = 15 * time.Second
	expiringDays    = 3
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot, the HTTP server and the scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	log := a.log
	log.Info("bot authorized", zap.String("account", a.botAPI.Self.UserName))

	scheduler, err := a.scheduler(ctx)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	if a.cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: a.cfg.HTTPAddr,
		Handler: api.New(api.Deps{
			Ledger:   a.ledger,
			Webhook:  a.webhook,
			Checkout: a.checkout,
			Exporter: a.exporter,
			Admin:    a.updater,
			Profile:  a.cfg.Profile,
			APIKey:   a.cfg.AdminAPIKey,
			Location: a.cfg.Location,
			Log:      log,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tg := bot.New(a.botAPI, a.ledger, a.checkout, a.admin, bot.Config{
		PublicURL: a.cfg.PublicURL,
		Location:  a.cfg.Location,
	}, log)
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := a.botAPI.GetUpdatesChan(u)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		tg.Run(ctx, updates)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		a.botAPI.StopReceivingUpdates()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// scheduler регистрирует фоновые задачи. Каждая задача ловит панику и сообщает об ошибке операторам.
func (a *app) scheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(a.cfg.Location))
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{"0 10 * * *", "notify expiring", func(ctx context.Context) error {
			n, err := a.jobs.NotifyExpiringSubscriptions(ctx, expiringDays)
			a.log.Info("expiring notices sent", zap.Int("count", n))
			return err
		}},
		{"30 3 * * *", "disable expired", func(ctx context.Context) error {
			n, err := a.jobs.DisableExpiredSubscriptions(ctx)
			a.log.Info("expired subscriptions closed", zap.Int("count", n))
			return err
		}},
		{"0 12 * * *", "recurring charge", func(ctx context.Context) error {
			n, err := a.charger.Run(ctx)
			a.log.Info("recurring charges requested", zap.Int("count", n))
			return err
		}},
		{"@hourly", "cleanup pending", func(ctx context.Context) error {
			n, err := a.jobs.CleanupPendingPayments(ctx)
			a.log.Info("pending payments removed", zap.Int64("count", n))
			return err
		}},
		{"0 3 * * *", "auto backup", a.backup.Auto},
	}
	for _, j := range jobs {
		j := j
		_, err := c.AddFunc(j.spec, func() {
			defer logger.NotifyOnPanic("cron " + j.name)
			if err := j.run(ctx); err != nil {
				a.log.Error("scheduled job failed", zap.String("job", j.name), zap.Error(err))
				logger.NotifyAdmin(fmt.Sprintf("Задача %q завершилась с ошибкой: %v", j.name, err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	return c, nil
}
