package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/pinboard/api"
	"github.com/dmitrymomot/pinboard/pkg/config"
	"github.com/dmitrymomot/pinboard/pkg/httpserver"
	"github.com/dmitrymomot/pinboard/pkg/idempotency"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/pkg/metrics"
	"github.com/dmitrymomot/pinboard/pkg/pg"
	"github.com/dmitrymomot/pinboard/pkg/redis"
	"github.com/dmitrymomot/pinboard/pkg/scheduler"
	"github.com/dmitrymomot/pinboard/store/pgstore"
	"github.com/dmitrymomot/pinboard/svc/checkout"
	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
	"github.com/dmitrymomot/pinboard/svc/webhook"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"production"`
	Name     string `env:"APP_NAME" envDefault:"pinboard"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RetentionDays   int `env:"RETENTION_DAYS" envDefault:"90"`
	RetryBatchSize  int `env:"RETRY_BATCH_SIZE" envDefault:"50"`
	ExpireBatchSize int `env:"EXPIRE_BATCH_SIZE" envDefault:"100"`

	ExpireSweepInterval time.Duration `env:"EXPIRE_SWEEP_INTERVAL" envDefault:"5m"`
	RetrySweepMinute    int           `env:"RETRY_SWEEP_MINUTE" envDefault:"15"`
	CleanupSweepHour    int           `env:"CLEANUP_SWEEP_HOUR" envDefault:"3"`
	JobTimeout          time.Duration `env:"JOB_TIMEOUT" envDefault:"2m"`

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

type checkoutConfig struct {
	Method   string `env:"CHECKOUT_METHOD" envDefault:"stripe"`
	Currency string `env:"CHECKOUT_CURRENCY" envDefault:"USD"`
	Stripe   checkout.StripeConfig
}

type configs struct {
	App      appConfig
	HTTP     httpserver.Config
	PG       pg.Config
	Redis    redis.Config
	Paddle   webhook.PaddleConfig
	Stripe   webhook.StripeConfig
	Checkout checkoutConfig
}

func main() {
	var cfg configs
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithEnvironment(cfg.App.Env, cfg.App.Name),
		logger.WithLevelName(cfg.App.LogLevel),
		logger.WithContextExtractors(api.RequestIDExtractor, api.UserIDExtractor),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg configs, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pgstore.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	store := pgstore.New(pool)
	retention := time.Duration(cfg.App.RetentionDays) * 24 * time.Hour

	subs := subscription.NewService(store, store, store,
		subscription.WithLogger(log),
		subscription.WithMetrics(m),
	)
	payments := payment.NewService(store, store, subs,
		payment.WithLogger(log),
		payment.WithMetrics(m),
	)

	checkoutOpts := []checkout.ServiceOption{
		checkout.WithMethod(payment.Method(cfg.Checkout.Method)),
		checkout.WithCurrency(cfg.Checkout.Currency),
		checkout.WithLogger(log),
	}
	if cfg.Checkout.Stripe.SecretKey != "" {
		gw, err := checkout.NewStripeGateway(cfg.Checkout.Stripe, nil)
		if err != nil {
			return err
		}
		checkoutOpts = append(checkoutOpts, checkout.WithGateway(gw))
	} else {
		log.Info("no checkout gateway configured, checkouts are completed client side")
	}
	purchases := checkout.NewService(subs, payments, store, checkoutOpts...)

	hookOpts := []webhook.ServiceOption{
		webhook.WithRetention(retention),
		webhook.WithRetryBatch(cfg.App.RetryBatchSize),
		webhook.WithLogger(log),
		webhook.WithMetrics(m),
	}
	providers, err := webhookProviders(cfg, log)
	if err != nil {
		return err
	}
	for _, p := range providers {
		hookOpts = append(hookOpts, webhook.WithProvider(p))
	}
	hooks := webhook.NewService(store, store, payments, subs, hookOpts...)

	sched := scheduler.New(scheduler.WithLogger(log), scheduler.WithObserver(m.JobRun))
	jobs := []struct {
		name     string
		schedule scheduler.Schedule
		fn       scheduler.JobFunc
	}{
		{"expire_subscriptions", scheduler.Every(cfg.App.ExpireSweepInterval), func(ctx context.Context) error {
			_, err := subs.ExpireDue(ctx, cfg.App.ExpireBatchSize)
			return err
		}},
		{"retry_webhooks", scheduler.HourlyAt(cfg.App.RetrySweepMinute), func(ctx context.Context) error {
			_, err := hooks.RetryFailed(ctx)
			return err
		}},
		{"cleanup_webhooks", scheduler.DailyAt(cfg.App.CleanupSweepHour, 0), func(ctx context.Context) error {
			_, err := hooks.Cleanup(ctx)
			return err
		}},
		{"cleanup_payments", scheduler.DailyAt(cfg.App.CleanupSweepHour, 30), func(ctx context.Context) error {
			_, err := payments.CleanupFailed(ctx, retention)
			return err
		}},
	}
	for _, j := range jobs {
		if err := sched.Register(j.name, j.schedule, j.fn, scheduler.WithTimeout(cfg.App.JobTimeout)); err != nil {
			return err
		}
	}

	router := api.NewRouter(api.Deps{
		Subscriptions:  subs,
		Payments:       payments,
		Checkout:       purchases,
		Webhooks:       hooks,
		Idempotency:    idempotency.NewRedisStore(rdb, cfg.App.Name+":idempotency:"),
		IdempotencyTTL: cfg.App.IdempotencyTTL,
		Metrics:        m,
		Checks: map[string]httpserver.Check{
			"postgres": pg.Healthcheck(pool),
			"redis":    redis.Healthcheck(rdb),
		},
		Logger: log,
	})
	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx, router) })
	g.Go(func() error { return sched.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// webhookProviders returns the providers whose secret is configured.
func webhookProviders(cfg configs, log *slog.Logger) ([]webhook.Provider, error) {
	var providers []webhook.Provider
	if cfg.Paddle.WebhookSecret != "" {
		p, err := webhook.NewPaddleProvider(cfg.Paddle)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.Stripe.WebhookSecret != "" {
		p, err := webhook.NewStripeProvider(cfg.Stripe)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		log.Warn("no webhook provider configured, provider callbacks will be rejected")
	}
	return providers, nil
}
