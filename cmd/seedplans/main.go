// Command seedplans upserts the plan catalog from a YAML file. Plans are
// matched on provider_price_id, so running it twice is safe.
//
//	seedplans -file configs/plans.yaml
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/pinboard/pkg/config"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/pkg/pg"
	"github.com/dmitrymomot/pinboard/store/pgstore"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	PG       pg.Config
}

func main() {
	file := flag.String("file", "configs/plans.yaml", "plan catalog")
	flag.Parse()

	var cfg appConfig
	config.MustLoad(&cfg)
	log := logger.New(
		logger.WithEnvironment(cfg.Env, "seedplans"),
		logger.WithLevelName(cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		log.Error("connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pgstore.Migrate(ctx, pool, cfg.PG, log); err != nil {
		log.Error("migrate database", logger.Error(err))
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Error("open plan catalog", logger.Error(err))
		os.Exit(1)
	}
	defer f.Close()

	store := pgstore.New(pool)
	subs := subscription.NewService(store, store, store, subscription.WithLogger(log))

	n, err := subscription.LoadPlans(ctx, subs, f)
	if err != nil {
		log.Error("seed plans", logger.Error(err), logger.Count(n))
		os.Exit(1)
	}
	log.Info("plans seeded", logger.Count(n))
}
