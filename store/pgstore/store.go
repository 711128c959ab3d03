// Package pgstore implements the service repositories on PostgreSQL.
//
// Every method runs on the transaction carried by the context when there is
// one, so a service can compose several repository calls atomically through
// Store.InTx. Schema migrations are embedded and applied with Migrate.
package pgstore

import (
	"context"
	"embed"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/pinboard/pkg/pg"
	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
	"github.com/dmitrymomot/pinboard/svc/webhook"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	_ subscription.Store        = (*Store)(nil)
	_ subscription.PostProvider = (*Store)(nil)
	_ subscription.Transactor   = (*Store)(nil)
	_ payment.Store             = (*Store)(nil)
	_ webhook.Store             = (*Store)(nil)
)

type Store struct {
	tx *pg.Transactor
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{tx: pg.NewTransactor(pool)}
}

// InTx runs fn in a transaction. Nested calls join the outer one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.InTx(ctx, fn)
}

func (s *Store) db(ctx context.Context) pg.DBTX {
	return s.tx.Conn(ctx)
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, migrations, "migrations", cfg, log)
}
