// Package pg bootstraps PostgreSQL access over pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config and retries with a linear backoff
// until the database answers a ping. Migrate applies goose migrations from an
// fs.FS, usually an embed.FS shipped with the store package. Healthcheck
// returns a probe suitable for readiness endpoints.
//
// Transactions are carried in the context. Transactor.InTx begins a
// transaction, or joins one already present in ctx, so services in different
// packages can compose their writes into one unit without passing pgx.Tx
// around. Repositories call Transactor.Conn(ctx) to get whichever handle is
// active.
//
//	err := tr.InTx(ctx, func(ctx context.Context) error {
//	    if _, err := tr.Conn(ctx).Exec(ctx, "DELETE FROM pinned_posts WHERE user_id = $1", id); err != nil {
//	        return err
//	    }
//	    return history.Append(ctx, entry) // joins the same transaction
//	})
//
// Error helpers (IsDuplicateKeyError, IsNotFoundError...) classify driver
// errors so callers can translate them into domain errors.
package pg
