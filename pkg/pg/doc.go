// Package pg bootstraps PostgreSQL access on top of pgx/v5: a retrying pool
// constructor, goose migrations (embedded or from disk), a readiness probe and
// helpers that classify driver errors.
//
//	var cfg pg.Config
//	_ = env.Parse(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, migrations.FS, slog.Default()); err != nil {
//	    return err
//	}
//
// The saga instance store and the timer queue both rely on
// [IsDuplicateKeyError] and [IsNotFoundError] to turn driver errors into their
// own sentinels.
package pg
