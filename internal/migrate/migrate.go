// Package migrate creates and upgrades the client_storage schema.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"path"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/agromarket/migrations"
)

// Up opens dsn with the pgx driver and applies every pending migration.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	defer db.Close()

	p, err := newProvider(db)
	if err != nil {
		return err
	}
	return apply(ctx, p, log)
}

func newProvider(db *sql.DB) (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func apply(ctx context.Context, p *goose.Provider, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	results, err := p.Up(ctx)
	for _, r := range results {
		log.Info("client_storage migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("file", path.Base(r.Source.Path)),
			zap.Duration("dur", r.Duration),
		)
	}
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	if len(results) == 0 {
		log.Debug("client_storage schema up to date")
	}
	return nil
}
