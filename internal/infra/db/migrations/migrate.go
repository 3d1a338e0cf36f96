// Package migrations embeds the schema and applies it with goose.
package migrations

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed *.sql
var files embed.FS

const tableName = "schema_migrations"

// Up applies every pending migration. goose speaks database/sql, so the
// pool's connection config is reopened through the pgx stdlib driver.
func Up(ctx context.Context, pool *pgxpool.Pool, logger *zerolog.Logger) error {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("close migration connection")
		}
	}()

	goose.SetBaseFS(files)
	goose.SetTableName(tableName)
	goose.SetLogger(&gooseLogger{log: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

// Version reports the current schema version.
func Version(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()
	goose.SetBaseFS(files)
	goose.SetTableName(tableName)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

// gooseLogger routes goose's printf logging through zerolog.
type gooseLogger struct {
	log *zerolog.Logger
}

func (g *gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error().Str("component", "migrations").Msgf(format, v...)
}

func (g *gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Info().Str("component", "migrations").Msgf(format, v...)
}
