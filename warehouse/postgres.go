package warehouse

import (
	"context"
	"strconv"

	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// postgresURLFuncs mirrors the Presto URL functions used by discovery queries.
const postgresURLFuncs = `
CREATE OR REPLACE FUNCTION url_extract_host(url text) RETURNS text AS $$
  SELECT substring(url from '^[A-Za-z][A-Za-z0-9+.-]*://(?:[^@/?#]*@)?([^:/?#]+)')
$$ LANGUAGE sql IMMUTABLE;

CREATE OR REPLACE FUNCTION url_extract_parameter(url text, name text) RETURNS text AS $$
  SELECT substring(url from ('[?&]' || name || '=([^&#]*)'))
$$ LANGUAGE sql IMMUTABLE;
`

// OpenPostgres connects to dsn through the pgx database/sql driver and
// installs the URL helper functions.
func OpenPostgres(ctx context.Context, dsn string) (Engine, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse postgres dsn")
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}
	if _, err := db.ExecContext(ctx, postgresURLFuncs); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to install url functions")
	}

	zap.S().Infow("postgres warehouse opened",
		"host", connConfig.Host,
		"database", connConfig.Database)

	return &sqlEngine{
		db: db,
		dialect: Dialect{
			Name:           "postgres",
			RelatedVideoID: "(id::jsonb ->> 'videoId')",
			Placeholder:    func(n int) string { return "$" + strconv.Itoa(n) },
		},
		tableExistsQuery: "SELECT count(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
	}, nil
}
