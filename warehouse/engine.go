package warehouse

import (
	"context"

	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/cockroachdb/errors"
)

// Engine is the SQL query engine holding the upstream tables and the output table.
type Engine interface {
	// TableExists reports whether table is visible in the engine's database.
	TableExists(ctx context.Context, table string) (bool, error)
	// QueryRow runs a query returning a single scalar and returns it as text.
	QueryRow(ctx context.Context, query string) (string, error)
	// QueryToFile runs query and writes its result set, header first, as CSV to path.
	QueryToFile(ctx context.Context, query, path string) error
	// Exec runs a statement and waits for it to finish.
	Exec(ctx context.Context, stmt string, args ...any) error
	// InTx runs fn so that all statements it issues commit together or not at all.
	InTx(ctx context.Context, fn func(tx Execer) error) error
	Dialect() Dialect
	Close() error
}

// Execer runs statements on an engine or inside one of its transactions.
type Execer interface {
	Exec(ctx context.Context, stmt string, args ...any) error
}

// Dialect holds the engine-specific SQL fragments the job needs.
type Dialect struct {
	Name string
	// RelatedVideoID extracts the video id from the related table's nested id column.
	RelatedVideoID string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

// ErrNoRows is returned by QueryRow when the query produced no data row.
var ErrNoRows = errors.New("query returned no rows")

// New opens the engine selected by cfg.Driver.
func New(ctx context.Context, cfg *config.WarehouseConfig) (Engine, error) {
	switch cfg.Driver {
	case config.WarehouseSQLite:
		return OpenSQLite(cfg.DSN)
	case config.WarehousePgx:
		return OpenPostgres(ctx, cfg.DSN)
	case config.WarehouseAthena:
		e, err := NewAthena(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, errors.Newf("unknown warehouse driver %q", cfg.Driver)
	}
}
