package warehouse

import (
	"context"
	"database/sql"
	"encoding/csv"
	"os"

	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	cerrors "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// sqlEngine implements Engine over database/sql. The sqlite and postgres
// engines differ only in driver setup, dialect and the table lookup query.
type sqlEngine struct {
	db               *sql.DB
	dialect          Dialect
	tableExistsQuery string
}

func (e *sqlEngine) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, e.tableExistsQuery, table).Scan(&n); err != nil {
		return false, errors.Wrapf(err, "failed to look up table %s", table)
	}
	return n > 0, nil
}

func (e *sqlEngine) QueryRow(ctx context.Context, query string) (string, error) {
	zap.S().Debugw("running query", "engine", e.dialect.Name, "query", query)

	var v sql.NullString
	err := e.db.QueryRowContext(ctx, query).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNoRows
	}
	if err != nil {
		return "", errors.Wrap(err, "query failed")
	}
	return v.String, nil
}

func (e *sqlEngine) QueryToFile(ctx context.Context, query, path string) error {
	zap.S().Debugw("running query to file", "engine", e.dialect.Name, "path", path)

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "query failed")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, "failed to read result columns")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	record := make([]string, len(cols))
	n := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return errors.Wrap(err, "failed to scan row")
		}
		for i, v := range values {
			record[i] = v.String
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(err, "failed to write csv row")
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to iterate rows")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "failed to flush csv")
	}

	zap.S().Debugw("query result written", "path", path, "rows", n)
	return nil
}

func (e *sqlEngine) Exec(ctx context.Context, stmt string, args ...any) error {
	zap.S().Debugw("executing statement", "engine", e.dialect.Name, "statement", stmt)

	if _, err := e.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "statement failed")
	}
	return nil
}

func (e *sqlEngine) InTx(ctx context.Context, fn func(tx Execer) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(&txExecer{tx: tx, engine: e.dialect.Name}); err != nil {
		// A canceled context has already rolled the transaction back
		if rerr := tx.Rollback(); rerr != nil && !cerrors.Is(rerr, sql.ErrTxDone) {
			zap.S().Warnw("rollback failed", "engine", e.dialect.Name, "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// txExecer issues statements on an open transaction.
type txExecer struct {
	tx     *sql.Tx
	engine string
}

func (t *txExecer) Exec(ctx context.Context, stmt string, args ...any) error {
	zap.S().Debugw("executing statement in transaction", "engine", t.engine, "statement", stmt)

	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "statement failed")
	}
	return nil
}

func (e *sqlEngine) Dialect() Dialect {
	return e.dialect
}

func (e *sqlEngine) Close() error {
	return e.db.Close()
}
