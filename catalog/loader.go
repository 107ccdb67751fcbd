package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	"github.com/cnosuke/youtube-video-snippet/sink"
	"github.com/cnosuke/youtube-video-snippet/storage"
	"github.com/cnosuke/youtube-video-snippet/warehouse"
	cerrors "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// loadColumns are the top-level record fields copied into SQL tables.
// Nested blocks (source, snippet) are stored as JSON text.
var loadColumns = []string{"kind", "etag", "id", "retrieved_at", "source", "snippet", "description"}

// maxLineSize bounds a single JSON line read back from a published object.
const maxLineSize = 4 << 20

// LoadingRegistrar rebuilds the output table in a SQL engine from every
// object published under <table>/.
type LoadingRegistrar struct {
	engine          warehouse.Engine
	store           storage.Store
	table           string
	partitionColumn string
}

func NewLoadingRegistrar(engine warehouse.Engine, store storage.Store, table, partitionColumn string) *LoadingRegistrar {
	return &LoadingRegistrar{
		engine:          engine,
		store:           store,
		table:           table,
		partitionColumn: partitionColumn,
	}
}

// scratchSuffix names the table the reload is built in before it replaces the live one.
const scratchSuffix = "_loading"

func (r *LoadingRegistrar) createStatement(table string) string {
	cols := make([]string, 0, len(loadColumns)+1)
	for _, c := range loadColumns {
		cols = append(cols, c+" TEXT")
	}
	cols = append(cols, r.partitionColumn+" TEXT")
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", "))
}

func (r *LoadingRegistrar) insertStatement(table string) string {
	ph := r.engine.Dialect().Placeholder
	cols := append(append([]string(nil), loadColumns...), r.partitionColumn)
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = ph(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// Register rebuilds the output table in one transaction. If any object
// cannot be read the previous table is left as it was.
func (r *LoadingRegistrar) Register(ctx context.Context) error {
	zap.S().Infow("recreating output table", "table", r.table, "engine", r.engine.Dialect().Name)

	keys, err := r.store.List(ctx, r.table+"/")
	if err != nil {
		return err
	}

	scratch := r.table + scratchSuffix
	var rows, skipped int
	err = r.engine.InTx(ctx, func(tx warehouse.Execer) error {
		// Build the replacement
		if err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+scratch); err != nil {
			return errors.Wrapf(err, "failed to drop %s", scratch)
		}
		if err := tx.Exec(ctx, r.createStatement(scratch)); err != nil {
			return errors.Wrapf(err, "failed to create %s", scratch)
		}

		insert := r.insertStatement(scratch)
		for _, key := range keys {
			n, bad, err := r.loadObject(ctx, tx, key, insert)
			if err != nil {
				return err
			}
			rows += n
			skipped += bad
		}

		// Swap it in
		if err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+r.table); err != nil {
			return errors.Wrapf(err, "failed to drop %s", r.table)
		}
		if err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", scratch, r.table)); err != nil {
			return errors.Wrapf(err, "failed to rename %s to %s", scratch, r.table)
		}
		return nil
	})
	if err != nil {
		return err
	}

	zap.S().Infow("output table loaded",
		"table", r.table,
		"objects", len(keys),
		"rows", rows,
		"skipped", skipped)
	return nil
}

// PartitionValue extracts the value of column from a key like t/<column>=<value>/x.json.gz.
func PartitionValue(key, column string) (string, bool) {
	for _, seg := range strings.Split(key, "/") {
		if v, ok := strings.CutPrefix(seg, column+"="); ok {
			return v, true
		}
	}
	return "", false
}

// loadObject inserts every record of one published object. Malformed lines
// are skipped like the Athena SerDe does; read and insert failures abort.
func (r *LoadingRegistrar) loadObject(ctx context.Context, tx warehouse.Execer, key, insert string) (int, int, error) {
	partition, ok := PartitionValue(key, r.partitionColumn)
	if !ok {
		zap.S().Warnw("object outside any partition, skipped", "key", key)
		return 0, 0, nil
	}

	obj, err := r.store.Open(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	defer obj.Close()
	body, err := sink.NewReader(key, obj)
	if err != nil {
		return 0, 0, err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	n, skipped, line := 0, 0, 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		args, err := rowArgs(raw)
		if err != nil {
			zap.S().Warnw("malformed record skipped", "key", key, "line", line, "error", err)
			skipped++
			continue
		}
		args = append(args, partition)
		if err := tx.Exec(ctx, insert, args...); err != nil {
			return n, skipped, errors.Wrapf(err, "failed to load %s", key)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, skipped, errors.Wrapf(err, "failed to read %s", key)
	}
	return n, skipped, nil
}

// rowArgs maps one JSON record to loadColumns values. Absent fields are NULL;
// strings are stored unquoted and nested values as compact JSON.
func rowArgs(line []byte) ([]any, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["id"]; !ok {
		return nil, cerrors.New("record has no id")
	}

	args := make([]any, 0, len(loadColumns)+1)
	for _, col := range loadColumns {
		raw, ok := fields[col]
		if !ok || string(raw) == "null" {
			args = append(args, nil)
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			args = append(args, s)
			continue
		}
		args = append(args, string(raw))
	}
	return args, nil
}
