package warehouse

import (
	"database/sql"
	"database/sql/driver"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	"go.uber.org/zap"
	"modernc.org/sqlite"
)

var (
	registerURLFuncsOnce sync.Once
	registerURLFuncsErr  error
)

// registerURLFuncs installs url_extract_host and url_extract_parameter for
// every sqlite connection opened afterwards.
func registerURLFuncs() error {
	registerURLFuncsOnce.Do(func() {
		registerURLFuncsErr = sqlite.RegisterDeterministicScalarFunction("url_extract_host", 1,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				return nullable(URLExtractHost(textArg(args[0]))), nil
			})
		if registerURLFuncsErr != nil {
			return
		}
		registerURLFuncsErr = sqlite.RegisterDeterministicScalarFunction("url_extract_parameter", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				return nullable(URLExtractParameter(textArg(args[0]), textArg(args[1]))), nil
			})
	})
	return registerURLFuncsErr
}

func textArg(v driver.Value) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func nullable(s string) driver.Value {
	if s == "" {
		return nil
	}
	return s
}

// URLExtractHost returns the host of rawURL without port, or "" when it has none.
func URLExtractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// URLExtractParameter returns the first value of query parameter name, or "".
func URLExtractParameter(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}

// OpenSQLite opens (or creates) the sqlite database at path.
func OpenSQLite(path string) (Engine, error) {
	if err := registerURLFuncs(); err != nil {
		return nil, errors.Wrap(err, "failed to register sqlite url functions")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite database %s", path)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open sqlite database %s", path)
	}

	zap.S().Infow("sqlite warehouse opened", "path", path)

	return &sqlEngine{
		db: db,
		dialect: Dialect{
			Name:           "sqlite",
			RelatedVideoID: "json_extract(id, '$.videoId')",
			Placeholder:    func(int) string { return "?" },
		},
		tableExistsQuery: "SELECT count(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?",
	}, nil
}
