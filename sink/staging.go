package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	"github.com/cnosuke/youtube-video-snippet/types"
	"go.uber.org/zap"
)

// Staging appends FetchResults as JSON lines to a local file during the run.
type Staging struct {
	path    string
	file    *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
	results int
	records int
}

// NewStaging creates (truncating) <dir>/<table>.json, creating dir if missing.
func NewStaging(dir, table string) (*Staging, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrapf(err, "failed to create staging directory %s", dir)
	}
	path := filepath.Join(dir, table+".json")
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create staging file %s", path)
	}

	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	zap.S().Debugw("staging file created", "path", path)
	return &Staging{path: path, file: f, buf: buf, enc: enc}, nil
}

// Emit writes every record of r, one JSON document per line.
func (s *Staging) Emit(r *types.FetchResult) error {
	for _, rec := range r.Records() {
		if err := s.enc.Encode(rec); err != nil {
			return errors.Wrapf(err, "failed to write record for video %s", r.VideoID)
		}
		s.records++
	}
	s.results++
	return nil
}

// Close flushes and closes the staging file.
func (s *Staging) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.buf.Flush()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return errors.Wrapf(err, "failed to close staging file %s", s.path)
}

// Remove closes and deletes the staging file. Used when a run aborts.
func (s *Staging) Remove() error {
	_ = s.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove staging file %s", s.path)
	}
	return nil
}

func (s *Staging) Path() string {
	return s.path
}

// Results is the number of identifiers emitted so far.
func (s *Staging) Results() int {
	return s.results
}

// Records is the number of JSON lines written so far.
func (s *Staging) Records() int {
	return s.records
}
