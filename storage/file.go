package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	"go.uber.org/zap"
)

// FileStore keeps objects as files under a root directory.
type FileStore struct {
	root string
}

func NewFileStore(root string) (Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid storage root %s", root)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage root %s", abs)
	}
	zap.S().Infow("file store opened", "root", abs)
	return &FileStore{root: abs}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes through a temp file and renames it so readers never see partial objects.
func (s *FileStore) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", key)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrapf(err, "failed to publish %s", key)
	}
	return nil
}

func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", key)
	}
	return f, nil
}

func (s *FileStore) Location(prefix string) string {
	return "file://" + filepath.ToSlash(s.path(prefix))
}
