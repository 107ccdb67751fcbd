package sink

import (
	"io"
	"os"
	"strings"

	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	cerrors "github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Extension returns the file suffix, including the dot, for a compression format.
func Extension(format string) (string, error) {
	switch format {
	case config.CompressionGzip:
		return ".gz", nil
	case config.CompressionZstd:
		return ".zst", nil
	default:
		return "", cerrors.Newf("unknown compression %q", format)
	}
}

// Compress writes path+<ext> in the given format and deletes path.
func Compress(path, format string) (string, error) {
	ext, err := Extension(format)
	if err != nil {
		return "", err
	}
	dst := path + ext

	if err := compressFile(path, dst, format); err != nil {
		os.Remove(dst)
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", errors.Wrapf(err, "failed to remove %s", path)
	}

	zap.S().Infow("staging file compressed", "path", dst, "format", format)
	return dst, nil
}

func compressFile(src, dst, format string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	defer out.Close()

	var w io.WriteCloser
	switch format {
	case config.CompressionZstd:
		w, err = zstd.NewWriter(out)
		if err != nil {
			return errors.Wrap(err, "failed to create zstd writer")
		}
	default:
		w = gzip.NewWriter(out)
	}

	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return errors.Wrapf(err, "failed to compress %s", src)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "failed to finish %s", dst)
	}
	return errors.Wrapf(out.Close(), "failed to close %s", dst)
}

// NewReader wraps r with the decompressor matching key's extension.
// Keys without a known extension are read as-is.
func NewReader(key string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(key, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read gzip object %s", key)
		}
		return zr, nil
	case strings.HasSuffix(key, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read zstd object %s", key)
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}
