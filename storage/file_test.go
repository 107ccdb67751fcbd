package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutListOpen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "youtube_video_snippet/creation_date=2021-05-02/b-1.json.gz", strings.NewReader("second"), 6))
	require.NoError(t, s.Put(ctx, "youtube_video_snippet/creation_date=2021-05-01/a-2.json.gz", strings.NewReader("first"), 5))
	require.NoError(t, s.Put(ctx, "other/x.json.gz", strings.NewReader("x"), 1))

	keys, err := s.List(ctx, "youtube_video_snippet/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"youtube_video_snippet/creation_date=2021-05-01/a-2.json.gz",
		"youtube_video_snippet/creation_date=2021-05-02/b-1.json.gz",
	}, keys)

	r, err := s.Open(ctx, keys[0])
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Join(root, "other"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_OpenMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open(context.Background(), "missing.json.gz")
	assert.Error(t, err)
}

func TestFileStore_Location(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(root, "youtube_video_snippet")), s.Location("youtube_video_snippet"))
}
