package sink

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	"github.com/cnosuke/youtube-video-snippet/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PartitionDateLayout is the layout of the partition value in object keys.
const PartitionDateLayout = "2006-01-02"

// ObjectKey builds <table>/<partitionColumn>=<date>/<id hex>-<count>.json<ext>.
func ObjectKey(table, partitionColumn string, date time.Time, id uuid.UUID, count int, ext string) string {
	return fmt.Sprintf("%s/%s=%s/%x-%d.json%s",
		table, partitionColumn, date.UTC().Format(PartitionDateLayout), id[:], count, ext)
}

// Publisher uploads a compressed batch as exactly one object.
type Publisher struct {
	store           storage.Store
	table           string
	partitionColumn string
	newID           func() uuid.UUID
}

func NewPublisher(store storage.Store, table, partitionColumn string) *Publisher {
	return &Publisher{
		store:           store,
		table:           table,
		partitionColumn: partitionColumn,
		newID:           uuid.New,
	}
}

// Publish uploads path under the partition of runDate and returns the object key.
// count is the number of identifiers in the batch.
func (p *Publisher) Publish(ctx context.Context, path string, count int, runDate time.Time, ext string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", path)
	}

	key := ObjectKey(p.table, p.partitionColumn, runDate, p.newID(), count, ext)
	zap.S().Infow("uploading batch",
		"path", path,
		"location", p.store.Location(key),
		"bytes", info.Size())

	if err := p.store.Put(ctx, key, f, info.Size()); err != nil {
		return "", err
	}
	return key, nil
}
