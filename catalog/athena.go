package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	"github.com/cnosuke/youtube-video-snippet/warehouse"
	"go.uber.org/zap"
)

// Registrar makes published batches queryable through the output table.
type Registrar interface {
	Register(ctx context.Context) error
}

const sourceColumn = `    source struct<
        twitter_stream: boolean,
        youtube_related_video: boolean,
        twitter_search: boolean
    >,
`

const createTableTemplate = `CREATE EXTERNAL TABLE IF NOT EXISTS %s
(
    kind string,
    etag string,
    id   string,
    retrieved_at timestamp,
%s    description string,
    snippet struct<
        publishedAt:  timestamp,
        title:        string,
        description:  string,
        channelId:    string,
        channelTitle: string,
        categoryId:   string,
        tags:         array<string>,
        liveBroadcastContent: string,
        defaultLanguage:      string,
        defaultAudioLanguage: string,
        localized:  struct <title: string, description: string>,
        thumbnails: struct<
            default:  struct <url: string, width: int, height: int>,
            medium:   struct <url: string, width: int, height: int>,
            high:     struct <url: string, width: int, height: int>,
            standard: struct <url: string, width: int, height: int>,
            maxres:   struct <url: string, width: int, height: int>
        >
    >
)
PARTITIONED BY (%s string)
ROW FORMAT SERDE 'org.openx.data.jsonserde.JsonSerDe'
WITH SERDEPROPERTIES (
    'serialization.format' = '1',
    'ignore.malformed.json' = 'true'
)
LOCATION '%s'
TBLPROPERTIES ('has_encrypted_data'='false')`

// AthenaRegistrar recreates the external table over the published prefix
// and discovers its partitions.
type AthenaRegistrar struct {
	engine          warehouse.Engine
	table           string
	partitionColumn string
	location        string
	omitSource      bool
}

func NewAthenaRegistrar(engine warehouse.Engine, table, partitionColumn, location string, omitSource bool) *AthenaRegistrar {
	if !strings.HasSuffix(location, "/") {
		location += "/"
	}
	return &AthenaRegistrar{
		engine:          engine,
		table:           table,
		partitionColumn: partitionColumn,
		location:        location,
		omitSource:      omitSource,
	}
}

// Statements returns the registration statements in execution order.
func (r *AthenaRegistrar) Statements() []string {
	source := sourceColumn
	if r.omitSource {
		source = ""
	}
	return []string{
		"DROP TABLE IF EXISTS " + r.table,
		fmt.Sprintf(createTableTemplate, r.table, source, r.partitionColumn, r.location),
		"MSCK REPAIR TABLE " + r.table,
	}
}

func (r *AthenaRegistrar) Register(ctx context.Context) error {
	zap.S().Infow("recreating output table", "table", r.table, "location", r.location)
	for _, stmt := range r.Statements() {
		if err := r.engine.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to register table %s", r.table)
		}
	}
	return nil
}
