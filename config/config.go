package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jinzhu/configor"
)

// Supported backend drivers
const (
	WarehouseAthena = "athena"
	WarehouseSQLite = "sqlite"
	WarehousePgx    = "pgx"

	StorageS3   = "s3"
	StorageFile = "file"

	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// LogConfig - Logger settings
type LogConfig struct {
	Level string `yaml:"level" default:"info" env:"LOG_LEVEL"`
	File  string `yaml:"file" env:"LOG_FILE"` // Optional, stderr only when empty
}

// YouTubeConfig - Data API client settings
type YouTubeConfig struct {
	APIKeys           []string `yaml:"api_keys" env:"YOUTUBE_API_KEYS"`
	Endpoint          string   `yaml:"endpoint" default:"https://youtube.googleapis.com/" env:"YOUTUBE_ENDPOINT"`
	Timeout           int      `yaml:"timeout" default:"30" env:"YOUTUBE_TIMEOUT"` // Timeout in seconds
	UserAgent         string   `yaml:"user_agent" default:"youtube-video-snippet/1.0" env:"YOUTUBE_USER_AGENT"`
	RequestsPerSecond float64  `yaml:"requests_per_second" env:"YOUTUBE_REQUESTS_PER_SECOND"` // 0 disables pacing
}

// FetchConfig - Fetch loop policy
type FetchConfig struct {
	LogInterval               int  `yaml:"log_interval" default:"100" env:"FETCH_LOG_INTERVAL"`
	ServiceUnavailableWait    int  `yaml:"service_unavailable_wait" default:"30" env:"FETCH_SERVICE_UNAVAILABLE_WAIT"` // Seconds
	ServiceUnavailableRetries int  `yaml:"service_unavailable_retries" default:"10" env:"FETCH_SERVICE_UNAVAILABLE_RETRIES"`
	ConnectionResetWait       int  `yaml:"connection_reset_wait" default:"60" env:"FETCH_CONNECTION_RESET_WAIT"` // Seconds
	ConnectionResetRetries    int  `yaml:"connection_reset_retries" default:"10" env:"FETCH_CONNECTION_RESET_RETRIES"`
	KeepKeyOrder              bool `yaml:"keep_key_order" env:"FETCH_KEEP_KEY_ORDER"` // Disables the per-run key shuffle
}

// WarehouseConfig - Query engine used for discovery and catalog registration
type WarehouseConfig struct {
	Driver         string `yaml:"driver" default:"athena" env:"WAREHOUSE_DRIVER"`
	DSN            string `yaml:"dsn" env:"WAREHOUSE_DSN"` // sqlite file path or postgres URL
	Database       string `yaml:"database" env:"WAREHOUSE_DATABASE"`
	OutputLocation string `yaml:"output_location" env:"WAREHOUSE_OUTPUT_LOCATION"` // Athena query result location
	WorkGroup      string `yaml:"work_group" env:"WAREHOUSE_WORK_GROUP"`
	Region         string `yaml:"region" env:"AWS_REGION"`
	PollInterval   int    `yaml:"poll_interval" default:"500" env:"WAREHOUSE_POLL_INTERVAL"` // Milliseconds
}

// DiscoveryConfig - Upstream tables that reference videos. Empty disables a source.
type DiscoveryConfig struct {
	StreamTable  string `yaml:"stream_table" default:"validated_url" env:"DISCOVERY_STREAM_TABLE"`
	RelatedTable string `yaml:"related_table" default:"youtube_related_video" env:"DISCOVERY_RELATED_TABLE"`
	SearchTable  string `yaml:"search_table" env:"DISCOVERY_SEARCH_TABLE"`
}

// OutputConfig - Output table, staging and serialization
type OutputConfig struct {
	Table           string `yaml:"table" default:"youtube_video_snippet" env:"OUTPUT_TABLE"`
	PartitionColumn string `yaml:"partition_column" default:"creation_date" env:"OUTPUT_PARTITION_COLUMN"`
	Compression     string `yaml:"compression" default:"gzip" env:"OUTPUT_COMPRESSION"`
	OmitSource      bool   `yaml:"omit_source" env:"OUTPUT_OMIT_SOURCE"` // Drops the per-record source block
	StagingDir      string `yaml:"staging_dir" default:"tmp" env:"OUTPUT_STAGING_DIR"`
}

// StorageConfig - Object store receiving the published batches
type StorageConfig struct {
	Driver string `yaml:"driver" default:"s3" env:"STORAGE_DRIVER"`
	Bucket string `yaml:"bucket" env:"STORAGE_BUCKET"`
	Root   string `yaml:"root" env:"STORAGE_ROOT"` // Base directory for the file driver
	Region string `yaml:"region" env:"AWS_REGION"`
}

// Config - Application configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Output    OutputConfig    `yaml:"output"`
	Storage   StorageConfig   `yaml:"storage"`
}

// LoadConfig - Load configuration file
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	err := configor.New(&configor.Config{
		Debug:      false,
		Verbose:    false,
		Silent:     true,
		AutoReload: false,
	}).Load(cfg, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config %s", path)
	}
	return cfg, nil
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	if len(c.APIKeys()) == 0 {
		return errors.WithHint(errors.New("no YouTube API keys configured"),
			"set youtube.api_keys in the config file or YOUTUBE_API_KEYS")
	}
	return c.ValidateBackends()
}

// ValidateBackends checks the warehouse, storage and output settings only.
func (c *Config) ValidateBackends() error {
	switch c.Warehouse.Driver {
	case WarehouseAthena:
		if c.Warehouse.Database == "" || c.Warehouse.OutputLocation == "" {
			return errors.New("athena warehouse requires database and output_location")
		}
	case WarehouseSQLite, WarehousePgx:
		if c.Warehouse.DSN == "" {
			return errors.Newf("%s warehouse requires dsn", c.Warehouse.Driver)
		}
	default:
		return errors.Newf("unknown warehouse driver %q", c.Warehouse.Driver)
	}

	switch c.Storage.Driver {
	case StorageS3:
		if c.Storage.Bucket == "" {
			return errors.New("s3 storage requires bucket")
		}
	case StorageFile:
		if c.Storage.Root == "" {
			return errors.New("file storage requires root")
		}
	default:
		return errors.Newf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Warehouse.Driver == WarehouseAthena && c.Storage.Driver != StorageS3 {
		return errors.New("athena warehouse requires s3 storage")
	}

	switch c.Output.Compression {
	case CompressionGzip, CompressionZstd:
	default:
		return errors.Newf("unknown compression %q", c.Output.Compression)
	}

	if c.Output.Table == "" || c.Output.PartitionColumn == "" {
		return errors.New("output table and partition_column are required")
	}
	return nil
}

// APIKeys returns the configured keys with blanks removed.
func (c *Config) APIKeys() []string {
	keys := make([]string, 0, len(c.YouTube.APIKeys))
	for _, k := range c.YouTube.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
