package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	return &Config{
		YouTube:   YouTubeConfig{APIKeys: []string{"key-a"}},
		Warehouse: WarehouseConfig{Driver: WarehouseSQLite, DSN: "warehouse.db"},
		Storage:   StorageConfig{Driver: StorageFile, Root: "data"},
		Output: OutputConfig{
			Table:           "youtube_video_snippet",
			PartitionColumn: "creation_date",
			Compression:     CompressionGzip,
		},
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
youtube:
  api_keys:
    - key-a
    - key-b
warehouse:
  driver: athena
  database: data
  output_location: s3://admin/athena/
storage:
  bucket: data-bucket
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"key-a", "key-b"}, cfg.YouTube.APIKeys)
	assert.Equal(t, "https://youtube.googleapis.com/", cfg.YouTube.Endpoint)
	assert.Equal(t, 100, cfg.Fetch.LogInterval)
	assert.Equal(t, 30, cfg.Fetch.ServiceUnavailableWait)
	assert.Equal(t, 10, cfg.Fetch.ServiceUnavailableRetries)
	assert.Equal(t, 60, cfg.Fetch.ConnectionResetWait)
	assert.Equal(t, 10, cfg.Fetch.ConnectionResetRetries)
	assert.False(t, cfg.Fetch.KeepKeyOrder)
	assert.Equal(t, "validated_url", cfg.Discovery.StreamTable)
	assert.Equal(t, "youtube_related_video", cfg.Discovery.RelatedTable)
	assert.Empty(t, cfg.Discovery.SearchTable)
	assert.Equal(t, "youtube_video_snippet", cfg.Output.Table)
	assert.Equal(t, "creation_date", cfg.Output.PartitionColumn)
	assert.Equal(t, CompressionGzip, cfg.Output.Compression)
	assert.Equal(t, StorageS3, cfg.Storage.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
youtube:
  api_keys: [key-a]
fetch:
  service_unavailable_wait: 5
  keep_key_order: true
output:
  compression: zstd
  omit_source: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Fetch.ServiceUnavailableWait)
	assert.True(t, cfg.Fetch.KeepKeyOrder)
	assert.Equal(t, CompressionZstd, cfg.Output.Compression)
	assert.True(t, cfg.Output.OmitSource)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no keys", mutate: func(c *Config) { c.YouTube.APIKeys = []string{" ", ""} }, wantErr: "no YouTube API keys"},
		{name: "athena without database", mutate: func(c *Config) { c.Warehouse.Driver = WarehouseAthena }, wantErr: "athena warehouse requires"},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Warehouse.DSN = "" }, wantErr: "sqlite warehouse requires dsn"},
		{name: "unknown warehouse", mutate: func(c *Config) { c.Warehouse.Driver = "bigquery" }, wantErr: `unknown warehouse driver "bigquery"`},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.Driver = StorageS3 }, wantErr: "s3 storage requires bucket"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Driver = "gcs" }, wantErr: `unknown storage driver "gcs"`},
		{name: "athena on file storage", mutate: func(c *Config) {
			c.Warehouse = WarehouseConfig{Driver: WarehouseAthena, Database: "data", OutputLocation: "s3://admin/"}
		}, wantErr: "athena warehouse requires s3 storage"},
		{name: "unknown compression", mutate: func(c *Config) { c.Output.Compression = "bz2" }, wantErr: `unknown compression "bz2"`},
		{name: "missing partition column", mutate: func(c *Config) { c.Output.PartitionColumn = "" }, wantErr: "partition_column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_APIKeys(t *testing.T) {
	cfg := &Config{YouTube: YouTubeConfig{APIKeys: []string{" key-a ", "", "key-b"}}}
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.APIKeys())
}
