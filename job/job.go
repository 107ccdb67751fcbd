package job

import (
	"context"
	"os"
	"time"

	"github.com/cnosuke/youtube-video-snippet/catalog"
	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/cnosuke/youtube-video-snippet/discovery"
	"github.com/cnosuke/youtube-video-snippet/fetcher"
	ierrors "github.com/cnosuke/youtube-video-snippet/internal/errors"
	"github.com/cnosuke/youtube-video-snippet/sink"
	"github.com/cnosuke/youtube-video-snippet/storage"
	"github.com/cnosuke/youtube-video-snippet/types"
	"github.com/cnosuke/youtube-video-snippet/warehouse"
	"github.com/cnosuke/youtube-video-snippet/youtube"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps are the external systems a Job talks to.
type Deps struct {
	Engine  warehouse.Engine
	Store   storage.Store
	Factory youtube.Factory
	// Options are passed through to the fetch loop.
	Options []fetcher.Option
	Now     func() time.Time
}

// Job runs one incremental harvest: discover, fetch, publish, register.
type Job struct {
	cfg       *config.Config
	deps      Deps
	discovery *discovery.Discovery
	loop      *fetcher.Loop
	publisher *sink.Publisher
	registrar catalog.Registrar
}

// Summary describes a finished run.
type Summary struct {
	Pending    int
	Processed  int
	Snippets   int
	Tombstones int
	Rotations  int
	ObjectKey  string // Empty when nothing was published
}

// New builds a Job with the engine, store and YouTube client selected by cfg.
func New(ctx context.Context, cfg *config.Config) (*Job, error) {
	engine, err := warehouse.New(ctx, &cfg.Warehouse)
	if err != nil {
		zap.S().Errorw("failed to open warehouse", "driver", cfg.Warehouse.Driver, "error", err)
		return nil, err
	}
	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		engine.Close()
		zap.S().Errorw("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		return nil, err
	}

	deps := Deps{
		Engine: engine,
		Store:  store,
		Factory: youtube.NewFactory(&youtube.Config{
			Endpoint:  cfg.YouTube.Endpoint,
			Timeout:   cfg.YouTube.Timeout,
			UserAgent: cfg.YouTube.UserAgent,
		}),
	}
	if rps := cfg.YouTube.RequestsPerSecond; rps > 0 {
		deps.Options = append(deps.Options, fetcher.WithLimiter(rate.NewLimiter(rate.Limit(rps), 1)))
	}
	return NewWithDeps(cfg, deps), nil
}

// NewWithDeps builds a Job around already constructed dependencies.
func NewWithDeps(cfg *config.Config, deps Deps) *Job {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	opts := append([]fetcher.Option{fetcher.WithClock(deps.Now)}, deps.Options...)
	if cfg.Output.OmitSource {
		opts = append(opts, fetcher.WithoutSource())
	}

	return &Job{
		cfg:       cfg,
		deps:      deps,
		discovery: discovery.New(deps.Engine, cfg.Output.Table, &cfg.Discovery),
		loop:      fetcher.NewLoop(deps.Factory, PolicyFromConfig(&cfg.Fetch), opts...),
		publisher: sink.NewPublisher(deps.Store, cfg.Output.Table, cfg.Output.PartitionColumn),
		registrar: catalog.New(cfg.Warehouse.Driver, deps.Engine, deps.Store, &cfg.Output),
	}
}

// PolicyFromConfig converts the configured waits (seconds) into a fetch policy.
func PolicyFromConfig(cfg *config.FetchConfig) fetcher.Policy {
	return fetcher.Policy{
		LogInterval:               cfg.LogInterval,
		ServiceUnavailableWait:    time.Duration(cfg.ServiceUnavailableWait) * time.Second,
		ServiceUnavailableRetries: cfg.ServiceUnavailableRetries,
		ConnectionResetWait:       time.Duration(cfg.ConnectionResetWait) * time.Second,
		ConnectionResetRetries:    cfg.ConnectionResetRetries,
	}
}

// Discover returns the pending identifiers without fetching them.
func (j *Job) Discover(ctx context.Context) ([]types.PendingIdentifier, int, error) {
	return j.discovery.Pending(ctx, j.cfg.Output.StagingDir)
}

// Register recreates the output table over everything published so far.
func (j *Job) Register(ctx context.Context) error {
	return j.registrar.Register(ctx)
}

// Run executes the whole job. On any fetch failure nothing is published.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	runDate := j.deps.Now()
	summary := &Summary{}

	// Discover
	pending, count, err := j.Discover(ctx)
	if err != nil {
		return nil, err
	}
	summary.Pending = len(pending)
	if len(pending) == 0 {
		zap.S().Infow("no pending videos, nothing to do")
		return summary, nil
	}
	zap.S().Infow("videos to be processed", "count", count, "pending", len(pending))

	// Stage
	staging, err := sink.NewStaging(j.cfg.Output.StagingDir, j.cfg.Output.Table)
	if err != nil {
		return nil, err
	}

	// Fetch
	pool := fetcher.NewCredentialPool(j.cfg.APIKeys(), !j.cfg.Fetch.KeepKeyOrder)
	res, err := j.loop.Run(ctx, pending, pool, staging)
	if res != nil {
		summary.Processed = res.Processed
		summary.Snippets = res.Snippets
		summary.Tombstones = res.Tombstones
		summary.Rotations = res.Rotations
	}
	if err != nil {
		if rerr := staging.Remove(); rerr != nil {
			zap.S().Warnw("failed to remove staging file", "path", staging.Path(), "error", rerr)
		}
		return summary, err
	}
	if err := staging.Close(); err != nil {
		staging.Remove()
		return summary, err
	}

	// Compress
	compressed, err := sink.Compress(staging.Path(), j.cfg.Output.Compression)
	if err != nil {
		staging.Remove()
		return summary, ierrors.WithRerunHint(err)
	}
	defer os.Remove(compressed)

	// Publish
	ext, err := sink.Extension(j.cfg.Output.Compression)
	if err != nil {
		return summary, err
	}
	key, err := j.publisher.Publish(ctx, compressed, staging.Results(), runDate, ext)
	if err != nil {
		return summary, ierrors.WithRerunHint(err)
	}
	summary.ObjectKey = key

	// Register
	if err := j.registrar.Register(ctx); err != nil {
		return summary, errors.WithHint(err, "the batch was published; run the register command to retry catalog registration")
	}
	return summary, nil
}

// Close releases the warehouse connection.
func (j *Job) Close() error {
	return j.deps.Engine.Close()
}

// Run builds the job from cfg and executes it once.
func Run(ctx context.Context, cfg *config.Config, name, version, revision string) error {
	versionString := version
	if revision != "" && revision != "xxx" {
		versionString = versionString + " (" + revision + ")"
	}
	zap.S().Infow("starting video snippet collection", "name", name, "version", versionString)

	// Create Job
	j, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	summary, err := j.Run(ctx)
	if err != nil {
		zap.S().Errorw("video snippet collection failed", "error", err, "hints", errors.FlattenHints(err))
		return err
	}

	zap.S().Infow("concluded collecting video snippets",
		"pending", summary.Pending,
		"processed", summary.Processed,
		"snippets", summary.Snippets,
		"tombstones", summary.Tombstones,
		"rotations", summary.Rotations,
		"object", summary.ObjectKey)
	return nil
}
