package fetcher

import (
	"context"
	"time"

	ierrors "github.com/cnosuke/youtube-video-snippet/internal/errors"
	"github.com/cnosuke/youtube-video-snippet/types"
	"github.com/cnosuke/youtube-video-snippet/youtube"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRetriesExhausted marks a run aborted because a transient failure outlasted its retry budget.
var ErrRetriesExhausted = errors.New("retry budget exhausted")

// Policy bounds the recovery behaviour of the loop.
type Policy struct {
	LogInterval               int
	ServiceUnavailableWait    time.Duration
	ServiceUnavailableRetries int
	ConnectionResetWait       time.Duration
	ConnectionResetRetries    int
}

// DefaultPolicy returns the production retry policy.
func DefaultPolicy() Policy {
	return Policy{
		LogInterval:               100,
		ServiceUnavailableWait:    30 * time.Second,
		ServiceUnavailableRetries: 10,
		ConnectionResetWait:       60 * time.Second,
		ConnectionResetRetries:    10,
	}
}

// Emitter receives every FetchResult as soon as it is produced.
type Emitter interface {
	Emit(result *types.FetchResult) error
}

// Result summarizes a completed run of the loop.
type Result struct {
	Processed  int
	Snippets   int
	Tombstones int
	Rotations  int
	Cursor     int // Final credential pool cursor
}

// Loop fetches snippets for pending identifiers one at a time, rotating
// API keys and backing off on transient failures.
type Loop struct {
	factory    youtube.Factory
	policy     Policy
	limiter    *rate.Limiter
	omitSource bool
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

type Option func(*Loop)

// WithLimiter paces requests with l.
func WithLimiter(l *rate.Limiter) Option {
	return func(loop *Loop) { loop.limiter = l }
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(loop *Loop) { loop.sleep = sleep }
}

// WithClock replaces the clock used for retrieved_at stamps.
func WithClock(now func() time.Time) Option {
	return func(loop *Loop) { loop.now = now }
}

// WithoutSource drops the source block from emitted records.
func WithoutSource() Option {
	return func(loop *Loop) { loop.omitSource = true }
}

// NewLoop creates a Loop building clients with factory.
func NewLoop(factory youtube.Factory, policy Policy, opts ...Option) *Loop {
	if policy.LogInterval <= 0 {
		policy.LogInterval = DefaultPolicy().LogInterval
	}
	l := &Loop{
		factory: factory,
		policy:  policy,
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// runState is the mutable state of one run: the pool cursor and the client bound to it.
type runState struct {
	pool      *CredentialPool
	client    youtube.Client
	rotations int
}

// connect (re)builds the client for the pool's current key.
func (s *runState) connect(factory youtube.Factory) error {
	key, err := s.pool.Current()
	if err != nil {
		return err
	}
	client, err := factory(key)
	if err != nil {
		return ierrors.Wrapf(err, "failed to build YouTube client for key %d", s.pool.Cursor())
	}
	s.client = client
	return nil
}

// attempt is the typed outcome of a single videos.list call.
type attempt struct {
	resp *types.VideoListResponse
	kind youtube.FailureKind
	err  error
}

func (a attempt) ok() bool { return a.err == nil }

// Run fetches every pending identifier in order and hands each result to emit.
// Any unrecoverable failure aborts the whole run.
func (l *Loop) Run(ctx context.Context, pending []types.PendingIdentifier, pool *CredentialPool, emit Emitter) (*Result, error) {
	// Create client for the first key
	st := &runState{pool: pool}
	if err := st.connect(l.factory); err != nil {
		return nil, ierrors.WithRerunHint(err)
	}

	res := &Result{}
	total := len(pending)
	for i, id := range pending {
		if i%l.policy.LogInterval == 0 {
			zap.S().Infow("fetch progress", "processed", i, "total", total)
		}

		fr, err := l.fetch(ctx, st, id)
		if err != nil {
			res.Rotations, res.Cursor = st.rotations, pool.Cursor()
			return res, ierrors.WithRerunHint(err)
		}
		// Hand off to the sink
		if err := emit.Emit(fr); err != nil {
			res.Rotations, res.Cursor = st.rotations, pool.Cursor()
			return res, ierrors.WithRerunHint(ierrors.Wrapf(err, "failed to emit result for video %s", id.VideoID))
		}

		res.Processed++
		if fr.IsTombstone() {
			res.Tombstones++
		} else {
			res.Snippets += len(fr.Snippets)
		}
	}

	res.Rotations, res.Cursor = st.rotations, pool.Cursor()
	zap.S().Infow("fetch completed",
		"processed", res.Processed,
		"snippets", res.Snippets,
		"tombstones", res.Tombstones,
		"rotations", res.Rotations)
	return res, nil
}

// fetch drives one identifier from Requesting to Done or Fatal.
func (l *Loop) fetch(ctx context.Context, st *runState, id types.PendingIdentifier) (*types.FetchResult, error) {
	var unavailable, resets int
	for {
		a := l.request(ctx, st.client, id.VideoID)
		if a.ok() {
			return l.result(id, a.resp), nil
		}

		switch a.kind {
		case youtube.ConnectionReset:
			resets++
			if resets > l.policy.ConnectionResetRetries {
				return nil, errors.Mark(ierrors.Wrapf(a.err, "video %s: connection reset %d times", id.VideoID, resets), ErrRetriesExhausted)
			}
			zap.S().Warnw("connection reset, reconnecting",
				"video_id", id.VideoID,
				"retry", resets,
				"wait", l.policy.ConnectionResetWait)
			if err := l.sleep(ctx, l.policy.ConnectionResetWait); err != nil {
				return nil, ierrors.Wrap(err, "interrupted while waiting to reconnect")
			}
			// Same key, new connection
			if err := st.connect(l.factory); err != nil {
				return nil, err
			}

		case youtube.AuthFailure:
			rejected, _ := st.pool.Current()
			zap.S().Warnw("API key rejected",
				"index", st.pool.Cursor(),
				"key", youtube.MaskKey(rejected),
				"error", a.err)
			if !st.pool.Advance() {
				return nil, errors.Mark(ierrors.Wrapf(a.err, "video %s: all %d API keys rejected", id.VideoID, st.pool.Len()), ErrCredentialsExhausted)
			}
			// Next key
			st.rotations++
			if err := st.connect(l.factory); err != nil {
				return nil, err
			}

		case youtube.ServiceUnavailable:
			unavailable++
			if unavailable > l.policy.ServiceUnavailableRetries {
				return nil, errors.Mark(ierrors.Wrapf(a.err, "video %s: service unavailable %d times", id.VideoID, unavailable), ErrRetriesExhausted)
			}
			zap.S().Infow("service unavailable",
				"video_id", id.VideoID,
				"retry", unavailable,
				"wait", l.policy.ServiceUnavailableWait)
			if err := l.sleep(ctx, l.policy.ServiceUnavailableWait); err != nil {
				return nil, ierrors.Wrap(err, "interrupted while waiting for service")
			}

		default:
			return nil, ierrors.Wrapf(a.err, "video %s", id.VideoID)
		}
	}
}

func (l *Loop) request(ctx context.Context, client youtube.Client, videoID string) attempt {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return attempt{kind: youtube.Unclassified, err: ierrors.Wrap(err, "rate limiter")}
		}
	}
	resp, err := client.ListSnippets(ctx, videoID)
	if err != nil {
		return attempt{kind: youtube.KindOf(err), err: err}
	}
	return attempt{resp: resp}
}

// result converts a successful response into output records.
func (l *Loop) result(id types.PendingIdentifier, resp *types.VideoListResponse) *types.FetchResult {
	var source *types.Origins
	if !l.omitSource {
		origins := id.Origins
		source = &origins
	}

	if len(resp.Items) == 0 {
		return &types.FetchResult{
			VideoID: id.VideoID,
			Tombstone: &types.Tombstone{
				Kind:        resp.Kind,
				Etag:        resp.Etag,
				ID:          id.VideoID,
				RetrievedAt: types.FormatRetrievedAt(l.now()),
				Source:      source,
				Description: types.UnavailableDescription,
			},
		}
	}

	snippets := make([]types.SnippetRecord, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Snippet != nil {
			item.Snippet.PublishedAt = types.NormalizePublishedAt(item.Snippet.PublishedAt)
		}
		snippets = append(snippets, types.SnippetRecord{
			Kind:        item.Kind,
			Etag:        item.Etag,
			ID:          item.ID,
			RetrievedAt: types.FormatRetrievedAt(l.now()),
			Source:      source,
			Snippet:     item.Snippet,
		})
	}
	return &types.FetchResult{VideoID: id.VideoID, Snippets: snippets}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
