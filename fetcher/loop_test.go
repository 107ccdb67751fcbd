package fetcher

import (
	"context"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/cnosuke/youtube-video-snippet/types"
	"github.com/cnosuke/youtube-video-snippet/youtube"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// step is one scripted reply of the fake API.
type step struct {
	resp *types.VideoListResponse
	err  error
}

// fakeAPI replays scripted replies in order and records which key served each call.
type fakeAPI struct {
	script   []step
	calls    int
	keys     []string
	builds   []string
	rejected map[string]bool
}

func (f *fakeAPI) factory(apiKey string) (youtube.Client, error) {
	f.builds = append(f.builds, apiKey)
	return &fakeClient{api: f, key: apiKey}, nil
}

type fakeClient struct {
	api *fakeAPI
	key string
}

func (c *fakeClient) ListSnippets(_ context.Context, videoID string) (*types.VideoListResponse, error) {
	f := c.api
	f.calls++
	f.keys = append(f.keys, c.key)
	if f.rejected[c.key] {
		return nil, &youtube.Error{Kind: youtube.AuthFailure, StatusCode: 403, Reason: "quotaExceeded"}
	}
	if len(f.script) > 0 {
		s := f.script[0]
		f.script = f.script[1:]
		return s.resp, s.err
	}
	return okResponse(videoID), nil
}

func okResponse(id string) *types.VideoListResponse {
	return &types.VideoListResponse{
		Kind: "youtube#videoListResponse",
		Etag: "list-etag",
		Items: []types.Video{{
			Kind: "youtube#video",
			Etag: "etag-" + id,
			ID:   id,
			Snippet: &types.Snippet{
				PublishedAt: "2021-05-01T12:00:00Z",
				Title:       "title " + id,
			},
		}},
	}
}

type collector struct {
	results []*types.FetchResult
}

func (c *collector) Emit(r *types.FetchResult) error {
	c.results = append(c.results, r)
	return nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func pendingIDs(ids ...string) []types.PendingIdentifier {
	out := make([]types.PendingIdentifier, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.PendingIdentifier{VideoID: id, Origins: types.Origins{Stream: true}})
	}
	return out
}

var fixedNow = time.Date(2021, 5, 2, 3, 4, 5, 678000000, time.UTC)

func newTestLoop(api *fakeAPI, sleeps *sleepRecorder, opts ...Option) *Loop {
	opts = append([]Option{
		WithSleep(sleeps.sleep),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return NewLoop(api.factory, DefaultPolicy(), opts...)
}

func unavailable() step {
	return step{err: &youtube.Error{Kind: youtube.ServiceUnavailable, StatusCode: 503}}
}

func reset() step {
	return step{err: &youtube.Error{Kind: youtube.ConnectionReset, Err: syscall.ECONNRESET}}
}

func TestLoop_Run_Success(t *testing.T) {
	api := &fakeAPI{}
	sleeps := &sleepRecorder{}
	out := &collector{}

	res, err := newTestLoop(api, sleeps).Run(context.Background(), pendingIDs("a", "b", "c"), NewCredentialPool([]string{"k1"}, false), out)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Snippets)
	assert.Equal(t, 0, res.Tombstones)
	require.Len(t, out.results, 3)

	rec := out.results[0].Snippets[0]
	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, "2021-05-01 12:00:00", rec.Snippet.PublishedAt)
	assert.Equal(t, "2021-05-02 03:04:05.678", rec.RetrievedAt)
	require.NotNil(t, rec.Source)
	assert.True(t, rec.Source.Stream)
	assert.Empty(t, sleeps.waits)
}

func TestLoop_Run_Tombstone(t *testing.T) {
	api := &fakeAPI{script: []step{{resp: &types.VideoListResponse{Kind: "youtube#videoListResponse", Etag: "e"}}}}
	out := &collector{}

	res, err := newTestLoop(api, &sleepRecorder{}).Run(context.Background(), pendingIDs("abc123XYZ-_"), NewCredentialPool([]string{"k1"}, false), out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tombstones)

	require.Len(t, out.results, 1)
	ts := out.results[0].Tombstone
	require.NotNil(t, ts)
	assert.Equal(t, "abc123XYZ-_", ts.ID)
	assert.Equal(t, "youtube#videoListResponse", ts.Kind)
	assert.Equal(t, types.UnavailableDescription, ts.Description)
	assert.Equal(t, "2021-05-02 03:04:05.678", ts.RetrievedAt)
}

func TestLoop_Run_WithoutSource(t *testing.T) {
	out := &collector{}
	_, err := newTestLoop(&fakeAPI{}, &sleepRecorder{}, WithoutSource()).
		Run(context.Background(), pendingIDs("a"), NewCredentialPool([]string{"k1"}, false), out)
	require.NoError(t, err)
	assert.Nil(t, out.results[0].Snippets[0].Source)
}

func TestLoop_Run_RotatesRejectedKeys(t *testing.T) {
	api := &fakeAPI{rejected: map[string]bool{"k1": true, "k2": true}}
	out := &collector{}

	res, err := newTestLoop(api, &sleepRecorder{}).Run(context.Background(), pendingIDs("a", "b"), NewCredentialPool([]string{"k1", "k2", "k3"}, false), out)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rotations)
	assert.Equal(t, 2, res.Cursor)
	assert.Equal(t, []string{"k1", "k2", "k3"}, api.builds)
	assert.Equal(t, []string{"k1", "k2", "k3", "k3"}, api.keys)
	assert.Len(t, out.results, 2)
}

func TestLoop_Run_CredentialsExhausted(t *testing.T) {
	api := &fakeAPI{rejected: map[string]bool{"k1": true, "k2": true}}
	out := &collector{}

	res, err := newTestLoop(api, &sleepRecorder{}).Run(context.Background(), pendingIDs("a", "b"), NewCredentialPool([]string{"k1", "k2"}, false), out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCredentialsExhausted))
	assert.Contains(t, errors.FlattenHints(err), "rerun the job")
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, out.results)
	assert.Equal(t, 2, api.calls)
}

func TestLoop_Run_ServiceUnavailableRecovers(t *testing.T) {
	script := make([]step, 0, 10)
	for i := 0; i < 10; i++ {
		script = append(script, unavailable())
	}
	api := &fakeAPI{script: script}
	sleeps := &sleepRecorder{}
	out := &collector{}

	res, err := newTestLoop(api, sleeps).Run(context.Background(), pendingIDs("a"), NewCredentialPool([]string{"k1"}, false), out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Snippets)
	assert.Equal(t, 11, api.calls)
	require.Len(t, sleeps.waits, 10)
	assert.Equal(t, 30*time.Second, sleeps.waits[0])
}

func TestLoop_Run_ServiceUnavailableExhausted(t *testing.T) {
	script := make([]step, 0, 11)
	for i := 0; i < 11; i++ {
		script = append(script, unavailable())
	}
	api := &fakeAPI{script: script}
	sleeps := &sleepRecorder{}
	out := &collector{}

	_, err := newTestLoop(api, sleeps).Run(context.Background(), pendingIDs("a", "b"), NewCredentialPool([]string{"k1"}, false), out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, youtube.ServiceUnavailable, youtube.KindOf(err))
	assert.Equal(t, 11, api.calls)
	assert.Len(t, sleeps.waits, 10)
	assert.Empty(t, out.results)
}

func TestLoop_Run_ServiceUnavailableCounterIsPerIdentifier(t *testing.T) {
	var script []step
	for i := 0; i < 10; i++ {
		script = append(script, unavailable())
	}
	script = append(script, step{resp: okResponse("a")})
	for i := 0; i < 10; i++ {
		script = append(script, unavailable())
	}
	api := &fakeAPI{script: script}

	res, err := newTestLoop(api, &sleepRecorder{}).Run(context.Background(), pendingIDs("a", "b"), NewCredentialPool([]string{"k1"}, false), &collector{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
}

func TestLoop_Run_ConnectionResetReconnectsSameKey(t *testing.T) {
	api := &fakeAPI{script: []step{reset(), reset()}}
	sleeps := &sleepRecorder{}

	res, err := newTestLoop(api, sleeps).Run(context.Background(), pendingIDs("a"), NewCredentialPool([]string{"k1", "k2"}, false), &collector{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Rotations)
	assert.Equal(t, []string{"k1", "k1", "k1"}, api.builds)
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second}, sleeps.waits)
}

func TestLoop_Run_ConnectionResetExhausted(t *testing.T) {
	var script []step
	for i := 0; i < 11; i++ {
		script = append(script, reset())
	}
	api := &fakeAPI{script: script}
	sleeps := &sleepRecorder{}

	_, err := newTestLoop(api, sleeps).Run(context.Background(), pendingIDs("a"), NewCredentialPool([]string{"k1"}, false), &collector{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, 11, api.calls)
	assert.Len(t, sleeps.waits, 10)
}

func TestLoop_Run_UnclassifiedIsFatal(t *testing.T) {
	api := &fakeAPI{script: []step{{err: &youtube.Error{Kind: youtube.Unclassified, StatusCode: 500, Message: "backend error"}}}}
	sleeps := &sleepRecorder{}
	out := &collector{}

	res, err := newTestLoop(api, sleeps).Run(context.Background(), pendingIDs("a", "b"), NewCredentialPool([]string{"k1", "k2"}, false), out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video a")
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, 1, api.calls)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, sleeps.waits)
	assert.Empty(t, out.results)
}

func TestLoop_Run_SleepInterrupted(t *testing.T) {
	api := &fakeAPI{script: []step{unavailable()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := NewLoop(api.factory, Policy{LogInterval: 1, ServiceUnavailableWait: time.Hour, ServiceUnavailableRetries: 3})
	_, err := loop.Run(ctx, pendingIDs("a"), NewCredentialPool([]string{"k1"}, false), &collector{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

type failingEmitter struct{}

func (failingEmitter) Emit(*types.FetchResult) error { return fmt.Errorf("disk full") }

func TestLoop_Run_EmitFailure(t *testing.T) {
	_, err := newTestLoop(&fakeAPI{}, &sleepRecorder{}).Run(context.Background(), pendingIDs("a"), NewCredentialPool([]string{"k1"}, false), failingEmitter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLoop_Run_ProgressLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%03d", i)
	}

	_, err := newTestLoop(&fakeAPI{}, &sleepRecorder{}).Run(context.Background(), pendingIDs(ids...), NewCredentialPool([]string{"k1"}, false), &collector{})
	require.NoError(t, err)

	progress := logs.FilterMessage("fetch progress").All()
	require.Len(t, progress, 3)
	assert.Equal(t, int64(0), progress[0].ContextMap()["processed"])
	assert.Equal(t, int64(100), progress[1].ContextMap()["processed"])
	assert.Equal(t, int64(200), progress[2].ContextMap()["processed"])
	assert.Equal(t, 1, logs.FilterMessage("fetch completed").Len())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
