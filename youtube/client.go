package youtube

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cnosuke/youtube-video-snippet/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"
)

// SnippetPart is the only resource part the job requests.
const SnippetPart = "snippet"

type Config struct {
	// Endpoint is the API root, e.g. https://youtube.googleapis.com/
	Endpoint  string
	Timeout   int // Seconds
	UserAgent string
	// HTTPClient overrides the client built from Timeout, mainly for tests.
	HTTPClient *http.Client
}

// Client looks up video metadata with a single API key.
type Client interface {
	// ListSnippets calls videos.list for one id. Failures are always *Error.
	ListSnippets(ctx context.Context, videoID string) (*types.VideoListResponse, error)
}

// Factory builds a Client bound to apiKey.
type Factory func(apiKey string) (Client, error)

// serviceClient implements Client over the generated Data API v3 service.
type serviceClient struct {
	service *ytapi.Service
}

// NewClient creates a Client for apiKey.
func NewClient(apiKey string, cfg *Config) (Client, error) {
	if apiKey == "" {
		return nil, errors.New("empty API key")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid YouTube endpoint %q", cfg.Endpoint)
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/") + "/"

	// option.WithAPIKey is ignored once an HTTP client is supplied,
	// so the key is attached by the transport instead.
	base := http.DefaultTransport
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.HTTPClient != nil {
		if cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
		timeout = cfg.HTTPClient.Timeout
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &transport.APIKey{Key: apiKey, Transport: base},
	}

	service, err := ytapi.NewService(context.Background(),
		option.WithEndpoint(endpoint),
		option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create YouTube service")
	}
	service.UserAgent = cfg.UserAgent

	zap.S().Debugw("creating YouTube client",
		"endpoint", endpoint,
		"key", MaskKey(apiKey),
		"timeout", cfg.Timeout)

	return &serviceClient{service: service}, nil
}

// NewFactory returns a Factory sharing cfg.
func NewFactory(cfg *Config) Factory {
	return func(apiKey string) (Client, error) {
		return NewClient(apiKey, cfg)
	}
}

func (c *serviceClient) ListSnippets(ctx context.Context, videoID string) (*types.VideoListResponse, error) {
	resp, err := c.service.Videos.List([]string{SnippetPart}).Id(videoID).Context(ctx).Do()
	if err != nil {
		yerr := classify(err)
		zap.S().Debugw("videos.list failed",
			"video_id", videoID,
			"kind", yerr.Kind.String(),
			"status", yerr.StatusCode)
		return nil, yerr
	}

	zap.S().Debugw("videos.list response received",
		"video_id", videoID,
		"items", len(resp.Items))

	return fromAPI(resp), nil
}

// fromAPI copies the generated response into the record types.
func fromAPI(resp *ytapi.VideoListResponse) *types.VideoListResponse {
	out := &types.VideoListResponse{
		Kind:  resp.Kind,
		Etag:  resp.Etag,
		Items: make([]types.Video, 0, len(resp.Items)),
	}
	for _, v := range resp.Items {
		if v == nil {
			continue
		}
		out.Items = append(out.Items, types.Video{
			Kind:    v.Kind,
			Etag:    v.Etag,
			ID:      v.Id,
			Snippet: snippetFromAPI(v.Snippet),
		})
	}
	return out
}

func snippetFromAPI(s *ytapi.VideoSnippet) *types.Snippet {
	if s == nil {
		return nil
	}
	out := &types.Snippet{
		PublishedAt:          s.PublishedAt,
		ChannelID:            s.ChannelId,
		Title:                s.Title,
		Description:          s.Description,
		ChannelTitle:         s.ChannelTitle,
		Tags:                 s.Tags,
		CategoryID:           s.CategoryId,
		LiveBroadcastContent: s.LiveBroadcastContent,
		DefaultLanguage:      s.DefaultLanguage,
		DefaultAudioLanguage: s.DefaultAudioLanguage,
	}
	if t := s.Thumbnails; t != nil {
		out.Thumbnails = types.Thumbnails{
			Default:  thumbnailFromAPI(t.Default),
			Medium:   thumbnailFromAPI(t.Medium),
			High:     thumbnailFromAPI(t.High),
			Standard: thumbnailFromAPI(t.Standard),
			Maxres:   thumbnailFromAPI(t.Maxres),
		}
	}
	if l := s.Localized; l != nil {
		out.Localized = &types.Localized{Title: l.Title, Description: l.Description}
	}
	return out
}

func thumbnailFromAPI(t *ytapi.Thumbnail) *types.Thumbnail {
	if t == nil {
		return nil
	}
	return &types.Thumbnail{URL: t.Url, Width: int(t.Width), Height: int(t.Height)}
}

// MaskKey shortens an API key for logging.
func MaskKey(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:6] + "***"
}
