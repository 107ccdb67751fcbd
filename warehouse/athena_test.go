package warehouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAthena serves scripted Athena responses.
type fakeAthena struct {
	started []*athena.StartQueryExecutionInput
	states  []athenatypes.QueryExecutionState
	polls   int
	pages   []*athenatypes.ResultSet
	tables  [][]string
}

func (f *fakeAthena) StartQueryExecution(_ context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.started = append(f.started, in)
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("qid-1")}, nil
}

func (f *fakeAthena) GetQueryExecution(_ context.Context, _ *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	state := athenatypes.QueryExecutionStateSucceeded
	if f.polls < len(f.states) {
		state = f.states[f.polls]
	}
	f.polls++
	return &athena.GetQueryExecutionOutput{QueryExecution: &athenatypes.QueryExecution{
		Status: &athenatypes.QueryExecutionStatus{State: state, StateChangeReason: aws.String("SYNTAX_ERROR")},
	}}, nil
}

func (f *fakeAthena) GetQueryResults(_ context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	page := 0
	if in.NextToken != nil {
		page = int(aws.ToString(in.NextToken)[0] - '0')
	}
	out := &athena.GetQueryResultsOutput{ResultSet: f.pages[page]}
	if page+1 < len(f.pages) {
		out.NextToken = aws.String(string(rune('0' + page + 1)))
	}
	return out, nil
}

func (f *fakeAthena) ListTableMetadata(_ context.Context, in *athena.ListTableMetadataInput, _ ...func(*athena.Options)) (*athena.ListTableMetadataOutput, error) {
	page := 0
	if in.NextToken != nil {
		page = int(aws.ToString(in.NextToken)[0] - '0')
	}
	out := &athena.ListTableMetadataOutput{}
	for _, name := range f.tables[page] {
		out.TableMetadataList = append(out.TableMetadataList, athenatypes.TableMetadata{Name: aws.String(name)})
	}
	if page+1 < len(f.tables) {
		out.NextToken = aws.String(string(rune('0' + page + 1)))
	}
	return out, nil
}

func row(values ...string) athenatypes.Row {
	r := athenatypes.Row{}
	for _, v := range values {
		r.Data = append(r.Data, athenatypes.Datum{VarCharValue: aws.String(v)})
	}
	return r
}

func newTestAthena(api *fakeAthena) *AthenaEngine {
	return newAthenaEngine(api, &config.WarehouseConfig{
		Database:       "youtube",
		OutputLocation: "s3://admin-bucket/athena/",
		WorkGroup:      "primary",
	})
}

func TestAthena_ExecPollsUntilDone(t *testing.T) {
	api := &fakeAthena{states: []athenatypes.QueryExecutionState{
		athenatypes.QueryExecutionStateQueued,
		athenatypes.QueryExecutionStateRunning,
	}}
	e := newTestAthena(api)

	require.NoError(t, e.Exec(context.Background(), "MSCK REPAIR TABLE youtube_video_snippet"))
	assert.Equal(t, 3, api.polls)
	require.Len(t, api.started, 1)
	in := api.started[0]
	assert.Equal(t, "MSCK REPAIR TABLE youtube_video_snippet", aws.ToString(in.QueryString))
	assert.Equal(t, "youtube", aws.ToString(in.QueryExecutionContext.Database))
	assert.Equal(t, "s3://admin-bucket/athena/", aws.ToString(in.ResultConfiguration.OutputLocation))
	assert.Equal(t, "primary", aws.ToString(in.WorkGroup))
}

func TestAthena_ExecFailed(t *testing.T) {
	api := &fakeAthena{states: []athenatypes.QueryExecutionState{athenatypes.QueryExecutionStateFailed}}
	err := newTestAthena(api).Exec(context.Background(), "SELEC 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNTAX_ERROR")
}

func TestAthena_ExecRejectsArgs(t *testing.T) {
	err := newTestAthena(&fakeAthena{}).Exec(context.Background(), "SELECT ?", 1)
	assert.Error(t, err)
}

func TestAthena_QueryRow(t *testing.T) {
	api := &fakeAthena{pages: []*athenatypes.ResultSet{{Rows: []athenatypes.Row{row("video_count"), row("42")}}}}
	got, err := newTestAthena(api).QueryRow(context.Background(), "SELECT count(*) AS video_count FROM t")
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	api = &fakeAthena{pages: []*athenatypes.ResultSet{{Rows: []athenatypes.Row{row("video_count")}}}}
	_, err = newTestAthena(api).QueryRow(context.Background(), "SELECT 1 WHERE false")
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestAthena_QueryToFilePaginates(t *testing.T) {
	api := &fakeAthena{pages: []*athenatypes.ResultSet{
		{Rows: []athenatypes.Row{row("video_id", "twitter_stream"), row("a", "1")}},
		{Rows: []athenatypes.Row{row("b", "2")}},
	}}
	path := filepath.Join(t.TempDir(), "ids.csv")

	require.NoError(t, newTestAthena(api).QueryToFile(context.Background(), "SELECT ...", path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "video_id,twitter_stream\na,1\nb,2\n", string(data))
}

func TestAthena_TableExists(t *testing.T) {
	api := &fakeAthena{tables: [][]string{{"validated_url"}, {"youtube_related_video"}}}
	e := newTestAthena(api)

	ok, err := e.TableExists(context.Background(), "youtube_related_video")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.TableExists(context.Background(), "youtube_video_snippet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAthena_Dialect(t *testing.T) {
	assert.Equal(t, "id.videoId", newTestAthena(&fakeAthena{}).Dialect().RelatedVideoID)
}
