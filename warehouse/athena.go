package warehouse

import (
	"context"
	"encoding/csv"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// AwsDataCatalog is the Glue catalog Athena databases live in.
const AwsDataCatalog = "AwsDataCatalog"

// athenaAPI is the subset of the Athena client the engine uses.
type athenaAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	ListTableMetadata(ctx context.Context, in *athena.ListTableMetadataInput, optFns ...func(*athena.Options)) (*athena.ListTableMetadataOutput, error)
}

// AthenaEngine runs queries on Amazon Athena and waits for them to finish.
type AthenaEngine struct {
	api            athenaAPI
	database       string
	outputLocation string
	workGroup      string
	pollInterval   time.Duration
}

// NewAthena creates an Athena engine using the default AWS credential chain.
func NewAthena(ctx context.Context, cfg *config.WarehouseConfig) (*AthenaEngine, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	zap.S().Infow("athena warehouse configured",
		"database", cfg.Database,
		"output_location", cfg.OutputLocation,
		"work_group", cfg.WorkGroup,
		"region", awsCfg.Region)

	return newAthenaEngine(athena.NewFromConfig(awsCfg), cfg), nil
}

func newAthenaEngine(api athenaAPI, cfg *config.WarehouseConfig) *AthenaEngine {
	return &AthenaEngine{
		api:            api,
		database:       cfg.Database,
		outputLocation: cfg.OutputLocation,
		workGroup:      cfg.WorkGroup,
		pollInterval:   time.Duration(cfg.PollInterval) * time.Millisecond,
	}
}

func (e *AthenaEngine) TableExists(ctx context.Context, table string) (bool, error) {
	in := &athena.ListTableMetadataInput{
		CatalogName:  aws.String(AwsDataCatalog),
		DatabaseName: aws.String(e.database),
		Expression:   aws.String(table),
	}
	for {
		out, err := e.api.ListTableMetadata(ctx, in)
		if err != nil {
			return false, errors.Wrapf(err, "failed to list tables in %s", e.database)
		}
		for _, t := range out.TableMetadataList {
			if strings.EqualFold(aws.ToString(t.Name), table) {
				return true, nil
			}
		}
		if out.NextToken == nil {
			return false, nil
		}
		in.NextToken = out.NextToken
	}
}

func (e *AthenaEngine) QueryRow(ctx context.Context, query string) (string, error) {
	id, err := e.run(ctx, query)
	if err != nil {
		return "", err
	}
	out, err := e.api.GetQueryResults(ctx, &athena.GetQueryResultsInput{QueryExecutionId: aws.String(id)})
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch results of query %s", id)
	}
	// The first row holds the column labels
	if out.ResultSet == nil || len(out.ResultSet.Rows) < 2 || len(out.ResultSet.Rows[1].Data) == 0 {
		return "", ErrNoRows
	}
	return aws.ToString(out.ResultSet.Rows[1].Data[0].VarCharValue), nil
}

func (e *AthenaEngine) QueryToFile(ctx context.Context, query, path string) error {
	id, err := e.run(ctx, query)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()
	w := csv.NewWriter(f)

	in := &athena.GetQueryResultsInput{QueryExecutionId: aws.String(id)}
	n := 0
	for {
		out, err := e.api.GetQueryResults(ctx, in)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch results of query %s", id)
		}
		if out.ResultSet != nil {
			for _, row := range out.ResultSet.Rows {
				record := make([]string, len(row.Data))
				for i, d := range row.Data {
					record[i] = aws.ToString(d.VarCharValue)
				}
				if err := w.Write(record); err != nil {
					return errors.Wrap(err, "failed to write csv row")
				}
				n++
			}
		}
		if out.NextToken == nil {
			break
		}
		in.NextToken = out.NextToken
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "failed to flush csv")
	}
	zap.S().Debugw("query result written", "path", path, "rows", n, "query_execution_id", id)
	return nil
}

func (e *AthenaEngine) Exec(ctx context.Context, stmt string, args ...any) error {
	if len(args) > 0 {
		return errors.New("athena engine does not support bind parameters")
	}
	_, err := e.run(ctx, stmt)
	return err
}

// InTx runs fn directly on the engine. Athena has no transactions, so
// statements take effect as they complete.
func (e *AthenaEngine) InTx(_ context.Context, fn func(tx Execer) error) error {
	return fn(e)
}

func (e *AthenaEngine) Dialect() Dialect {
	return Dialect{
		Name:           "athena",
		RelatedVideoID: "id.videoId",
		Placeholder:    func(int) string { return "?" },
	}
}

func (e *AthenaEngine) Close() error {
	return nil
}

// run starts query and polls until it reaches a terminal state.
func (e *AthenaEngine) run(ctx context.Context, query string) (string, error) {
	in := &athena.StartQueryExecutionInput{
		QueryString:           aws.String(query),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{Database: aws.String(e.database)},
		ResultConfiguration:   &athenatypes.ResultConfiguration{OutputLocation: aws.String(e.outputLocation)},
	}
	if e.workGroup != "" {
		in.WorkGroup = aws.String(e.workGroup)
	}

	started, err := e.api.StartQueryExecution(ctx, in)
	if err != nil {
		return "", errors.Wrap(err, "failed to start athena query")
	}
	id := aws.ToString(started.QueryExecutionId)
	zap.S().Debugw("athena query started", "query_execution_id", id, "query", query)

	for {
		out, err := e.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
		if err != nil {
			return "", errors.Wrapf(err, "failed to poll athena query %s", id)
		}
		if out.QueryExecution != nil && out.QueryExecution.Status != nil {
			status := out.QueryExecution.Status
			switch status.State {
			case athenatypes.QueryExecutionStateSucceeded:
				return id, nil
			case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
				return "", errors.Newf("athena query %s %s: %s", id, status.State, aws.ToString(status.StateChangeReason))
			}
		}

		if err := wait(ctx, e.pollInterval); err != nil {
			return "", errors.Wrapf(err, "interrupted while waiting for athena query %s", id)
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
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
