package discovery

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/cnosuke/youtube-video-snippet/internal/errors"
	"github.com/cnosuke/youtube-video-snippet/types"
	"github.com/cnosuke/youtube-video-snippet/warehouse"
	cerrors "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// PendingFile is the name of the downloaded identifier list inside the staging directory.
const PendingFile = "video_ids.csv"

// Discovery finds video ids referenced upstream that the output table does not hold yet.
type Discovery struct {
	engine  warehouse.Engine
	target  string
	sources config.DiscoveryConfig
}

func New(engine warehouse.Engine, target string, sources *config.DiscoveryConfig) *Discovery {
	return &Discovery{engine: engine, target: target, sources: *sources}
}

// Plan is the resolved discovery query for one run.
type Plan struct {
	// Union is empty when no source table exists.
	Union        string
	Sources      []string
	TargetExists bool
}

func (p *Plan) Empty() bool {
	return p.Union == ""
}

func (p *Plan) CountQuery() string {
	return countQuery(p.Union)
}

func (p *Plan) GroupByQuery() string {
	return groupByQuery(p.Union)
}

// Plan checks which tables exist and builds the union of the present sources.
func (d *Discovery) Plan(ctx context.Context) (*Plan, error) {
	exists, err := d.engine.TableExists(ctx, d.target)
	if err != nil {
		return nil, err
	}
	plan := &Plan{TargetExists: exists}
	if exists {
		zap.S().Infow("output table exists, excluding processed ids", "table", d.target)
	} else {
		zap.S().Infow("output table missing, bootstrapping from all sources", "table", d.target)
	}

	candidates := []sourceQuery{}
	if d.sources.StreamTable != "" {
		candidates = append(candidates, urlSource(d.sources.StreamTable, originStream))
	}
	if d.sources.RelatedTable != "" {
		candidates = append(candidates, relatedSource(d.sources.RelatedTable, d.engine.Dialect().RelatedVideoID))
	}
	if d.sources.SearchTable != "" {
		candidates = append(candidates, urlSource(d.sources.SearchTable, originSearch))
	}

	var present []sourceQuery
	for _, q := range candidates {
		ok, err := d.engine.TableExists(ctx, q.table)
		if err != nil {
			return nil, err
		}
		if !ok {
			zap.S().Infow("source table missing, skipped", "table", q.table)
			continue
		}
		present = append(present, q)
		plan.Sources = append(plan.Sources, q.table)
	}

	if len(present) == 0 {
		zap.S().Warnw("no source table found")
		return plan, nil
	}

	target := ""
	if exists {
		target = d.target
	}
	plan.Union = union(present, target)
	return plan, nil
}

// Count returns the number of distinct pending ids.
func (d *Discovery) Count(ctx context.Context, plan *Plan) (int, error) {
	if plan.Empty() {
		return 0, nil
	}
	v, err := d.engine.QueryRow(ctx, plan.CountQuery())
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pending ids")
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "unexpected pending id count %q", v)
	}
	return n, nil
}

// Download materializes the grouped pending ids to path as CSV.
func (d *Discovery) Download(ctx context.Context, plan *Plan, path string) error {
	if plan.Empty() {
		return cerrors.New("no source table to download from")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	return errors.Wrap(d.engine.QueryToFile(ctx, plan.GroupByQuery(), path), "failed to download pending ids")
}

// Pending runs the whole discovery step, downloading into dir.
// It returns the pending ids and the distinct count reported by the engine.
func (d *Discovery) Pending(ctx context.Context, dir string) ([]types.PendingIdentifier, int, error) {
	plan, err := d.Plan(ctx)
	if err != nil {
		return nil, 0, err
	}
	count, err := d.Count(ctx, plan)
	if err != nil {
		return nil, 0, err
	}
	zap.S().Infow("pending ids counted", "count", count, "sources", plan.Sources)
	if count == 0 {
		return nil, 0, nil
	}

	path := filepath.Join(dir, PendingFile)
	if err := d.Download(ctx, plan, path); err != nil {
		return nil, 0, err
	}
	defer os.Remove(path)

	pending, err := ReadPending(path)
	if err != nil {
		return nil, 0, err
	}
	return pending, count, nil
}

// ReadPending parses a downloaded discovery CSV. Rows with an empty id are dropped.
func ReadPending(path string) ([]types.PendingIdentifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read header of %s", path)
	}

	idx := map[string]int{}
	for i, name := range header {
		idx[name] = i
	}
	for _, col := range []string{ColumnVideoID, ColumnTwitterStream, ColumnYouTubeRelatedVideo, ColumnTwitterSearch} {
		if _, ok := idx[col]; !ok {
			return nil, cerrors.Newf("%s: missing column %s", path, col)
		}
	}

	var out []types.PendingIdentifier
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}

		id := rec[idx[ColumnVideoID]]
		if id == "" {
			continue
		}
		flag := func(col string) (bool, error) {
			v := rec[idx[col]]
			if v == "" {
				return false, nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return false, errors.Wrapf(err, "%s:%d: invalid %s %q", path, line, col, v)
			}
			return n > 0, nil
		}

		p := types.PendingIdentifier{VideoID: id}
		if p.Origins.Stream, err = flag(ColumnTwitterStream); err != nil {
			return nil, err
		}
		if p.Origins.Related, err = flag(ColumnYouTubeRelatedVideo); err != nil {
			return nil, err
		}
		if p.Origins.Search, err = flag(ColumnTwitterSearch); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
