package discovery

import (
	"fmt"
	"strings"
)

// Origin indicator columns of the discovery result, in CSV order.
const (
	ColumnVideoID             = "video_id"
	ColumnTwitterStream       = "twitter_stream"
	ColumnYouTubeRelatedVideo = "youtube_related_video"
	ColumnTwitterSearch       = "twitter_search"
)

// YouTubeHost is the only host whose watch URLs are harvested.
const YouTubeHost = "www.youtube.com"

// origin flags one of the three indicator columns.
type origin int

const (
	originStream origin = iota
	originRelated
	originSearch
)

func (o origin) flags() (stream, related, search int) {
	switch o {
	case originStream:
		return 1, 0, 0
	case originRelated:
		return 0, 1, 0
	default:
		return 0, 0, 1
	}
}

// sourceQuery is one branch of the discovery union.
type sourceQuery struct {
	table  string
	origin origin
	idExpr string
	where  []string
}

func (q sourceQuery) sql(target string) string {
	stream, related, search := q.origin.flags()
	conds := append([]string(nil), q.where...)
	conds = append(conds, q.idExpr+" is not null")
	if target != "" {
		conds = append(conds, fmt.Sprintf("%s not in (select id from %s where id is not null)", q.idExpr, target))
	}
	return fmt.Sprintf(`select distinct
  %s as %s,
  %d as %s,
  %d as %s,
  %d as %s
from
  %s
where
  %s`,
		q.idExpr, ColumnVideoID,
		stream, ColumnTwitterStream,
		related, ColumnYouTubeRelatedVideo,
		search, ColumnTwitterSearch,
		q.table,
		strings.Join(conds, "\n  and "))
}

// urlSource selects watch-URL ids from a table with a validated_url column.
func urlSource(table string, o origin) sourceQuery {
	return sourceQuery{
		table:  table,
		origin: o,
		idExpr: "url_extract_parameter(validated_url, 'v')",
		where:  []string{fmt.Sprintf("url_extract_host(validated_url) = '%s'", YouTubeHost)},
	}
}

// relatedSource selects today's related-video ids.
func relatedSource(table, idExpr string) sourceQuery {
	return sourceQuery{
		table:  table,
		origin: originRelated,
		idExpr: idExpr,
		where:  []string{"created_at = cast(current_date as varchar)"},
	}
}

// union joins the branches; target is empty when the output table does not exist yet.
func union(queries []sourceQuery, target string) string {
	parts := make([]string, 0, len(queries))
	for _, q := range queries {
		parts = append(parts, q.sql(target))
	}
	return strings.Join(parts, "\nunion all\n")
}

func countQuery(union string) string {
	return fmt.Sprintf(`with count_table as (
%s
)
select
  count(distinct %s) as video_count
from
  count_table`, union, ColumnVideoID)
}

func groupByQuery(union string) string {
	return fmt.Sprintf(`with group_by_table as (
%s
)
select
  %[2]s,
  sum(%[3]s) as %[3]s,
  sum(%[4]s) as %[4]s,
  sum(%[5]s) as %[5]s
from
  group_by_table
group by
  %[2]s
order by
  %[2]s`, union, ColumnVideoID, ColumnTwitterStream, ColumnYouTubeRelatedVideo, ColumnTwitterSearch)
}
