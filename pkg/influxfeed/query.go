package influxfeed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

const (
	// Measurement holds one point per sensor reading, tagged with the feed path.
	Measurement = "sensor_reading"
	// PathTag is the tag carrying the feed path.
	PathTag = "path"

	FieldValue  = "value"
	FieldStatus = "status"
)

// Row is the latest point of a feed, fields pivoted into one record.
type Row struct {
	Time   time.Time
	Fields map[string]any
}

// Querier reads the latest point of a feed path. found is false when the
// path has no data in the lookback window.
type Querier interface {
	Latest(ctx context.Context, path string) (row Row, found bool, err error)
}

type influxQuerier struct {
	client   influxdb2.Client
	org      string
	bucket   string
	lookback time.Duration
}

// NewQuerier reads from bucket; points older than lookback count as absent.
func NewQuerier(client influxdb2.Client, org, bucket string, lookback time.Duration) Querier {
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &influxQuerier{client: client, org: org, bucket: bucket, lookback: lookback}
}

func buildFlux(bucket, path string, lookback time.Duration) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r.%s == %q)
  |> filter(fn: (r) => r._field == %q or r._field == %q)
  |> last()
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)
`, bucket, int64(lookback/time.Second), Measurement, PathTag, path, FieldValue, FieldStatus)
}

func (q *influxQuerier) Latest(ctx context.Context, path string) (Row, bool, error) {
	res, err := q.client.QueryAPI(q.org).Query(ctx, buildFlux(q.bucket, path, q.lookback))
	if err != nil {
		return Row{}, false, fmt.Errorf("query %s: %w", path, err)
	}
	defer res.Close()

	if !res.Next() {
		if res.Err() != nil {
			return Row{}, false, fmt.Errorf("read %s: %w", path, res.Err())
		}
		return Row{}, false, nil
	}
	rec := res.Record()
	row := Row{Time: rec.Time(), Fields: map[string]any{}}
	for _, f := range []string{FieldValue, FieldStatus} {
		if v := rec.ValueByKey(f); v != nil {
			row.Fields[f] = v
		}
	}
	return row, true, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
