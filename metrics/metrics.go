package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 30000, 50000, 100000)

var (
	Module, _ = tag.NewKey("module") // chain module that emitted the event
	Event, _  = tag.NewKey("event")  // event id within the module
	Job, _    = tag.NewKey("job")    // name of scheduled job
	Table, _  = tag.NewKey("table")  // table data is persisted to
)

var (
	ProcessingDuration = stats.Float64("processing_duration_ms", "Time taken to project an event", stats.UnitMilliseconds)
	PersistDuration    = stats.Float64("persist_duration_ms", "Duration of a models persist operation", stats.UnitMilliseconds)
	DecodeFailure      = stats.Int64("decode_failure", "Number of event parameter decode failures", stats.UnitDimensionless)
	ProcessingFailure  = stats.Int64("processing_failure", "Number of event projection failures", stats.UnitDimensionless)
	PersistModel       = stats.Int64("persist_model", "Number of models persisted", stats.UnitDimensionless)
	BlockHeight        = stats.Int64("block_height", "Height of the block being projected", stats.UnitDimensionless)
	JobStart           = stats.Int64("job_start", "Number of jobs started", stats.UnitDimensionless)
	JobComplete        = stats.Int64("job_complete", "Number of jobs completed without error", stats.UnitDimensionless)
	JobError           = stats.Int64("job_error", "Number of jobs stopped due to a fatal error", stats.UnitDimensionless)
	ReconcileDeleted   = stats.Int64("reconcile_deleted", "Number of proposals marked deleted by reconciliation", stats.UnitDimensionless)
)

var DefaultViews = []*view.View{
	{
		Measure:     ProcessingDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Module, Event},
	},
	{
		Measure:     PersistDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Table},
	},
	{
		Measure:     DecodeFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Module, Event},
	},
	{
		Measure:     ProcessingFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Module, Event},
	},
	{
		Measure:     PersistModel,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{Table},
	},
	{
		Measure:     BlockHeight,
		Aggregation: view.LastValue(),
	},
	{
		Measure:     JobStart,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Measure:     JobComplete,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Measure:     JobError,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Measure:     ReconcileDeleted,
		Aggregation: view.Sum(),
	},
}

// SinceInMilliseconds returns the duration of time since the provided time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() {
	start := time.Now()
	return func() {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
	}
}

// RecordInc is a convenience function that increments a counter.
func RecordInc(ctx context.Context, m *stats.Int64Measure) {
	stats.Record(ctx, m.M(1))
}

// RecordCount is a convenience function that increments a counter by a count.
func RecordCount(ctx context.Context, m *stats.Int64Measure, count int) {
	stats.Record(ctx, m.M(int64(count)))
}

// WithTagValue is a convenience function that upserts the tag value in the given context.
func WithTagValue(ctx context.Context, k tag.Key, v string) context.Context {
	ctx, _ = tag.New(ctx, tag.Upsert(k, v))
	return ctx
}
