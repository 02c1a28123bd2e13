package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	rpcmetrics "github.com/filecoin-project/go-jsonrpc/metrics"
)

// Distributions
var defaultMillisecondsDistribution = view.Distribution(
	0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8,
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
	150, 200, 250, 300, 350, 400, 450, 500,
	600, 700, 800, 900, 1000,
	2000, 3000, 4000, 5000, 6000, 8000, 10000, 13000, 16000, 20000,
	25000, 30000, 40000, 50000, 65000, 80000, 100000,
)

// Tags
var (
	Version, _ = tag.NewKey("version")
	Commit, _  = tag.NewKey("commit")

	Phase, _    = tag.NewKey("phase")
	Event, _    = tag.NewKey("event")
	Endpoint, _ = tag.NewKey("endpoint")
)

// Measures
var (
	Info = stats.Int64("info", "Arbitrary counter to tag monitor info to", stats.UnitDimensionless)

	CustodyTransition   = stats.Int64("custody/transition", "Counter for custody state transitions", stats.UnitDimensionless)
	CustodyStepFailure  = stats.Int64("custody/step_failure", "Counter for failed custody processing steps", stats.UnitDimensionless)
	CustodyLockHeld     = stats.Int64("custody/lock_held", "Counter for operations rejected because the lease was held", stats.UnitDimensionless)
	CustodyStepDuration = stats.Float64("custody/step_ms", "Duration of a custody processing step", stats.UnitMilliseconds)

	APIRequestDuration = stats.Float64("api/request_duration_ms", "Duration of API requests", stats.UnitMilliseconds)
)

// Views
var (
	InfoView = &view.View{
		Name:        "info",
		Description: "Custodian node information",
		Measure:     Info,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit},
	}
	CustodyTransitionView = &view.View{
		Measure:     CustodyTransition,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Event, Phase},
	}
	CustodyStepFailureView = &view.View{
		Measure:     CustodyStepFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Phase},
	}
	CustodyLockHeldView = &view.View{
		Measure:     CustodyLockHeld,
		Aggregation: view.Count(),
	}
	CustodyStepDurationView = &view.View{
		Measure:     CustodyStepDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Phase},
	}
	APIRequestDurationView = &view.View{
		Measure:     APIRequestDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Endpoint},
	}
)

// DefaultViews is an array of OpenCensus views for metric gathering purposes.
var DefaultViews = func() []*view.View {
	views := []*view.View{
		InfoView,
		CustodyTransitionView,
		CustodyStepFailureView,
		CustodyLockHeldView,
		CustodyStepDurationView,
		APIRequestDurationView,
	}
	views = append(views, rpcmetrics.DefaultViews...)
	return views
}()

// SinceInMilliseconds returns the elapsed time since startTime in
// milliseconds.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer begins a timer and returns a function to record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}
