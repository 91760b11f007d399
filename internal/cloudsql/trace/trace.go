// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package trace records OpenCensus measurements for Connection Info
// Repository refreshes. Registering an exporter is optional; with no
// exporter registered, RecordRefresh's stats.Record calls are inert.
package trace

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// instanceKey tags each measurement with the instance connection name, so
// an exporter can break latency and failure counts down per instance.
var instanceKey = tag.MustNewKey("instance")

var (
	// RefreshLatency records, in milliseconds, how long a single
	// ConnectionInfo refresh took, successful or not.
	RefreshLatency = stats.Float64(
		"cloudsql/refresh_latency",
		"Time to complete a Connection Info refresh",
		stats.UnitMilliseconds,
	)
	// RefreshFailureCount counts refreshes that returned an error.
	RefreshFailureCount = stats.Int64(
		"cloudsql/refresh_failure_count",
		"Number of failed Connection Info refreshes",
		stats.UnitDimensionless,
	)
)

// Views are the default aggregations registered by RegisterViews. Callers
// wanting a custom bucketing or a subset of views can call
// view.Register with their own view.View values instead.
var Views = []*view.View{
	{
		Name:        "cloudsql/refresh_latency",
		Measure:     RefreshLatency,
		Description: "Distribution of Connection Info refresh latencies",
		TagKeys:     []tag.Key{instanceKey},
		Aggregation: view.Distribution(0, 25, 50, 100, 200, 400, 800, 1600, 3200, 6400, 12800),
	},
	{
		Name:        "cloudsql/refresh_failure_count",
		Measure:     RefreshFailureCount,
		Description: "Count of failed Connection Info refreshes",
		TagKeys:     []tag.Key{instanceKey},
		Aggregation: view.Count(),
	},
}

// RegisterViews registers the default views with OpenCensus. Call this once
// at process startup before wiring up an exporter (Prometheus, Stackdriver,
// or any other go.opencensus.io/stats/view.Exporter).
func RegisterViews() error {
	return view.Register(Views...)
}

// RecordRefresh records the outcome of a single ConnectionInfo refresh for
// inst. It never returns an error: a failure to tag or record a measurement
// is a monitoring-path problem, not a reason to fail the caller's refresh.
func RecordRefresh(ctx context.Context, inst string, d time.Duration, err error) {
	mctx, tagErr := tag.New(ctx, tag.Upsert(instanceKey, inst))
	if tagErr != nil {
		return
	}
	stats.Record(mctx, RefreshLatency.M(float64(d.Milliseconds())))
	if err != nil {
		stats.Record(mctx, RefreshFailureCount.M(1))
	}
}
