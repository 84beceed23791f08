// Package metrics exposes Prometheus metrics for materialization runs.
//
// # Basic Usage
//
//	metrics.RecordsClassified.WithLabelValues(metrics.KindFeature).Inc()
//
//	timer := metrics.NewTimer(metrics.StageWrite)
//	writeTables()
//	timer.Stop()
//
// Metrics are registered on the default registry; Handler serves them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record kinds used as the "kind" label.
const (
	KindFeature   = "feature"
	KindAttribute = "attribute"
)

// Drop reasons used as the "reason" label.
const (
	DropEmptyGeometry = "empty_geometry"
	DropObject        = "object_stereotype"
	DropRecordError   = "record_error"
	DropMergeMiss     = "merge_miss"
)

// Pipeline stages used as the "stage" label.
const (
	StageClassify = "classify"
	StageMerge    = "merge"
	StageWrite    = "write"
	StageBbox     = "bbox"
	StagePackage  = "package"
	StagePublish  = "publish"
)

var (
	// RecordsClassified counts records sent to the consumer.
	// Labels: kind (feature/attribute)
	RecordsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpkgsink_records_classified_total",
			Help: "Total number of records classified by producers",
		},
		[]string{"kind"},
	)

	// RecordsDropped counts entities and records that never reach a table.
	// Labels: reason
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpkgsink_records_dropped_total",
			Help: "Total number of records dropped",
		},
		[]string{"reason"},
	)

	// TablesCreated counts GeoPackage tables created.
	TablesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpkgsink_tables_created_total",
			Help: "Total number of feature tables created",
		},
	)

	// ColumnsAdded counts columns added by schema evolution.
	ColumnsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpkgsink_columns_added_total",
			Help: "Total number of columns added to existing tables",
		},
	)

	// FeaturesWritten counts inserted feature rows.
	FeaturesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpkgsink_features_written_total",
			Help: "Total number of feature rows inserted",
		},
	)

	// MergeMisses counts attribute records whose parent feature was not found.
	MergeMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gpkgsink_merge_misses_total",
			Help: "Total number of attribute records without a matching feature",
		},
	)

	// QueueDepth is the number of records buffered between producers and the consumer.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpkgsink_queue_depth",
			Help: "Records waiting in the producer queue",
		},
	)

	// StageDuration tracks how long each pipeline stage takes.
	// Labels: stage
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpkgsink_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"stage"},
	)
)

// Timer measures one stage and reports it to StageDuration on Stop.
type Timer struct {
	start time.Time
	stage string
}

// NewTimer starts timing stage.
func NewTimer(stage string) *Timer {
	return &Timer{start: time.Now(), stage: stage}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	StageDuration.WithLabelValues(t.stage).Observe(d.Seconds())
	return d
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
