// Package sink materializes a stream of city-model entities into one
// GeoPackage per feature type and bundles them into a single archive.
//
// A run has these stages:
//
//	producers (N) -> bounded queue -> consumer (creates tables, buffers)
//	    -> merge -> write (one tx per table) -> bbox -> close -> package -> publish
//
// Every store handle is owned by the consumer goroutine. Cancellation is
// cooperative: the feedback flag is checked before each store operation and
// a cancelled run ends with StatusCanceled and no error.
package sink

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gpkgsink/internal/packager"
	"github.com/ajitpratap0/gpkgsink/internal/publish"
	"github.com/ajitpratap0/gpkgsink/pkg/config"
	"github.com/ajitpratap0/gpkgsink/pkg/entity"
	"github.com/ajitpratap0/gpkgsink/pkg/feedback"
	"github.com/ajitpratap0/gpkgsink/pkg/metrics"
	"github.com/ajitpratap0/gpkgsink/pkg/observability"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

// Status is the final state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// Report summarizes a run.
type Report struct {
	Status Status
	RunID  string

	Features      int64
	Attributes    int64
	EmptyGeometry int64
	Objects       int64
	Skipped       int64

	MergeMisses int
	Duplicates  int
	Merged      int

	TablesCreated   []string
	ColumnsAdded    int
	FeaturesWritten int
	Warnings        int64

	ArchivePath  string
	PublishedURL string
	Duration     time.Duration
}

// Option configures a Sink.
type Option func(*Sink)

// WithPublisher overrides the publisher built from the publish section.
func WithPublisher(p publish.Publisher) Option {
	return func(s *Sink) { s.publisher = p }
}

// Sink runs materializations with a fixed configuration. Runs are
// independent; each gets its own registry.
type Sink struct {
	cfg       *config.Config
	logger    *zap.Logger
	publisher publish.Publisher
}

// New validates cfg and returns a sink.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Sink, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeConfig, "invalid configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{cfg: cfg, logger: logger.With(zap.String("component", "sink"))}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run consumes upstream until it is closed, then writes, packages and
// optionally publishes the result. A cancelled run returns a report with
// StatusCanceled and a nil error.
func (s *Sink) Run(fb *feedback.Feedback, upstream <-chan *entity.Parcel, schema *entity.Schema) (report *Report, err error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))
	report = &Report{Status: StatusCompleted, RunID: runID}

	ctx, span := observability.StartSpan(fb.Context(), "materialize",
		attribute.String("run_id", runID),
		attribute.String("output", s.cfg.Output.Dir))
	defer func() {
		report.Duration = time.Since(start)
		report.Warnings = fb.Warnings()
		switch {
		case err == nil:
		case sinkerrors.IsCanceled(err) || fb.IsCanceled():
			report.Status = StatusCanceled
			err = nil
			fb.Info("run canceled", zap.String("run_id", runID))
		default:
			report.Status = StatusFailed
		}
		observability.EndSpan(span, err)
	}()

	if schema == nil {
		return report, sinkerrors.New(sinkerrors.ErrorTypeData, "schema is required")
	}
	if err := schema.Validate(); err != nil {
		return report, sinkerrors.Wrap(err, sinkerrors.ErrorTypeData, "invalid schema")
	}
	if err := os.MkdirAll(s.cfg.Output.Dir, 0o755); err != nil {
		return report, sinkerrors.Wrap(err, sinkerrors.ErrorTypeFile, "failed to create output directory").
			WithDetail("dir", s.cfg.Output.Dir)
	}

	reg := NewRegistry()
	tables := newTableManager(s.cfg.Output.Dir, s.cfg.Output.Naming, schema.EPSG,
		TableInfosFromSchema(schema), reg, fb, logger)
	cls := &classifier{
		fb:     fb,
		srsID:  schema.EPSG,
		policy: s.cfg.Sink.OnRecordError,
		logger: logger.With(zap.String("stage", metrics.StageClassify)),
	}

	runErr := s.materialize(ctx, fb, logger, upstream, cls, tables, reg, report)

	report.Features = cls.stats.features.Load()
	report.Attributes = cls.stats.attributes.Load()
	report.EmptyGeometry = cls.stats.emptyGeometry.Load()
	report.Objects = cls.stats.objects.Load()
	report.Skipped = cls.stats.skippedRecords.Load()
	report.TablesCreated = reg.Created()
	report.ColumnsAdded = tables.columnsAdded

	if closeErr := tables.closeAll(); closeErr != nil {
		if runErr == nil {
			runErr = closeErr
		} else {
			logger.Error("failed to close GeoPackages after error", zap.Error(closeErr))
		}
	}
	if runErr != nil {
		return report, runErr
	}

	if err := s.finish(ctx, fb, tables.files(), report); err != nil {
		return report, err
	}

	fb.Info("run completed",
		zap.String("run_id", runID),
		zap.Int("tables", len(report.TablesCreated)),
		zap.Int("features", report.FeaturesWritten),
		zap.String("archive", report.ArchivePath))
	return report, nil
}

// materialize runs every stage up to and including the bbox update. Stores
// are left open.
func (s *Sink) materialize(ctx context.Context, fb *feedback.Feedback, logger *zap.Logger,
	upstream <-chan *entity.Parcel, cls *classifier, tables *tableManager, reg *Registry, report *Report) error {

	records, err := s.collect(ctx, fb, upstream, cls, tables)
	if err != nil {
		return err
	}
	if err := fb.EnsureNotCanceled(); err != nil {
		return err
	}
	logBuffered(logger, len(records))

	var res *mergeResult
	if err := stage(ctx, metrics.StageMerge, func(context.Context) error {
		res = mergeRecords(records, reg, fb)
		return nil
	}); err != nil {
		return err
	}
	report.MergeMisses = res.misses
	report.Duplicates = res.duplicates
	report.Merged = res.merged

	if err := stage(ctx, metrics.StageWrite, func(ctx context.Context) error {
		n, err := tables.writeFeatures(ctx, res.features)
		report.FeaturesWritten = n
		return err
	}); err != nil {
		return err
	}

	return stage(ctx, metrics.StageBbox, func(ctx context.Context) error {
		return tables.updateBboxes(ctx, res.bboxes)
	})
}

// collect runs the producers and the consumer loop and returns every
// buffered record. On failure the queue is drained so producers can exit.
func (s *Sink) collect(ctx context.Context, fb *feedback.Feedback, upstream <-chan *entity.Parcel,
	cls *classifier, tables *tableManager) (records []tableRecord, err error) {

	ctx, span := observability.StartSpan(ctx, metrics.StageClassify)
	timer := metrics.NewTimer(metrics.StageClassify)
	defer func() {
		timer.Stop()
		observability.EndSpan(span, err)
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	queue := make(chan tableRecord, s.cfg.Performance.QueueSize)
	produced := make(chan error, 1)
	go func() {
		produced <- cls.run(runCtx, s.cfg.Performance.GetWorkers(), upstream, queue)
		close(queue)
	}()

	var consumeErr error
	for tr := range queue {
		if consumeErr != nil {
			continue
		}
		if err := fb.EnsureNotCanceled(); err != nil {
			consumeErr = err
			stop()
			continue
		}
		if err := tables.ensureTable(runCtx, tr.table); err != nil {
			consumeErr = err
			stop()
			continue
		}
		records = append(records, tr)
	}
	metrics.QueueDepth.Set(0)

	prodErr := <-produced
	if consumeErr != nil {
		return nil, consumeErr
	}
	if prodErr != nil {
		return nil, prodErr
	}
	return records, nil
}

// finish packages the closed stores of this run and publishes the archive.
func (s *Sink) finish(ctx context.Context, fb *feedback.Feedback, files []string, report *Report) error {
	if err := stage(ctx, metrics.StagePackage, func(ctx context.Context) error {
		res, err := packager.Package(ctx, fb, s.cfg.Output.Dir, files, packager.OptionsFromConfig(s.cfg.Output))
		if err != nil {
			return err
		}
		report.ArchivePath = res.Path
		return nil
	}); err != nil {
		return err
	}

	if !s.cfg.Publish.IsPublishEnabled() {
		return nil
	}
	return stage(ctx, metrics.StagePublish, func(ctx context.Context) error {
		if err := fb.EnsureNotCanceled(); err != nil {
			return err
		}
		p := s.publisher
		if p == nil {
			var err error
			if p, err = publish.New(ctx, s.cfg.Publish); err != nil {
				return err
			}
		}
		defer p.Close()

		url, err := p.Publish(ctx, report.ArchivePath, report.RunID)
		if err != nil {
			return err
		}
		report.PublishedURL = url
		fb.Info("archive published", zap.String("url", url))
		return nil
	})
}

// stage runs fn inside a span and a stage timer.
func stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, name)
	timer := metrics.NewTimer(name)
	err := fn(ctx)
	timer.Stop()
	observability.EndSpan(span, err)
	return err
}
