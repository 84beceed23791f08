package sink

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/gpkgsink/pkg/config"
	"github.com/ajitpratap0/gpkgsink/pkg/entity"
	"github.com/ajitpratap0/gpkgsink/pkg/feedback"
	"github.com/ajitpratap0/gpkgsink/pkg/geometry"
	"github.com/ajitpratap0/gpkgsink/pkg/metrics"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

type classifyStats struct {
	features       atomic.Int64
	attributes     atomic.Int64
	emptyGeometry  atomic.Int64
	objects        atomic.Int64
	skippedRecords atomic.Int64
}

// classifier turns entities into records. One instance is shared by all
// producer goroutines.
type classifier struct {
	fb     *feedback.Feedback
	srsID  int32
	policy string
	logger *zap.Logger
	stats  classifyStats
}

// classify returns the record for e, or nil when e produces none.
func (c *classifier) classify(e *entity.Entity) (*tableRecord, error) {
	if e == nil || e.Root.Kind != entity.KindObject || e.Root.Object == nil {
		return nil, nil
	}
	obj := e.Root.Object

	switch obj.Stereotype.Kind {
	case entity.StereotypeFeature:
		enc, err := c.encode(obj, e.Geometry)
		if errors.Is(err, geometry.ErrEmptyGeometry) {
			c.stats.emptyGeometry.Add(1)
			metrics.RecordsDropped.WithLabelValues(metrics.DropEmptyGeometry).Inc()
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		attrs, err := prepareAttributes(obj)
		if err != nil {
			return nil, err
		}
		c.stats.features.Add(1)
		metrics.RecordsClassified.WithLabelValues(metrics.KindFeature).Inc()
		return &tableRecord{
			table: obj.TypeName,
			record: &FeatureRecord{
				ObjID:      obj.Stereotype.ID,
				Geometry:   enc.Blob,
				Bbox:       enc.Bbox,
				Attributes: attrs,
			},
		}, nil

	case entity.StereotypeData:
		attrs, err := prepareAttributes(obj)
		if err != nil {
			return nil, err
		}
		c.stats.attributes.Add(1)
		metrics.RecordsClassified.WithLabelValues(metrics.KindAttribute).Inc()
		return &tableRecord{table: obj.TypeName, record: &AttributeRecord{Attributes: attrs}}, nil

	default:
		c.stats.objects.Add(1)
		metrics.RecordsDropped.WithLabelValues(metrics.DropObject).Inc()
		c.fb.Warn("object stereotype is not supported",
			zap.String("type", obj.TypeName),
			zap.String("id", obj.Stereotype.ID))
		return nil, nil
	}
}

func (c *classifier) encode(obj *entity.Object, store *entity.GeometryStore) (*geometry.Encoded, error) {
	if store == nil {
		return nil, geometry.ErrEmptyGeometry
	}
	store.RLock()
	defer store.RUnlock()

	enc, err := geometry.Encode(obj.Stereotype.Geometries, store, c.srsID)
	if err != nil && !errors.Is(err, geometry.ErrEmptyGeometry) {
		var se *sinkerrors.Error
		if errors.As(err, &se) {
			se.WithDetail("object_id", obj.Stereotype.ID).WithDetail("type", obj.TypeName)
		}
	}
	return enc, err
}

// run starts workers producers reading upstream and pushing into out. It
// returns when upstream is drained, ctx is done or a producer fails. A
// closed downstream (ctx done while pushing) is a clean stop.
func (c *classifier) run(ctx context.Context, workers int, upstream <-chan *entity.Parcel, out chan<- tableRecord) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			logger := c.logger.With(zap.Int("worker", workerID))
			for {
				if err := c.fb.EnsureNotCanceled(); err != nil {
					return err
				}

				var parcel *entity.Parcel
				select {
				case p, ok := <-upstream:
					if !ok {
						return nil
					}
					parcel = p
				case <-gctx.Done():
					return nil
				}
				if parcel == nil {
					continue
				}

				rec, err := c.classify(parcel.Entity)
				if err != nil {
					if c.policy == config.OnRecordErrorSkip && sinkerrors.IsRecordLevel(err) {
						c.stats.skippedRecords.Add(1)
						metrics.RecordsDropped.WithLabelValues(metrics.DropRecordError).Inc()
						c.fb.Warn("record skipped", zap.Error(err))
						continue
					}
					logger.Error("record rejected", zap.Error(err))
					return err
				}
				if rec == nil {
					continue
				}

				select {
				case out <- *rec:
					metrics.QueueDepth.Set(float64(len(out)))
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	return g.Wait()
}
