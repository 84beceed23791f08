// Package feedback carries progress messages and cooperative cancellation
// between a running materialization and whoever started it.
package feedback

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

// Canceller owns the cancellation flag of one run.
type Canceller struct {
	ctx      context.Context
	cancel   context.CancelFunc
	canceled atomic.Bool
}

// NewCanceller returns a canceller whose flag is also raised when parent is done.
func NewCanceller(parent context.Context) *Canceller {
	ctx, cancel := context.WithCancel(parent)
	return &Canceller{ctx: ctx, cancel: cancel}
}

// Cancel raises the flag. It is safe to call more than once.
func (c *Canceller) Cancel() {
	c.canceled.Store(true)
	c.cancel()
}

// IsCanceled reports whether the flag has been raised.
func (c *Canceller) IsCanceled() bool {
	return c.canceled.Load() || c.ctx.Err() != nil
}

// Context is done once the flag is raised.
func (c *Canceller) Context() context.Context {
	return c.ctx
}

// Feedback is handed to every stage of a run. It is safe for concurrent use.
type Feedback struct {
	logger    *zap.Logger
	canceller *Canceller
	warnings  atomic.Int64
}

// New creates a Feedback reporting to logger and observing canceller.
func New(logger *zap.Logger, canceller *Canceller) *Feedback {
	if logger == nil {
		logger = zap.NewNop()
	}
	if canceller == nil {
		canceller = NewCanceller(context.Background())
	}
	return &Feedback{logger: logger, canceller: canceller}
}

// Info reports progress.
func (f *Feedback) Info(msg string, fields ...zap.Field) {
	f.logger.Info(msg, fields...)
}

// Warn reports a recoverable problem and counts it.
func (f *Feedback) Warn(msg string, fields ...zap.Field) {
	f.warnings.Add(1)
	f.logger.Warn(msg, fields...)
}

// Warnings returns the number of warnings reported so far.
func (f *Feedback) Warnings() int64 {
	return f.warnings.Load()
}

// Logger returns the underlying logger.
func (f *Feedback) Logger() *zap.Logger {
	return f.logger
}

// EnsureNotCanceled returns sinkerrors.ErrCanceled once cancellation was requested.
func (f *Feedback) EnsureNotCanceled() error {
	if f.canceller.IsCanceled() {
		return sinkerrors.ErrCanceled
	}
	return nil
}

// IsCanceled reports whether cancellation was requested.
func (f *Feedback) IsCanceled() bool {
	return f.canceller.IsCanceled()
}

// Context is done once cancellation was requested.
func (f *Feedback) Context() context.Context {
	return f.canceller.Context()
}

// Controller makes sure at most one run is in flight: starting a run
// cancels the previous one if it is still going.
type Controller struct {
	mu      sync.Mutex
	current *Canceller
}

// Begin cancels the previous run, if any, and returns the canceller of the new one.
func (c *Controller) Begin(parent context.Context) *Canceller {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Cancel()
	}
	c.current = NewCanceller(parent)
	return c.current
}

// CancelCurrent cancels the run in flight, if any.
func (c *Controller) CancelCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Cancel()
	}
}

// Done forgets canc if it is still the current run.
func (c *Controller) Done(canc *Canceller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == canc {
		c.current = nil
	}
}
