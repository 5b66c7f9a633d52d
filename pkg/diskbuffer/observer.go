package diskbuffer

import (
	"time"

	"github.com/fluxorio/diskbuffer/pkg/core"
)

// Observer receives lifecycle notifications. Implementations must be cheap
// and must not call back into the buffer.
type Observer interface {
	OnRecover(RecoverInfo)
	OnRotate(RotateInfo)
	OnSegmentDeleted(DeleteInfo)
	OnFlush(FlushInfo)
}

// RecoverInfo describes what Open found on disk.
type RecoverInfo struct {
	LedgerFound    bool
	CleanShutdown  bool
	Segments       int
	Records        uint64 // unacknowledged records found in segments
	WriterNextID   uint64
	LastAckedID    uint64
	TruncatedBytes int64 // bytes dropped from an incomplete tail write
	Duration       time.Duration
}

// RotateInfo describes a segment rotation.
type RotateInfo struct {
	Sealed     uint64
	SealedSize int64
	Opened     uint64
	Reason     string
}

// DeleteInfo describes a reclaimed (or failed to reclaim) segment.
type DeleteInfo struct {
	Segment uint64
	Size    int64
	Err     error
}

// FlushInfo describes a durability point.
type FlushInfo struct {
	Duration time.Duration
	Err      error
}

type nopObserver struct{}

func (nopObserver) OnRecover(RecoverInfo) {}
func (nopObserver) OnRotate(RotateInfo) {}
func (nopObserver) OnSegmentDeleted(DeleteInfo) {}
func (nopObserver) OnFlush(FlushInfo) {}

type options struct {
	logger   core.Logger
	observer Observer
	now      func() time.Time
}

// Option customizes Open.
type Option func(*options)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an observer for rotation, deletion, flush and recovery events.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   core.NewNopLogger(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
