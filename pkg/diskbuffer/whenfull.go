package diskbuffer

import (
	"context"
	"errors"
)

// RecordWriter is the producer side of a buffer.
type RecordWriter interface {
	WriteRecord(ctx context.Context, payload []byte, eventCount uint32) (int, error)
	Flush() error
	Close() error
}

var (
	_ RecordWriter = (*Writer)(nil)
	_ RecordWriter = (*DropNewestWriter)(nil)
)

// NewPolicyWriter applies the configured when-full behavior to w.
func NewPolicyWriter(w *Writer, policy WhenFull) RecordWriter {
	if policy == WhenFullDropNewest {
		return NewDropNewestWriter(w)
	}
	return w
}

// DropNewestWriter discards records that arrive while the buffer is full
// instead of waiting. Discarded events are counted in
// Usage.DroppedEventCount.
type DropNewestWriter struct {
	w *Writer
}

// NewDropNewestWriter wraps w.
func NewDropNewestWriter(w *Writer) *DropNewestWriter {
	return &DropNewestWriter{w: w}
}

// WriteRecord writes payload, or drops it and returns 0 when the buffer is
// full. Other errors are returned unchanged.
func (d *DropNewestWriter) WriteRecord(ctx context.Context, payload []byte, eventCount uint32) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := d.w.TryWriteRecord(payload, eventCount)
	if errors.Is(err, ErrBufferFull) {
		d.w.b.ledger.trackDropped(eventCount)
		d.w.b.logger.Debugw("buffer full, dropped record", "events", eventCount)
		return 0, nil
	}
	return n, err
}

func (d *DropNewestWriter) Flush() error { return d.w.Flush() }

func (d *DropNewestWriter) Close() error { return d.w.Close() }
