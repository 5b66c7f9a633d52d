package diskbuffer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Writer appends records to the buffer. It is safe for concurrent use, but
// writes are serialized: records are stored in the order WriteRecord calls
// acquire the writer.
type Writer struct {
	b *buffer

	mu        sync.Mutex
	closed    bool
	lastFlush time.Time

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

func newWriter(b *buffer) *Writer {
	return &Writer{b: b, done: make(chan struct{}), lastFlush: b.now()}
}

// WriteRecord frames payload as one record carrying eventCount events and
// appends it. While the buffer is at capacity it waits for the reader to
// acknowledge records, until ctx is done. It returns the framed size, which
// is what byte accounting counts.
//
// A record is durable only once Flush (or Close) has returned.
func (w *Writer) WriteRecord(ctx context.Context, payload []byte, eventCount uint32) (int, error) {
	return w.write(ctx, payload, eventCount, true)
}

// TryWriteRecord is WriteRecord without waiting: a full buffer returns
// ErrBufferFull.
func (w *Writer) TryWriteRecord(payload []byte, eventCount uint32) (int, error) {
	return w.write(context.Background(), payload, eventCount, false)
}

func (w *Writer) write(ctx context.Context, payload []byte, eventCount uint32, wait bool) (int, error) {
	if eventCount == 0 {
		return 0, ErrInvalidEventCount
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}
	b := w.b
	if err := b.ledger.err(); err != nil {
		return 0, err
	}

	flags, data, err := b.codec.compress(payload)
	if err != nil {
		return 0, err
	}
	id := b.ledger.writerNextID()
	frame, err := EncodeRecord(id, eventCount, flags, data)
	if err != nil {
		return 0, err
	}
	if uint64(len(frame)) > uint64(b.cfg.MaxRecordSize) {
		return 0, fmt.Errorf("%w: %d bytes framed, limit is %s", ErrRecordTooLarge, len(frame), b.cfg.MaxRecordSize)
	}

	if err := w.waitForCapacity(ctx, uint64(len(frame)), wait); err != nil {
		return 0, err
	}

	n, err := b.store.append(frame, id)
	if err != nil {
		return 0, err
	}
	if err := b.ledger.trackWrite(id, eventCount, n); err != nil {
		return 0, err
	}

	if interval := b.cfg.flushInterval(); interval > 0 && b.now().Sub(w.lastFlush) >= interval {
		if err := w.flushLocked(); err != nil {
			b.logger.Errorw("periodic flush failed", "error", err)
		}
	}
	return n, nil
}

// waitForCapacity returns once a frame of n bytes fits.
func (w *Writer) waitForCapacity(ctx context.Context, n uint64, wait bool) error {
	l := w.b.ledger
	maxRecords, maxBytes := w.b.cfg.MaxRecords, uint64(w.b.cfg.MaxBufferSize)
	for {
		changed := l.changed()
		if err := l.err(); err != nil {
			return err
		}
		if !l.isFull(maxRecords, maxBytes, n) {
			return nil
		}
		if !wait {
			return ErrBufferFull
		}
		select {
		case <-changed:
		case <-w.done:
			return ErrWriterClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Flush makes every record written so far durable and persists the ledger.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	start := w.b.now()
	// w.mu is held, so nothing is appended between here and the sync.
	upTo := w.b.ledger.writerNextID()
	err := w.b.store.sync()
	if err == nil {
		err = w.b.ledger.persistFlushed(upTo)
	}
	end := w.b.now()
	w.b.observer.OnFlush(FlushInfo{Duration: end.Sub(start), Err: err})
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	w.lastFlush = end
	return nil
}

// Close flushes, records that no more writes will come and wakes the reader
// so it can finish once everything has been acknowledged. A WriteRecord
// waiting for capacity returns ErrWriterClosed.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		w.closed = true
		err := w.flushLocked()
		if merr := w.b.ledger.markWriterClosed(); err == nil {
			err = merr
		}
		w.mu.Unlock()

		if rerr := w.b.release(); err == nil {
			err = rerr
		}
		w.closeErr = err
	})
	return w.closeErr
}

// Usage returns the buffer's usage tracker.
func (w *Writer) Usage() *UsageTracker {
	return &UsageTracker{b: w.b}
}

// Segments describes the segment files currently on disk.
func (w *Writer) Segments() []SegmentStat {
	return w.b.store.stats()
}
