package diskbuffer

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"sync"

	"github.com/fluxorio/diskbuffer/pkg/core/failfast"
)

// Reader hands out records in write order. It is meant to be driven by a
// single goroutine; finalizers may be resolved from any goroutine.
type Reader struct {
	b *buffer

	mu     sync.Mutex
	cur    *segmentReader
	closed bool

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

func newReader(b *buffer) *Reader {
	return &Reader{b: b, done: make(chan struct{})}
}

// Next returns the next record. When no record is available it waits for
// the writer, until ctx is done. It returns io.EOF once the writer is closed
// and every record ever written has been resolved; a delivered but
// unresolved record keeps the stream open.
//
// Corruption found while reading is returned as an error matching
// ErrCorrupted, and every later call returns it as well.
func (r *Reader) Next(ctx context.Context) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.b.ledger
	for {
		if r.closed {
			return nil, ErrReaderClosed
		}
		if err := l.err(); err != nil {
			return nil, err
		}

		changed := l.changed()
		rec, err := r.tryNext()
		if err != nil {
			if errors.Is(err, ErrCorrupted) {
				r.b.logger.Errorw("buffer data is corrupted, stopping", "error", err)
				l.fail(err)
			}
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
		if l.drained() {
			return nil, io.EOF
		}

		select {
		case <-changed:
		case <-r.done:
			return nil, ErrReaderClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryNext returns the next record, or nil when the reader has caught up
// with the writer.
func (r *Reader) tryNext() (*Record, error) {
	b := r.b
	if !b.ledger.hasUnread() {
		return nil, nil
	}

	var flushed, rechecked, reopened bool
	for {
		if r.cur == nil {
			sr, err := openSegmentReader(b.cfg.DataDir, b.store.oldest(), 0, b.cfg.maxPayload())
			if errors.Is(err, fs.ErrNotExist) && !reopened {
				// Reclaimed between listing and opening; the next oldest is current.
				reopened = true
				continue
			}
			if err != nil {
				return nil, err
			}
			r.cur = sr
		}

		frame, n, err := r.cur.next()
		switch {
		case err == nil:
			want := b.ledger.readerNextID()
			if frame.ID < want {
				// Acknowledged in a previous lifetime.
				continue
			}
			if frame.ID > want {
				return nil, &CorruptionError{
					Segment: r.cur.id,
					Offset:  r.cur.offset - int64(n),
					Err:     errOutOfSequence,
				}
			}
			return r.deliver(frame, n)

		case errors.Is(err, io.EOF) || errors.Is(err, ErrTruncated):
			if b.store.isSealed(r.cur.id) {
				// The writer may have sealed the segment after our read.
				if !rechecked {
					rechecked = true
					continue
				}
				if errors.Is(err, ErrTruncated) {
					return nil, &CorruptionError{Segment: r.cur.id, Offset: r.cur.offset, Err: err}
				}
				if err := r.advance(); err != nil {
					return nil, err
				}
				rechecked = false
				continue
			}
			// Written records may still sit in the writer's buffer.
			if !flushed {
				flushed = true
				if err := b.store.flushBuffered(); err != nil {
					return nil, err
				}
				continue
			}
			return nil, nil

		default:
			return nil, err
		}
	}
}

func (r *Reader) deliver(frame Frame, n int) (*Record, error) {
	b := r.b
	payload, err := b.codec.decompress(frame.Flags, frame.Payload)
	if err != nil {
		return nil, &CorruptionError{Segment: r.cur.id, Offset: r.cur.offset - int64(n), Err: err}
	}
	if err := b.ledger.trackRead(frame.ID, frame.EventCount, n); err != nil {
		return nil, err
	}
	return &Record{
		ID:         frame.ID,
		EventCount: frame.EventCount,
		Payload:    payload,
		Size:       n,
		Finalizer:  newFinalizer(b, frame.ID, n, frame.EventCount),
	}, nil
}

// advance moves to the segment after the current one.
func (r *Reader) advance() error {
	next, ok := r.b.store.nextAfter(r.cur.id)
	if !ok {
		// The active segment is always present, so a sealed segment has a
		// successor unless the store is closed.
		return ErrReaderClosed
	}
	sr, err := openSegmentReader(r.b.cfg.DataDir, next, 0, r.b.cfg.maxPayload())
	if err != nil {
		return err
	}
	r.cur.close()
	r.cur = sr
	return nil
}

// All returns the remaining records as a sequence. Iteration stops at the
// end of the stream, on the first error (which is yielded), or when the
// caller breaks out of the loop. The sequence is not restartable.
func (r *Reader) All(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Acknowledge resolves f as delivered. f must have been issued by this
// reader; anything else panics.
func (r *Reader) Acknowledge(f *Finalizer) {
	failfast.NotNil(f, "finalizer")
	if f.instance != r.b.id {
		failfast.Wrap(ErrForeignFinalizer, "acknowledge record %d", f.id)
	}
	f.Ack()
}

// Close releases the reader. Records delivered but not resolved are
// delivered again after the buffer is reopened.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		r.closed = true
		var err error
		if r.cur != nil {
			err = r.cur.close()
			r.cur = nil
		}
		r.mu.Unlock()

		if rerr := r.b.release(); err == nil {
			err = rerr
		}
		r.closeErr = err
	})
	return r.closeErr
}

// Usage returns the buffer's usage tracker.
func (r *Reader) Usage() *UsageTracker {
	return &UsageTracker{b: r.b}
}
