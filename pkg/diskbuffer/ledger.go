package diskbuffer

import (
	"fmt"
	"sync"

	"github.com/fluxorio/diskbuffer/pkg/core"
)

// ledger is the single owner of the buffer's positions and counters. The
// writer and the reader only hold a pointer to it. Every committed mutation
// closes the current changed channel, which wakes any goroutine suspended in
// WriteRecord or Next.
type ledger struct {
	dir    string
	logger core.Logger

	mu          sync.Mutex
	state       ledgerState
	acks        *ackTracker
	bufferedLen uint64 // framed bytes of unacknowledged records
	rejected    uint64 // events resolved with Reject, this process only
	dirty       bool
	changedCh   chan struct{}
	failure     error
	closed      bool
}

func newLedger(dir string, state ledgerState, bufferedLen uint64, logger core.Logger) *ledger {
	return &ledger{
		dir:         dir,
		logger:      logger,
		state:       state,
		acks:        newAckTracker(state.LastAckedID),
		bufferedLen: bufferedLen,
		changedCh:   make(chan struct{}),
	}
}

// changed returns a channel that is closed on the next committed mutation.
// Grab it before evaluating a condition so a wakeup cannot be missed.
func (l *ledger) changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changedCh
}

func (l *ledger) notifyLocked() {
	close(l.changedCh)
	l.changedCh = make(chan struct{})
}

func (l *ledger) snapshot() (ledgerState, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.bufferedLen
}

func (l *ledger) writerNextID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.WriterNextID
}

func (l *ledger) readerNextID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.ReaderNextID
}

// hasUnread reports whether a written record is waiting for the reader.
func (l *ledger) hasUnread() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.ReaderNextID < l.state.WriterNextID
}

// isFull reports whether a frame of size n must wait for capacity. An empty
// buffer always accepts one record so that a large frame cannot deadlock.
func (l *ledger) isFull(maxRecords, maxBytes, n uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if maxRecords > 0 && l.state.TotalRecords >= maxRecords {
		return true
	}
	if maxBytes > 0 && l.bufferedLen > 0 && l.bufferedLen+n > maxBytes {
		return true
	}
	return false
}

// drained reports the reader's end-of-stream condition: no more writes will
// come and every record ever written has been acknowledged.
func (l *ledger) drained() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.WriterClosed && l.state.TotalRecords == 0
}

func (l *ledger) trackWrite(id uint64, events uint32, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id != l.state.WriterNextID {
		return fmt.Errorf("write of record %d out of sequence, expected %d", id, l.state.WriterNextID)
	}
	l.state.WriterNextID++
	l.state.TotalRecords = l.state.WriterNextID - l.state.LastAckedID
	l.state.ReceivedEventCount += uint64(events)
	l.state.ReceivedByteSize += uint64(n)
	l.bufferedLen += uint64(n)
	l.dirty = true
	l.notifyLocked()
	return nil
}

func (l *ledger) trackDropped(events uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.DroppedEventCount += uint64(events)
	l.dirty = true
}

// trackRead moves the read position past id. Reads wake nobody: only writes,
// flushes, closes and acknowledgements change what a waiter can do.
func (l *ledger) trackRead(id uint64, events uint32, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id != l.state.ReaderNextID {
		return fmt.Errorf("read of record %d out of sequence, expected %d", id, l.state.ReaderNextID)
	}
	l.state.ReaderNextID++
	l.state.SentEventCount += uint64(events)
	l.state.SentByteSize += uint64(n)
	l.dirty = true
	return nil
}

// acknowledge resolves id and, when the contiguous frontier moves, persists
// the new checkpoint before waking waiters. It returns the frontier after
// the call and whether it moved.
func (l *ledger) acknowledge(id uint64, info ackInfo) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, false, fmt.Errorf("%w: record %d", ErrStaleFinalizer, id)
	}

	batch, err := l.acks.resolve(id, l.state.ReaderNextID, info)
	if err != nil {
		return 0, false, err
	}
	if batch.records == 0 {
		return l.state.LastAckedID, false, nil
	}

	l.state.LastAckedID = l.acks.frontier
	l.state.TotalRecords = l.state.WriterNextID - l.state.LastAckedID
	l.bufferedLen -= batch.bytes
	l.rejected += batch.rejected
	l.dirty = true
	if err := l.persistLocked(); err != nil {
		// The checkpoint stays dirty and is retried by the next flush.
		// Losing it only means redelivery after a crash.
		l.logger.Errorw("persisting acknowledgement checkpoint failed", "last_acked_id", l.state.LastAckedID, "error", err)
	}
	l.notifyLocked()
	return l.state.LastAckedID, true, nil
}

func (l *ledger) markWriterClosed() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.WriterClosed = true
	l.dirty = true
	err := l.persistLocked()
	l.notifyLocked()
	return err
}

// persistFlushed records that every record below upTo is on stable storage,
// writes the ledger if it changed and wakes waiters.
func (l *ledger) persistFlushed(upTo uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if upTo > l.state.FlushedWriterID {
		l.state.FlushedWriterID = upTo
		l.dirty = true
	}
	var err error
	if l.dirty {
		err = l.persistLocked()
	}
	l.notifyLocked()
	return err
}

func (l *ledger) persistLocked() error {
	if err := writeLedgerFile(l.dir, l.state); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

// fail records a fatal error. All later operations return it.
func (l *ledger) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failure == nil {
		l.failure = err
		l.notifyLocked()
	}
}

func (l *ledger) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failure
}

func (l *ledger) rejectedEvents() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

// close persists the final state and stops accepting acknowledgements.
func (l *ledger) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	if l.dirty {
		err = l.persistLocked()
	}
	l.notifyLocked()
	return err
}
