package diskbuffer

import "fmt"

type ackInfo struct {
	bytes    uint64
	events   uint32
	rejected bool
}

// ackTracker turns out-of-order resolutions into a contiguous frontier.
// Every id below frontier is resolved; ids at or above it that are already
// resolved wait in pending until the gap in front of them closes.
type ackTracker struct {
	frontier uint64
	pending  map[uint64]ackInfo
}

func newAckTracker(frontier uint64) *ackTracker {
	return &ackTracker{frontier: frontier, pending: make(map[uint64]ackInfo)}
}

// ackBatch summarizes the records released by one resolution.
type ackBatch struct {
	records  uint64
	bytes    uint64
	events   uint64
	rejected uint64 // events
}

// resolve records id as done. delivered is the exclusive upper bound of ids
// handed out so far; resolving anything outside [frontier, delivered) or
// resolving the same id twice is a caller bug.
func (t *ackTracker) resolve(id, delivered uint64, info ackInfo) (ackBatch, error) {
	if id < t.frontier {
		return ackBatch{}, fmt.Errorf("%w: record %d is below the acknowledged frontier %d", ErrAlreadyResolved, id, t.frontier)
	}
	if id >= delivered {
		return ackBatch{}, fmt.Errorf("%w: record %d (next undelivered id is %d)", ErrNotDelivered, id, delivered)
	}
	if _, dup := t.pending[id]; dup {
		return ackBatch{}, fmt.Errorf("%w: record %d", ErrAlreadyResolved, id)
	}
	t.pending[id] = info

	var b ackBatch
	for {
		next, ok := t.pending[t.frontier]
		if !ok {
			break
		}
		delete(t.pending, t.frontier)
		t.frontier++
		b.records++
		b.bytes += next.bytes
		b.events += uint64(next.events)
		if next.rejected {
			b.rejected += uint64(next.events)
		}
	}
	return b, nil
}

func (t *ackTracker) outstanding() int { return len(t.pending) }
