package diskbuffer

// Usage is a point-in-time view of the buffer's counters.
type Usage struct {
	// ReceivedEventCount and ReceivedByteSize count every record ever
	// accepted by the writer. ReceivedByteSize is the sum of the sizes
	// returned by WriteRecord, framing included.
	ReceivedEventCount uint64
	ReceivedByteSize   uint64

	// BufferedRecords counts unacknowledged records, read or not.
	BufferedRecords  uint64
	BufferedByteSize uint64

	SentEventCount     uint64
	SentByteSize       uint64
	DroppedEventCount  uint64
	RejectedEventCount uint64

	MaxBufferSize uint64
	MaxRecords    uint64
}

// UsageTracker is a read-only view of the ledger for metrics export.
type UsageTracker struct {
	b *buffer
}

// Snapshot returns the current counters.
func (u *UsageTracker) Snapshot() Usage {
	state, buffered := u.b.ledger.snapshot()
	return Usage{
		ReceivedEventCount: state.ReceivedEventCount,
		ReceivedByteSize:   state.ReceivedByteSize,
		BufferedRecords:    state.TotalRecords,
		BufferedByteSize:   buffered,
		SentEventCount:     state.SentEventCount,
		SentByteSize:       state.SentByteSize,
		DroppedEventCount:  state.DroppedEventCount,
		RejectedEventCount: u.b.ledger.rejectedEvents(),
		MaxBufferSize:      uint64(u.b.cfg.MaxBufferSize),
		MaxRecords:         u.b.cfg.MaxRecords,
	}
}

// ID identifies the buffer instance the tracker belongs to. It changes every
// time the buffer is opened.
func (u *UsageTracker) ID() string {
	return u.b.id.String()
}

// DataDir returns the buffer's data directory.
func (u *UsageTracker) DataDir() string {
	return u.b.cfg.DataDir
}
