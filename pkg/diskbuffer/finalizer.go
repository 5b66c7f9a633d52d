package diskbuffer

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fluxorio/diskbuffer/pkg/core/failfast"
)

// Record is one record handed out by the Reader.
type Record struct {
	ID         uint64
	EventCount uint32
	Payload    []byte
	// Size is the framed on-disk size, the unit of byte accounting.
	Size int
	// Finalizer must be resolved exactly once.
	Finalizer *Finalizer
}

// Finalizer resolves a delivered record. Resolving it a second time, or after
// the buffer that issued it has been closed, panics with a
// *failfast.Violation.
type Finalizer struct {
	owner    *buffer
	instance uuid.UUID
	id       uint64
	size     int
	events   uint32
	resolved atomic.Bool
}

func newFinalizer(b *buffer, id uint64, size int, events uint32) *Finalizer {
	return &Finalizer{owner: b, instance: b.id, id: id, size: size, events: events}
}

// ID returns the record id this finalizer resolves.
func (f *Finalizer) ID() uint64 { return f.id }

// Ack marks the record as delivered.
func (f *Finalizer) Ack() { f.resolve(false) }

// Reject marks the record as permanently undeliverable. It is released like
// an acknowledged record and counted separately in Usage.
func (f *Finalizer) Reject() { f.resolve(true) }

func (f *Finalizer) resolve(rejected bool) {
	failfast.NotNil(f, "finalizer")
	if !f.resolved.CompareAndSwap(false, true) {
		failfast.Wrap(ErrAlreadyResolved, "resolve record %d", f.id)
	}
	f.owner.acknowledge(f, rejected)
}
