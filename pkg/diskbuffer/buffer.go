// Package diskbuffer implements a durable, disk-backed buffer between a
// single producer and a single consumer.
//
// Records are appended to numbered segment files and handed to the reader in
// write order. The consumer resolves every record through its Finalizer; the
// contiguous prefix of resolved records is checkpointed in the ledger file and
// the segments behind it are deleted. After a restart the reader resumes at
// the checkpoint, so delivery is at-least-once.
//
//	w, r, err := diskbuffer.Open(diskbuffer.DefaultConfig(dir))
//	go func() {
//		for rec, err := range r.All(ctx) {
//			...
//			rec.Finalizer.Ack()
//		}
//	}()
//	w.WriteRecord(ctx, payload, 1)
package diskbuffer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxorio/diskbuffer/pkg/core"
	"github.com/fluxorio/diskbuffer/pkg/core/failfast"
)

// buffer is the state shared by one Writer and one Reader.
type buffer struct {
	id       uuid.UUID
	cfg      Config
	logger   core.Logger
	observer Observer
	now      func() time.Time

	ledger *ledger
	store  *segmentStore
	codec  *payloadCodec
	lock   *dirLock

	mu   sync.Mutex
	refs int
}

// Open opens or creates the buffer in cfg.DataDir, recovering from any
// previous crash, and returns its only writer and its only reader. The data
// directory stays locked until both are closed.
func Open(cfg Config, opts ...Option) (*Writer, *Reader, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	o := buildOptions(opts)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	lock, err := lockDir(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	b, err := openLocked(cfg, o, lock)
	if err != nil {
		lock.release()
		return nil, nil, err
	}
	return newWriter(b), newReader(b), nil
}

func openLocked(cfg Config, o options, lock *dirLock) (*buffer, error) {
	// A leftover temporary ledger is an interrupted persist; the old ledger
	// is still intact.
	_ = os.Remove(filepath.Join(cfg.DataDir, ledgerFileName+".tmp"))

	state, found, err := readLedgerFile(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	rec, err := recoverDir(cfg.DataDir, state, found, cfg.maxPayload(), true, o.logger)
	if err != nil {
		if errors.Is(err, ErrCorrupted) {
			o.logger.Errorw("buffer data is corrupted", "dir", cfg.DataDir, "error", err)
		}
		return nil, err
	}
	if err := writeLedgerFile(cfg.DataDir, rec.state); err != nil {
		return nil, err
	}

	codec, err := newPayloadCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	store, err := openSegmentStore(cfg.DataDir, rec.segments, cfg, o.logger, o.observer)
	if err != nil {
		return nil, err
	}

	b := &buffer{
		id:       uuid.New(),
		cfg:      cfg,
		logger:   o.logger,
		observer: o.observer,
		now:      o.now,
		ledger:   newLedger(cfg.DataDir, rec.state, rec.bufferedLen, o.logger),
		store:    store,
		codec:    codec,
		lock:     lock,
		refs:     2,
	}

	o.observer.OnRecover(RecoverInfo{
		LedgerFound:    rec.ledgerFound,
		CleanShutdown:  rec.cleanShutdown,
		Segments:       len(rec.segments),
		Records:        rec.state.TotalRecords,
		WriterNextID:   rec.state.WriterNextID,
		LastAckedID:    rec.state.LastAckedID,
		TruncatedBytes: rec.truncatedBytes,
		Duration:       rec.duration,
	})
	if rec.ledgerFound && !rec.cleanShutdown {
		b.logger.Warnw("buffer was not closed cleanly, unflushed writes may have been lost", "dir", cfg.DataDir)
	}
	b.logger.Infow("opened disk buffer",
		"dir", cfg.DataDir,
		"instance", b.id.String(),
		"segments", len(rec.segments),
		"buffered_records", rec.state.TotalRecords,
		"buffered_bytes", rec.bufferedLen,
		"writer_next_id", rec.state.WriterNextID,
		"last_acked_id", rec.state.LastAckedID,
	)
	return b, nil
}

// acknowledge resolves one delivered record. Contract violations panic.
func (b *buffer) acknowledge(f *Finalizer, rejected bool) {
	frontier, moved, err := b.ledger.acknowledge(f.id, ackInfo{
		bytes:    uint64(f.size),
		events:   f.events,
		rejected: rejected,
	})
	if err != nil {
		failfast.Wrap(err, "acknowledge record %d", f.id)
	}
	if moved {
		b.store.deleteFullyConsumed(frontier)
	}
}

// release drops one handle reference. The last one closes the files and
// unlocks the directory.
func (b *buffer) release() error {
	b.mu.Lock()
	b.refs--
	last := b.refs == 0
	b.mu.Unlock()
	if !last {
		return nil
	}

	err := errors.Join(
		b.store.close(),
		b.ledger.close(),
		b.lock.release(),
	)
	b.codec.close()
	b.logger.Infow("closed disk buffer", "dir", b.cfg.DataDir, "instance", b.id.String())
	return err
}
