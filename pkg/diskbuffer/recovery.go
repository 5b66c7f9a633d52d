package diskbuffer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fluxorio/diskbuffer/pkg/core"
)

// recovery is the result of scanning a data directory.
type recovery struct {
	state          ledgerState
	ledgerFound    bool
	cleanShutdown  bool
	segments       []*segmentInfo
	bufferedLen    uint64
	bufferedEvents uint64
	truncatedBytes int64
	tornSegment    uint64
	duration       time.Duration
}

// recoverDir reconciles the persisted ledger with the segment files. The
// segments are trusted over the ledger for the write position: the ledger may
// have been persisted by an acknowledgement while newer writes were still
// unflushed. With repair set, an incomplete write at the tail of the highest
// segment is cut off; without it the directory is left untouched.
func recoverDir(dir string, state ledgerState, found bool, maxPayload uint32, repair bool, logger core.Logger) (*recovery, error) {
	start := time.Now()
	segs, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	rec := &recovery{
		ledgerFound:   found,
		cleanShutdown: found && state.WriterClosed,
		segments:      segs,
	}

	var (
		seen   bool
		lastID uint64
	)
	for i, seg := range segs {
		highest := i == len(segs)-1
		err := scanSegment(seg, maxPayload, func(f Frame, n int) error {
			if !seen {
				if !found {
					state.LastAckedID = f.ID
				} else if f.ID > state.LastAckedID {
					logger.Warnw("oldest segment starts past the acknowledged position",
						"segment", seg.id, "first_id", f.ID, "last_acked_id", state.LastAckedID)
					state.LastAckedID = f.ID
				}
			} else if f.ID != lastID+1 {
				// Ids missing between two records are fine as long as all of
				// them were acknowledged before they were lost.
				if f.ID <= lastID || f.ID > state.LastAckedID {
					return fmt.Errorf("%w: record %d follows record %d", errOutOfSequence, f.ID, lastID)
				}
			}
			seen = true
			lastID = f.ID
			seg.add(f.ID, n)
			if f.ID >= state.LastAckedID {
				rec.bufferedLen += uint64(n)
				rec.bufferedEvents += uint64(f.EventCount)
			}
			return nil
		})
		if err == nil {
			continue
		}

		var ce *CorruptionError
		if !errors.As(err, &ce) {
			return nil, err
		}
		torn := highest && (errors.Is(ce.Err, ErrTruncated) ||
			errors.Is(ce.Err, ErrChecksumMismatch) && ce.Offset+ce.frameLen >= ce.fileSize)
		if !torn {
			return nil, err
		}
		// Cutting here must not lose anything a flush made durable. Otherwise
		// the bad frame is damage, not an interrupted write.
		if next := nextID(state.LastAckedID, lastID, seen); found && next < state.FlushedWriterID {
			return nil, fmt.Errorf("records %d to %d were flushed but are unreadable: %w",
				next, state.FlushedWriterID-1, err)
		}
		rec.truncatedBytes = ce.fileSize - ce.Offset
		rec.tornSegment = seg.id
		if repair {
			if terr := os.Truncate(seg.path, ce.Offset); terr != nil {
				return nil, fmt.Errorf("truncate incomplete write in segment %d: %w", seg.id, terr)
			}
			logger.Warnw("dropped incomplete write at the tail of the buffer",
				"segment", seg.id, "offset", ce.Offset, "bytes", rec.truncatedBytes, "cause", ce.Err)
		}
	}

	state.WriterNextID = nextID(state.LastAckedID, lastID, seen)
	if found && state.WriterNextID < state.FlushedWriterID {
		return nil, fmt.Errorf("%w: segments end at record %d but records up to %d were flushed",
			ErrCorrupted, state.WriterNextID, state.FlushedWriterID-1)
	}
	state.ReaderNextID = state.LastAckedID
	state.TotalRecords = state.WriterNextID - state.LastAckedID
	if !found {
		state.ReceivedByteSize = rec.bufferedLen
		state.ReceivedEventCount = rec.bufferedEvents
	}
	state.WriterClosed = false

	rec.state = state
	rec.duration = time.Since(start)
	return rec, nil
}

// nextID is the write position implied by the segments: one past the last
// record found, but never behind the acknowledged position.
func nextID(lastAcked, lastID uint64, seen bool) uint64 {
	if seen && lastID+1 > lastAcked {
		return lastID + 1
	}
	return lastAcked
}

// scanSegment validates every frame in seg and calls fn for each. The first
// bad frame stops the scan with a *CorruptionError.
func scanSegment(seg *segmentInfo, maxPayload uint32, fn func(Frame, int) error) error {
	f, err := os.Open(seg.path)
	if err != nil {
		return fmt.Errorf("open segment %d: %w", seg.id, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat segment %d: %w", seg.id, err)
	}
	size := fi.Size()

	br := bufio.NewReaderSize(f, segmentReadBufferSize)
	var offset int64
	for {
		frame, n, err := readFrame(br, maxPayload)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err == nil {
			err = fn(frame, n)
		}
		if err != nil {
			if !isCodecError(err) && !errors.Is(err, errOutOfSequence) {
				return fmt.Errorf("scan segment %d: %w", seg.id, err)
			}
			return &CorruptionError{Segment: seg.id, Offset: offset, Err: err, frameLen: int64(n), fileSize: size}
		}
		offset += int64(n)
	}
}
