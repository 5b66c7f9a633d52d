package diskbuffer

import (
	"fmt"
	"math"
	"os"

	"github.com/fluxorio/diskbuffer/pkg/core"
)

// LedgerInfo is the persisted ledger as found on disk.
type LedgerInfo struct {
	WriterNextID       uint64
	ReaderNextID       uint64
	LastAckedID        uint64
	TotalRecords       uint64
	ReceivedEventCount uint64
	ReceivedByteSize   uint64
	SentEventCount     uint64
	SentByteSize       uint64
	DroppedEventCount  uint64
	FlushedWriterID    uint64
	WriterClosed       bool
}

// DirInfo describes a data directory.
type DirInfo struct {
	DataDir     string
	LedgerFound bool
	// Ledger is the persisted ledger, Recovered what Open would resume from.
	Ledger    LedgerInfo
	Recovered LedgerInfo
	Segments  []SegmentStat

	BufferedByteSize uint64
	// TornBytes is the size of an incomplete write at the tail of the newest
	// segment that Open would cut off.
	TornBytes   int64
	TornSegment uint64
}

// Inspect validates every record in dir without modifying anything. It
// returns an error matching ErrCorrupted when Open would refuse the
// directory. Inspect does not take the directory lock, so it may run next to
// a live buffer, in which case the result is only a rough snapshot.
func Inspect(dir string) (*DirInfo, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	state, found, err := readLedgerFile(dir)
	if err != nil {
		return nil, err
	}
	rec, err := recoverDir(dir, state, found, math.MaxUint32, false, core.NewNopLogger())
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", dir, err)
	}

	info := &DirInfo{
		DataDir:          dir,
		LedgerFound:      found,
		Ledger:           ledgerInfo(state),
		Recovered:        ledgerInfo(rec.state),
		BufferedByteSize: rec.bufferedLen,
		TornBytes:        rec.truncatedBytes,
		TornSegment:      rec.tornSegment,
	}
	for i, seg := range rec.segments {
		info.Segments = append(info.Segments, SegmentStat{
			ID:      seg.id,
			Size:    seg.size,
			Records: seg.records,
			FirstID: seg.firstID,
			LastID:  seg.lastID,
			Active:  i == len(rec.segments)-1,
		})
	}
	return info, nil
}

func ledgerInfo(s ledgerState) LedgerInfo {
	return LedgerInfo{
		WriterNextID:       s.WriterNextID,
		ReaderNextID:       s.ReaderNextID,
		LastAckedID:        s.LastAckedID,
		TotalRecords:       s.TotalRecords,
		ReceivedEventCount: s.ReceivedEventCount,
		ReceivedByteSize:   s.ReceivedByteSize,
		SentEventCount:     s.SentEventCount,
		SentByteSize:       s.SentByteSize,
		DroppedEventCount:  s.DroppedEventCount,
		FlushedWriterID:    s.FlushedWriterID,
		WriterClosed:       s.WriterClosed,
	}
}
