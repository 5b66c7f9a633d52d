package diskbuffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

const (
	ledgerFileName = "ledger"
	ledgerVersion  = 2

	ledgerFlagWriterClosed uint16 = 1 << 0
)

var ledgerMagic = [4]byte{'D', 'B', 'L', 'G'}

// ledgerState is the persisted part of the ledger.
//
// On disk (little endian): magic[4] version u16 flags u16, ten u64 fields in
// declaration order, crc32c u32 over everything before it.
type ledgerState struct {
	WriterNextID       uint64
	ReaderNextID       uint64
	LastAckedID        uint64
	TotalRecords       uint64
	ReceivedEventCount uint64
	ReceivedByteSize   uint64
	SentEventCount     uint64
	SentByteSize       uint64
	DroppedEventCount  uint64

	// FlushedWriterID is the writer position at the last successful flush:
	// every record below it reached stable storage. Only flushes advance it.
	FlushedWriterID uint64

	WriterClosed bool
}

const ledgerFileSize = 4 + 2 + 2 + 10*8 + 4

func (s ledgerState) fields() [10]uint64 {
	return [10]uint64{
		s.WriterNextID, s.ReaderNextID, s.LastAckedID, s.TotalRecords,
		s.ReceivedEventCount, s.ReceivedByteSize,
		s.SentEventCount, s.SentByteSize, s.DroppedEventCount,
		s.FlushedWriterID,
	}
}

func encodeLedger(s ledgerState) []byte {
	buf := make([]byte, ledgerFileSize)
	copy(buf[0:4], ledgerMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], ledgerVersion)
	var flags uint16
	if s.WriterClosed {
		flags |= ledgerFlagWriterClosed
	}
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	off := 8
	for _, v := range s.fields() {
		binary.LittleEndian.PutUint64(buf[off:off+8], v)
		off += 8
	}
	binary.LittleEndian.PutUint32(buf[off:], crc32.Checksum(buf[:off], castagnoli))
	return buf
}

func decodeLedger(buf []byte) (ledgerState, error) {
	if len(buf) != ledgerFileSize {
		return ledgerState{}, fmt.Errorf("%w: size %d, want %d", ErrLedgerCorrupted, len(buf), ledgerFileSize)
	}
	if [4]byte(buf[0:4]) != ledgerMagic {
		return ledgerState{}, fmt.Errorf("%w: bad magic", ErrLedgerCorrupted)
	}
	end := ledgerFileSize - 4
	if crc32.Checksum(buf[:end], castagnoli) != binary.LittleEndian.Uint32(buf[end:]) {
		return ledgerState{}, fmt.Errorf("%w: checksum mismatch", ErrLedgerCorrupted)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != ledgerVersion {
		return ledgerState{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	var f [10]uint64
	off := 8
	for i := range f {
		f[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	return ledgerState{
		WriterNextID:       f[0],
		ReaderNextID:       f[1],
		LastAckedID:        f[2],
		TotalRecords:       f[3],
		ReceivedEventCount: f[4],
		ReceivedByteSize:   f[5],
		SentEventCount:     f[6],
		SentByteSize:       f[7],
		DroppedEventCount:  f[8],
		FlushedWriterID:    f[9],
		WriterClosed:       binary.LittleEndian.Uint16(buf[6:8])&ledgerFlagWriterClosed != 0,
	}, nil
}

// readLedgerFile loads the ledger from dir. found is false when no ledger exists yet.
func readLedgerFile(dir string) (state ledgerState, found bool, err error) {
	buf, err := os.ReadFile(filepath.Join(dir, ledgerFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ledgerState{}, false, nil
		}
		return ledgerState{}, false, fmt.Errorf("read ledger: %w", err)
	}
	state, err = decodeLedger(buf)
	if err != nil {
		return ledgerState{}, true, err
	}
	return state, true, nil
}

// writeLedgerFile atomically replaces the ledger: write a temporary file,
// fsync it, rename it over the old ledger, then fsync the directory.
func writeLedgerFile(dir string, s ledgerState) error {
	path := filepath.Join(dir, ledgerFileName)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary ledger: %w", err)
	}
	if _, err := f.Write(encodeLedger(s)); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temporary ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temporary ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temporary ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename ledger into place: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
