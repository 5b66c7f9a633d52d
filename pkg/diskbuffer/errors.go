package diskbuffer

import (
	"errors"
	"fmt"
)

// Errors.
var (
	// ErrTruncated is returned when a frame ends before its declared length.
	ErrTruncated = errors.New("diskbuffer: truncated record")
	// ErrChecksumMismatch is returned when a frame fails its CRC check.
	ErrChecksumMismatch = errors.New("diskbuffer: record checksum mismatch")
	// ErrRecordTooLarge is returned when an encoded record exceeds MaxRecordSize.
	ErrRecordTooLarge = errors.New("diskbuffer: record too large")
	// ErrInvalidEventCount is returned for records that claim zero events.
	ErrInvalidEventCount = errors.New("diskbuffer: event count must be at least 1")

	// ErrCorrupted marks unrecoverable data corruption. The buffer instance
	// stops serving reads and writes once it has been observed.
	ErrCorrupted = errors.New("diskbuffer: buffer data corrupted")
	// ErrLedgerCorrupted is returned when the ledger file fails validation.
	ErrLedgerCorrupted = errors.New("diskbuffer: ledger corrupted")
	// ErrUnsupportedVersion is returned for ledgers written by an unknown format version.
	ErrUnsupportedVersion = errors.New("diskbuffer: unsupported ledger version")
	// ErrLocked is returned when another process holds the data directory.
	ErrLocked = errors.New("diskbuffer: data directory is locked by another process")

	// ErrBufferFull is returned by TryWriteRecord when the buffer is at capacity.
	ErrBufferFull = errors.New("diskbuffer: buffer is full")
	// ErrWriterClosed is returned when writing through a closed writer.
	ErrWriterClosed = errors.New("diskbuffer: writer closed")
	// ErrReaderClosed is returned when reading through a closed reader.
	ErrReaderClosed = errors.New("diskbuffer: reader closed")
	// ErrUnknownCompression is returned for unknown compression codecs.
	ErrUnknownCompression = errors.New("diskbuffer: unknown compression")

	// Protocol violations. These are raised as failfast panics, never returned.
	ErrAlreadyResolved  = errors.New("diskbuffer: finalizer already resolved")
	ErrForeignFinalizer = errors.New("diskbuffer: finalizer issued by another buffer instance")
	ErrStaleFinalizer   = errors.New("diskbuffer: finalizer outlived its buffer instance")
	ErrNotDelivered     = errors.New("diskbuffer: record was not delivered by this reader")

	errOutOfSequence = errors.New("record id out of sequence")
)

// CorruptionError locates corrupted data inside a segment.
// It matches ErrCorrupted with errors.Is and unwraps to the codec error.
type CorruptionError struct {
	Segment uint64
	Offset  int64
	Err     error

	frameLen int64 // declared length of the bad frame, when known
	fileSize int64
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("diskbuffer: segment %d corrupted at offset %d: %v", e.Segment, e.Offset, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupted }

func isCodecError(err error) bool {
	return errors.Is(err, ErrTruncated) || errors.Is(err, ErrChecksumMismatch)
}
