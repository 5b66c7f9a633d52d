package diskbuffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// Frame layout (little endian):
//
//	[payload length u32][record id u64][event count u32][flags u8][payload][crc32c u32]
//
// The checksum covers the header and the payload.
const (
	frameHeaderSize  = 4 + 8 + 4 + 1
	frameTrailerSize = 4

	// FrameOverhead is the number of bytes a frame adds around its payload.
	FrameOverhead = frameHeaderSize + frameTrailerSize
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Frame is a decoded on-disk record.
type Frame struct {
	ID         uint64
	EventCount uint32
	Flags      uint8
	Payload    []byte
}

// EncodeRecord frames payload into its on-disk representation.
func EncodeRecord(id uint64, eventCount uint32, flags uint8, payload []byte) ([]byte, error) {
	if eventCount == 0 {
		return nil, ErrInvalidEventCount
	}
	if uint64(len(payload)) > math.MaxUint32-FrameOverhead {
		return nil, ErrRecordTooLarge
	}

	buf := make([]byte, FrameOverhead+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[4:12], id)
	binary.LittleEndian.PutUint32(buf[12:16], eventCount)
	buf[16] = flags
	copy(buf[frameHeaderSize:], payload)

	end := frameHeaderSize + len(payload)
	binary.LittleEndian.PutUint32(buf[end:], crc32.Checksum(buf[:end], castagnoli))
	return buf, nil
}

// DecodeRecord decodes the first frame in b and returns it with its framed length.
func DecodeRecord(b []byte) (Frame, int, error) {
	if len(b) < frameHeaderSize {
		return Frame{}, 0, ErrTruncated
	}
	n := int(binary.LittleEndian.Uint32(b[0:4]))
	total := FrameOverhead + n
	if len(b) < total {
		return Frame{}, total, ErrTruncated
	}
	return verifyFrame(b[:total])
}

// readFrame reads one frame from r. A clean end of input before the first
// header byte returns io.EOF; any partial frame returns ErrTruncated. On a
// checksum failure the declared frame length is still returned so that
// callers can tell whether the damage reaches the end of the file.
func readFrame(r io.Reader, maxPayload uint32) (Frame, int, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, 0, ErrTruncated
		}
		return Frame{}, 0, err
	}

	n := binary.LittleEndian.Uint32(hdr[0:4])
	total := FrameOverhead + int(n)
	if maxPayload > 0 && n > maxPayload {
		return Frame{}, total, fmt.Errorf("%w: declared payload length %d exceeds %d", ErrChecksumMismatch, n, maxPayload)
	}

	buf := make([]byte, total)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[frameHeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, total, ErrTruncated
		}
		return Frame{}, total, err
	}
	return verifyFrame(buf)
}

func verifyFrame(b []byte) (Frame, int, error) {
	end := len(b) - frameTrailerSize
	want := binary.LittleEndian.Uint32(b[end:])
	if crc32.Checksum(b[:end], castagnoli) != want {
		return Frame{}, len(b), ErrChecksumMismatch
	}
	return Frame{
		ID:         binary.LittleEndian.Uint64(b[4:12]),
		EventCount: binary.LittleEndian.Uint32(b[12:16]),
		Flags:      b[16],
		Payload:    b[frameHeaderSize:end],
	}, len(b), nil
}
