package diskbuffer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

const segmentReadBufferSize = 64 << 10

// segmentReader reads frames sequentially from one segment file. The active
// segment may still be growing, so a short read rewinds to the start of the
// frame and can be retried once more bytes have been flushed.
type segmentReader struct {
	id         uint64
	f          *os.File
	br         *bufio.Reader
	offset     int64
	maxPayload uint32
}

// openSegmentReader opens segment id positioned at offset.
func openSegmentReader(dir string, id uint64, offset int64, maxPayload uint32) (*segmentReader, error) {
	f, err := os.Open(segmentPath(dir, id))
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", id, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek segment %d: %w", id, err)
		}
	}
	return &segmentReader{
		id:         id,
		f:          f,
		br:         bufio.NewReaderSize(f, segmentReadBufferSize),
		offset:     offset,
		maxPayload: maxPayload,
	}, nil
}

// next returns the frame at the current offset. io.EOF and ErrTruncated
// leave the reader positioned at the same frame.
func (r *segmentReader) next() (Frame, int, error) {
	frame, n, err := readFrame(r.br, r.maxPayload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, ErrTruncated) {
			if rerr := r.rewind(); rerr != nil {
				return Frame{}, 0, rerr
			}
			return Frame{}, 0, err
		}
		if isCodecError(err) {
			return Frame{}, n, &CorruptionError{Segment: r.id, Offset: r.offset, Err: err}
		}
		return Frame{}, 0, fmt.Errorf("read segment %d: %w", r.id, err)
	}
	r.offset += int64(n)
	return frame, n, nil
}

func (r *segmentReader) rewind() error {
	if _, err := r.f.Seek(r.offset, io.SeekStart); err != nil {
		return fmt.Errorf("rewind segment %d: %w", r.id, err)
	}
	r.br.Reset(r.f)
	return nil
}

func (r *segmentReader) close() error {
	return r.f.Close()
}
