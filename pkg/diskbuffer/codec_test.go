package diskbuffer

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestCodec_EncodeDecode_RoundTrip(t *testing.T) {
	frame, err := EncodeRecord(42, 3, flagNone, []byte("hello"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) != FrameOverhead+5 {
		t.Fatalf("framed length = %d, want %d", len(frame), FrameOverhead+5)
	}

	f, n, err := DecodeRecord(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("consumed %d bytes, want %d", n, len(frame))
	}
	if f.ID != 42 || f.EventCount != 3 || !bytes.Equal(f.Payload, []byte("hello")) {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestCodec_EmptyPayload(t *testing.T) {
	frame, err := EncodeRecord(0, 1, flagNone, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, _, err := DecodeRecord(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(f.Payload) != 0 {
		t.Fatalf("payload = %q, want empty", f.Payload)
	}
}

func TestCodec_ZeroEventCount_Rejected(t *testing.T) {
	if _, err := EncodeRecord(0, 0, flagNone, []byte("x")); !errors.Is(err, ErrInvalidEventCount) {
		t.Fatalf("err = %v, want ErrInvalidEventCount", err)
	}
}

func TestCodec_Truncated(t *testing.T) {
	frame, _ := EncodeRecord(1, 1, flagNone, []byte("payload"))
	for _, cut := range []int{1, frameHeaderSize - 1, frameHeaderSize + 2, len(frame) - 1} {
		if _, _, err := DecodeRecord(frame[:cut]); !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut at %d: err = %v, want ErrTruncated", cut, err)
		}
	}
}

func TestCodec_ChecksumMismatch(t *testing.T) {
	frame, _ := EncodeRecord(1, 1, flagNone, []byte("payload"))
	frame[frameHeaderSize+1] ^= 0xff
	if _, _, err := DecodeRecord(frame); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}

	frame, _ = EncodeRecord(1, 1, flagNone, []byte("payload"))
	frame[5] ^= 0x01 // record id is covered as well
	if _, _, err := DecodeRecord(frame); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestReadFrame_StreamBoundaries(t *testing.T) {
	var stream bytes.Buffer
	for i := uint64(0); i < 3; i++ {
		frame, _ := EncodeRecord(i, 1, flagNone, []byte{byte('a' + i)})
		stream.Write(frame)
	}
	tail, _ := EncodeRecord(3, 1, flagNone, []byte("torn"))
	stream.Write(tail[:len(tail)-2])

	r := bytes.NewReader(stream.Bytes())
	for i := uint64(0); i < 3; i++ {
		f, _, err := readFrame(r, 0)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.ID != i {
			t.Fatalf("frame id = %d, want %d", f.ID, i)
		}
	}
	if _, _, err := readFrame(r, 0); !errors.Is(err, ErrTruncated) {
		t.Fatalf("torn tail: err = %v, want ErrTruncated", err)
	}

	if _, _, err := readFrame(bytes.NewReader(nil), 0); err != io.EOF {
		t.Fatalf("empty input: err = %v, want io.EOF", err)
	}
}

func TestReadFrame_DeclaredLengthOverLimit(t *testing.T) {
	frame, _ := EncodeRecord(0, 1, flagNone, bytes.Repeat([]byte("x"), 64))
	_, n, err := readFrame(bytes.NewReader(frame), 16)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	if n != len(frame) {
		t.Fatalf("declared length = %d, want %d", n, len(frame))
	}
}
