package diskbuffer

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fluxorio/diskbuffer/pkg/config"
	"github.com/fluxorio/diskbuffer/pkg/core"
)

func newTestStore(t *testing.T, dir string, maxSegment int) *segmentStore {
	t.Helper()
	cfg := DefaultConfig(dir)
	cfg.MaxSegmentSize = config.ByteSize(maxSegment)
	segs, err := listSegments(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	s, err := openSegmentStore(dir, segs, cfg, core.NewNopLogger(), nopObserver{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.close() })
	return s
}

func appendFrames(t *testing.T, s *segmentStore, first, count uint64, payload string) {
	t.Helper()
	for id := first; id < first+count; id++ {
		frame, err := EncodeRecord(id, 1, flagNone, []byte(payload))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := s.append(frame, id); err != nil {
			t.Fatalf("append %d: %v", id, err)
		}
	}
}

func TestSegmentStore_RotatesBeforeOverflow(t *testing.T) {
	dir := t.TempDir()
	frameSize := FrameOverhead + 8
	s := newTestStore(t, dir, 3*frameSize)

	appendFrames(t, s, 0, 7, "xxxxxxxx")
	if err := s.sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	stats := s.stats()
	if len(stats) != 3 {
		t.Fatalf("segments = %d, want 3", len(stats))
	}
	for i, st := range stats {
		if st.Size > int64(3*frameSize) {
			t.Fatalf("segment %d size %d exceeds the limit", st.ID, st.Size)
		}
		if !st.Active && i != len(stats)-1 && st.Records != 3 {
			t.Fatalf("segment %d holds %d records, want 3", st.ID, st.Records)
		}
	}
	if s.currentSegmentSize() != uint64(frameSize) {
		t.Fatalf("active segment size = %d, want %d", s.currentSegmentSize(), frameSize)
	}

	ents, _ := os.ReadDir(dir)
	var files []string
	for _, e := range ents {
		files = append(files, e.Name())
	}
	want := []string{"0000000001.segment", "0000000002.segment", "0000000003.segment"}
	for _, name := range want {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s (have %v)", name, files)
		}
	}
}

func TestSegmentStore_DeleteFullyConsumed(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, 2*(FrameOverhead+1))
	appendFrames(t, s, 0, 5, "x") // segments: [0 1] [2 3] [4]

	if n := s.deleteFullyConsumed(1); n != 0 {
		t.Fatalf("deleted %d segments with record 1 unacknowledged", n)
	}
	if n := s.deleteFullyConsumed(2); n != 1 {
		t.Fatalf("deleted %d segments, want 1", n)
	}
	if s.oldest() != 2 {
		t.Fatalf("oldest = %d, want 2", s.oldest())
	}
	if n := s.deleteFullyConsumed(100); n != 1 {
		t.Fatalf("deleted %d segments, want 1 (active segment is kept)", n)
	}
	if s.oldest() != 3 || s.activeSegmentID() != 3 {
		t.Fatalf("oldest=%d active=%d", s.oldest(), s.activeSegmentID())
	}
	if _, err := os.Stat(segmentPath(dir, 1)); !os.IsNotExist(err) {
		t.Fatalf("segment 1 still on disk: %v", err)
	}
}

func TestSegmentReader_SeesFlushedBytesOnly(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir, 1<<20)
	appendFrames(t, s, 0, 1, "buffered")

	r, err := openSegmentReader(dir, 1, 0, 1<<20)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.close()

	if _, _, err := r.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("before flush: err = %v, want io.EOF", err)
	}
	if err := s.flushBuffered(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	f, n, err := r.next()
	if err != nil {
		t.Fatalf("after flush: %v", err)
	}
	if f.ID != 0 || string(f.Payload) != "buffered" || r.offset != int64(n) {
		t.Fatalf("unexpected frame %+v at offset %d", f, r.offset)
	}
	if s.isSealed(1) {
		t.Fatal("active segment reported as sealed")
	}
	if _, err := s.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !s.isSealed(1) {
		t.Fatal("rotated segment not sealed")
	}
	if next, ok := s.nextAfter(1); !ok || next != 2 {
		t.Fatalf("nextAfter(1) = %d, %v", next, ok)
	}
}

func TestListSegments_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0000000003.segment", "0000000001.segment", "ledger", "buffer.lock", "junk.segment"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	segs, err := listSegments(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(segs) != 2 || segs[0].id != 1 || segs[1].id != 3 {
		t.Fatalf("unexpected segments %+v", segs)
	}
}
