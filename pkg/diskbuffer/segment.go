package diskbuffer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fluxorio/diskbuffer/pkg/core"
)

const segmentExt = ".segment"

// segmentInfo tracks the record id range held by one segment file.
type segmentInfo struct {
	id      uint64
	path    string
	size    int64
	records uint64
	firstID uint64
	lastID  uint64
}

func (s *segmentInfo) add(recordID uint64, n int) {
	if s.records == 0 {
		s.firstID = recordID
	}
	s.lastID = recordID
	s.records++
	s.size += int64(n)
}

// consumedBy reports whether every record in the segment is below the
// acknowledged frontier.
func (s *segmentInfo) consumedBy(lastAcked uint64) bool {
	return s.records == 0 || s.lastID < lastAcked
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%010d%s", id, segmentExt))
}

// listSegments returns the segment files in dir in ascending id order.
func listSegments(dir string) ([]*segmentInfo, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []*segmentInfo
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, segmentExt) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, segmentExt), 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, &segmentInfo{id: id, path: filepath.Join(dir, name)})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

// segmentStore owns the segment files. Only the last segment is writable;
// appends go through a bufio.Writer that the reader may push to the OS when
// it is starved.
type segmentStore struct {
	dir             string
	maxSegmentSize  int64
	writeBufferSize int
	logger          core.Logger
	observer        Observer

	mu         sync.Mutex
	segments   []*segmentInfo // ascending; the last one is active
	activeFile *os.File
	activeBuf  *bufio.Writer
	closed     bool
}

// openSegmentStore resumes appending to the highest recovered segment, or
// creates segment 1 in an empty directory.
func openSegmentStore(dir string, segs []*segmentInfo, cfg Config, logger core.Logger, observer Observer) (*segmentStore, error) {
	s := &segmentStore{
		dir:             dir,
		maxSegmentSize:  int64(cfg.MaxSegmentSize),
		writeBufferSize: int(cfg.WriteBufferSize),
		logger:          logger,
		observer:        observer,
		segments:        segs,
	}

	if len(s.segments) == 0 {
		s.segments = append(s.segments, &segmentInfo{id: 1, path: segmentPath(dir, 1)})
	}
	active := s.segments[len(s.segments)-1]
	f, err := os.OpenFile(active.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open active segment %d: %w", active.id, err)
	}
	s.activeFile = f
	s.activeBuf = bufio.NewWriterSize(f, s.writeBufferSize)
	return s, nil
}

// append writes one frame, rotating first if the frame would push the active
// segment past the size cap. Frames are never split across segments.
func (s *segmentStore) append(frame []byte, recordID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrWriterClosed
	}

	active := s.segments[len(s.segments)-1]
	if active.size > 0 && active.size+int64(len(frame)) > s.maxSegmentSize {
		if _, err := s.rotateLocked("size"); err != nil {
			return 0, err
		}
		active = s.segments[len(s.segments)-1]
	}

	n, err := s.activeBuf.Write(frame)
	if err != nil {
		return n, fmt.Errorf("append to segment %d: %w", active.id, err)
	}
	active.add(recordID, n)
	return n, nil
}

func (s *segmentStore) currentSegmentSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(s.segments[len(s.segments)-1].size)
}

func (s *segmentStore) activeSegmentID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments[len(s.segments)-1].id
}

// rotate seals the active segment and opens the next one.
func (s *segmentStore) rotate() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrWriterClosed
	}
	return s.rotateLocked("manual")
}

// rotateLocked makes the sealed segment durable before the next one exists,
// so only the highest segment can ever hold a torn write.
func (s *segmentStore) rotateLocked(reason string) (uint64, error) {
	sealed := s.segments[len(s.segments)-1]
	if err := s.activeBuf.Flush(); err != nil {
		return 0, fmt.Errorf("flush segment %d: %w", sealed.id, err)
	}
	if err := s.activeFile.Sync(); err != nil {
		return 0, fmt.Errorf("sync segment %d: %w", sealed.id, err)
	}
	if err := s.activeFile.Close(); err != nil {
		return 0, fmt.Errorf("close segment %d: %w", sealed.id, err)
	}

	next := &segmentInfo{id: sealed.id + 1, path: segmentPath(s.dir, sealed.id+1)}
	f, err := os.OpenFile(next.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create segment %d: %w", next.id, err)
	}
	if err := syncDir(s.dir); err != nil {
		s.logger.Warnw("syncing directory after rotation failed", "segment", next.id, "error", err)
	}
	s.activeFile = f
	s.activeBuf.Reset(f)
	s.segments = append(s.segments, next)

	s.logger.Debugw("rotated segment", "sealed", sealed.id, "sealed_size", sealed.size, "opened", next.id, "reason", reason)
	s.observer.OnRotate(RotateInfo{Sealed: sealed.id, SealedSize: sealed.size, Opened: next.id, Reason: reason})
	return next.id, nil
}

// flushBuffered hands buffered bytes to the OS without an fsync, making them
// visible to the reader.
func (s *segmentStore) flushBuffered() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.activeBuf.Flush()
}

// sync makes everything appended so far durable.
func (s *segmentStore) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.activeBuf.Flush(); err != nil {
		return fmt.Errorf("flush active segment: %w", err)
	}
	if err := s.activeFile.Sync(); err != nil {
		return fmt.Errorf("sync active segment: %w", err)
	}
	return nil
}

// isSealed reports whether id is no longer the writable segment.
func (s *segmentStore) isSealed(id uint64) bool {
	return id < s.activeSegmentID()
}

// oldest returns the lowest segment id still on disk.
func (s *segmentStore) oldest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments[0].id
}

// nextAfter returns the first segment id greater than id.
func (s *segmentStore) nextAfter(id uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		if seg.id > id {
			return seg.id, true
		}
	}
	return 0, false
}

// deleteFullyConsumed removes sealed segments whose records are all below
// lastAcked, oldest first. Failures are logged and retried on the next call;
// an already-consumed segment left on disk is harmless.
func (s *segmentStore) deleteFullyConsumed(lastAcked uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for len(s.segments) > 1 && s.segments[0].consumedBy(lastAcked) {
		seg := s.segments[0]
		if err := os.Remove(seg.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warnw("deleting consumed segment failed", "segment", seg.id, "error", err)
			s.observer.OnSegmentDeleted(DeleteInfo{Segment: seg.id, Size: seg.size, Err: err})
			break
		}
		s.segments = s.segments[1:]
		deleted++
		s.logger.Debugw("deleted consumed segment", "segment", seg.id, "size", seg.size)
		s.observer.OnSegmentDeleted(DeleteInfo{Segment: seg.id, Size: seg.size})
	}
	return deleted
}

// stats returns a copy of the segment table.
func (s *segmentStore) stats() []SegmentStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SegmentStat, 0, len(s.segments))
	for i, seg := range s.segments {
		out = append(out, SegmentStat{
			ID:      seg.id,
			Size:    seg.size,
			Records: seg.records,
			FirstID: seg.firstID,
			LastID:  seg.lastID,
			Active:  i == len(s.segments)-1,
		})
	}
	return out
}

func (s *segmentStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if ferr := s.activeBuf.Flush(); ferr != nil {
		err = ferr
	}
	if serr := s.activeFile.Sync(); serr != nil && err == nil {
		err = serr
	}
	if cerr := s.activeFile.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// SegmentStat describes one segment file.
type SegmentStat struct {
	ID      uint64
	Size    int64
	Records uint64
	FirstID uint64
	LastID  uint64
	Active  bool
}
