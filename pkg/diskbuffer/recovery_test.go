package diskbuffer

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// snapshotDir copies every file of a live buffer into a fresh directory. The
// copy is what a crash at this point would leave behind.
func snapshotDir(t *testing.T, src string) string {
	t.Helper()
	dst := t.TempDir()
	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dst, e.Name()), data, 0o644))
	}
	return dst
}

// drainAll acks every remaining record and checks that nothing follows.
func drainAll(t *testing.T, w *Writer, r *Reader, recs []*Record) {
	t.Helper()
	requireNoRecord(t, r)
	require.NoError(t, w.Close())
	for _, rec := range recs {
		rec.Finalizer.Ack()
	}
	_, err := r.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, r.Close())
}

func TestRecovery_FlushedRecordsAreNeverTruncated(t *testing.T) {
	cfg := testConfig(t)
	w, r := openBuffer(t, cfg)
	sizes := writeAll(t, w, "aaaa", "bbbb", "cccc")
	require.NoError(t, w.Flush())
	closeBuffer(t, w, r)

	// Damage the length prefix of the second record so that it claims to run
	// past the end of the file, which looks just like an interrupted write.
	path := segmentPath(cfg.DataDir, 1)
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	damaged := append([]byte(nil), before...)
	binary.LittleEndian.PutUint32(damaged[sizes[0]:], 1000)
	require.NoError(t, os.WriteFile(path, damaged, 0o644))

	_, _, err = Open(cfg)
	require.ErrorIs(t, err, ErrCorrupted)
	require.ErrorIs(t, err, ErrTruncated)
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, int64(sizes[0]), ce.Offset)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, damaged, after, "recovery must not cut flushed records")

	_, err = Inspect(cfg.DataDir)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestRecovery_MissingFlushedSegmentIsCorruption(t *testing.T) {
	cfg := testConfig(t)
	w, r := openBuffer(t, cfg)
	writeAll(t, w, "a", "b", "c")
	closeBuffer(t, w, r)

	require.NoError(t, os.Remove(segmentPath(cfg.DataDir, 1)))

	_, _, err := Open(cfg)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestRecovery_UnflushedTailIsStillDropped(t *testing.T) {
	cfg := testConfig(t)
	w, r := openBuffer(t, cfg)
	defer closeBuffer(t, w, r)
	writeAll(t, w, "a")
	require.NoError(t, w.Flush())
	writeAll(t, w, "b")
	// Pushes the unflushed record to the file without a flush.
	readN(t, r, 2)

	crashed := snapshotDir(t, cfg.DataDir)
	path := segmentPath(crashed, 1)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-2))

	crashedCfg := cfg
	crashedCfg.DataDir = crashed
	obs := &recordingObserver{}
	w2, r2 := openBuffer(t, crashedCfg, WithObserver(obs))
	require.Equal(t, int64(FrameOverhead+1-2), obs.recoverInfo().TruncatedBytes)

	recs := readN(t, r2, 1)
	require.Equal(t, []string{"a"}, payloads(recs))
	drainAll(t, w2, r2, recs)
}

func TestRecovery_CrashAfterAcknowledgements(t *testing.T) {
	cfg := testConfig(t)
	w, r := openBuffer(t, cfg)
	defer closeBuffer(t, w, r)
	writeAll(t, w, "a", "b", "c", "d", "e")
	require.NoError(t, w.Flush())
	recs := readN(t, r, 5)
	recs[0].Finalizer.Ack()
	recs[1].Finalizer.Ack()
	// Out of order: held until "c" is acknowledged, so not checkpointed.
	recs[3].Finalizer.Ack()

	crashed := snapshotDir(t, cfg.DataDir)
	crashedCfg := cfg
	crashedCfg.DataDir = crashed

	obs := &recordingObserver{}
	w2, r2 := openBuffer(t, crashedCfg, WithObserver(obs))
	info := obs.recoverInfo()
	require.True(t, info.LedgerFound)
	require.False(t, info.CleanShutdown)
	require.Equal(t, uint64(2), info.LastAckedID)
	require.Equal(t, uint64(5), info.WriterNextID)
	require.Equal(t, uint64(3), info.Records)

	replayed := readN(t, r2, 3)
	require.Equal(t, []string{"c", "d", "e"}, payloads(replayed))
	require.Equal(t, uint64(2), replayed[0].ID)
	drainAll(t, w2, r2, replayed)
}

func TestRecovery_LedgerBehindSegments(t *testing.T) {
	cfg := testConfig(t)
	w, r := openBuffer(t, cfg)
	defer closeBuffer(t, w, r)
	writeAll(t, w, "a", "b", "c")
	require.NoError(t, w.Flush())
	// Written and pushed to the file by the reader, never checkpointed.
	writeAll(t, w, "d", "e")
	readN(t, r, 5)

	crashed := snapshotDir(t, cfg.DataDir)
	state, found, err := readLedgerFile(crashed)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(3), state.WriterNextID)
	require.Equal(t, uint64(3), state.FlushedWriterID)

	crashedCfg := cfg
	crashedCfg.DataDir = crashed
	w2, r2 := openBuffer(t, crashedCfg)
	replayed := readN(t, r2, 5)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, payloads(replayed))

	n, err := w2.WriteRecord(context.Background(), []byte("f"), 1)
	require.NoError(t, err)
	require.Positive(t, n)
	next := readN(t, r2, 1)
	require.Equal(t, uint64(5), next[0].ID)
	drainAll(t, w2, r2, append(replayed, next...))
}

func TestRecovery_LedgerAheadOfSegments(t *testing.T) {
	cfg := testConfig(t)
	w, r := openBuffer(t, cfg)
	defer closeBuffer(t, w, r)
	writeAll(t, w, "a", "b", "c")
	require.NoError(t, w.Flush())
	for _, rec := range readN(t, r, 3) {
		rec.Finalizer.Ack()
	}

	// Only the first, long acknowledged, record survives on disk.
	crashed := snapshotDir(t, cfg.DataDir)
	require.NoError(t, os.Truncate(segmentPath(crashed, 1), int64(FrameOverhead+1)))

	crashedCfg := cfg
	crashedCfg.DataDir = crashed
	w2, r2 := openBuffer(t, crashedCfg)
	u := w2.Usage().Snapshot()
	require.Zero(t, u.BufferedRecords)
	require.Zero(t, u.BufferedByteSize)
	requireNoRecord(t, r2)

	writeAll(t, w2, "d")
	recs := readN(t, r2, 1)
	require.Equal(t, "d", string(recs[0].Payload))
	require.Equal(t, uint64(3), recs[0].ID)
	closeBuffer(t, w2, r2)

	// The id gap left behind is acceptable on the next open as well.
	w3, r3 := openBuffer(t, crashedCfg)
	recs = readN(t, r3, 1)
	require.Equal(t, []string{"d"}, payloads(recs))
	drainAll(t, w3, r3, recs)
}

func TestRecovery_LeftoverTemporaryLedger(t *testing.T) {
	cfg := testConfig(t)
	w, r := openBuffer(t, cfg)
	defer closeBuffer(t, w, r)
	writeAll(t, w, "a", "b")
	require.NoError(t, w.Flush())

	crashed := snapshotDir(t, cfg.DataDir)
	tmp := filepath.Join(crashed, ledgerFileName+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("half a ledger"), 0o644))

	crashedCfg := cfg
	crashedCfg.DataDir = crashed
	w2, r2 := openBuffer(t, crashedCfg)
	_, err := os.Stat(tmp)
	require.True(t, os.IsNotExist(err), "temporary ledger should be removed, got %v", err)

	recs := readN(t, r2, 2)
	require.Equal(t, []string{"a", "b"}, payloads(recs))
	drainAll(t, w2, r2, recs)
}
