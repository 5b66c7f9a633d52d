package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/fluxorio/diskbuffer/pkg/diskbuffer"
)

var errSizeMismatch = errors.New("drained size does not match the buffer")

type drainOptions struct {
	output string
	keep   bool
}

func newDrainCmd(c *cli) *cobra.Command {
	opts := &drainOptions{}
	cmd := &cobra.Command{
		Use:   "drain <data-dir>",
		Short: "Copy every unacknowledged record into a zstd archive",
		Long: "Drain reads the buffered records in order and writes them to a " +
			"zstd stream as a sequence of 4-byte big-endian length prefixed " +
			"payloads. Records are acknowledged after they are written unless --keep is set.",
		Example: "diskbuf drain /var/lib/buffer -o backlog.zst",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(cmd.Context(), c, args[0], opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "archive path (required)")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "leave drained records in the buffer")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runDrain(ctx context.Context, c *cli, dir string, opts *drainOptions, out io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	w, r, err := diskbuffer.Open(diskbuffer.DefaultConfig(dir), diskbuffer.WithLogger(c.logger))
	if err != nil {
		return err
	}
	// Nothing is appended while draining.
	if err := w.Close(); err != nil {
		_ = r.Close()
		return err
	}
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()

	start := r.Usage().Snapshot()

	f, err := os.Create(opts.output)
	if err != nil {
		return err
	}
	defer f.Close()
	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}

	var (
		records  uint64
		bytesOut uint64
		prefix   [4]byte
		pending  []*diskbuffer.Finalizer
	)
	// Records stay unresolved until the archive is durable, so the reader
	// cannot report the end of the stream; the count taken at open bounds it.
	for records < start.BufferedRecords {
		rec, err := r.Next(ctx)
		if err != nil {
			zw.Close()
			return err
		}
		binary.BigEndian.PutUint32(prefix[:], uint32(len(rec.Payload)))
		if _, err := zw.Write(prefix[:]); err != nil {
			zw.Close()
			return err
		}
		if _, err := zw.Write(rec.Payload); err != nil {
			zw.Close()
			return err
		}
		records++
		bytesOut += uint64(rec.Size)
		pending = append(pending, rec.Finalizer)
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	if err := settleDrained(pending, bytesOut, start.BufferedByteSize, opts.keep); err != nil {
		c.logger.Errorw("drained bytes differ from the buffer size reported at open",
			"records", records, "bytes", bytesOut, "expected_bytes", start.BufferedByteSize)
		return err
	}
	fmt.Fprintf(out, "drained %s records (%s) to %s\n",
		humanize.Comma(int64(records)), humanize.IBytes(bytesOut), opts.output)
	return nil
}

// settleDrained acknowledges archived records once the archive accounts for
// every byte the buffer reported. On a mismatch nothing is acknowledged.
func settleDrained(pending []*diskbuffer.Finalizer, archived, buffered uint64, keep bool) error {
	if archived != buffered {
		return fmt.Errorf("%w: archived %d bytes, buffer reported %d; nothing was acknowledged",
			errSizeMismatch, archived, buffered)
	}
	if keep {
		return nil
	}
	for _, fin := range pending {
		fin.Ack()
	}
	return nil
}
