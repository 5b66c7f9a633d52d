package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fluxorio/diskbuffer/pkg/diskbuffer"
)

func newInspectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "inspect <data-dir>",
		Short:   "Print the ledger and segment table of a buffer",
		Example: "diskbuf inspect /var/lib/vector/buffer",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := diskbuffer.Inspect(args[0])
			if err != nil {
				return err
			}
			printDirInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func printDirInfo(out io.Writer, info *diskbuffer.DirInfo) {
	fmt.Fprintf(out, "data dir:          %s\n", info.DataDir)
	if !info.LedgerFound {
		fmt.Fprintln(out, "ledger:            (none)")
	} else {
		l := info.Ledger
		fmt.Fprintf(out, "writer next id:    %d\n", l.WriterNextID)
		fmt.Fprintf(out, "reader next id:    %d\n", l.ReaderNextID)
		fmt.Fprintf(out, "last acked id:     %d\n", l.LastAckedID)
		fmt.Fprintf(out, "flushed below id:  %d\n", l.FlushedWriterID)
		fmt.Fprintf(out, "writer closed:     %t\n", l.WriterClosed)
		fmt.Fprintf(out, "received:          %s events, %s\n", humanize.Comma(int64(l.ReceivedEventCount)), humanize.IBytes(l.ReceivedByteSize))
		fmt.Fprintf(out, "sent:              %s events, %s\n", humanize.Comma(int64(l.SentEventCount)), humanize.IBytes(l.SentByteSize))
		fmt.Fprintf(out, "dropped:           %s events\n", humanize.Comma(int64(l.DroppedEventCount)))
	}
	fmt.Fprintf(out, "buffered:          %s records, %s\n", humanize.Comma(int64(info.Recovered.TotalRecords)), humanize.IBytes(info.BufferedByteSize))
	if info.TornBytes > 0 {
		fmt.Fprintf(out, "incomplete write:  %s at the tail of segment %d\n", humanize.IBytes(uint64(info.TornBytes)), info.TornSegment)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tSIZE\tRECORDS\tFIRST ID\tLAST ID\t")
	for _, s := range info.Segments {
		first, last := "-", "-"
		if s.Records > 0 {
			first, last = fmt.Sprint(s.FirstID), fmt.Sprint(s.LastID)
		}
		name := fmt.Sprint(s.ID)
		if s.Active {
			name += " (active)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t\n", name, humanize.IBytes(uint64(s.Size)), s.Records, first, last)
	}
	tw.Flush()
}
