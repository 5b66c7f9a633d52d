package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fluxorio/diskbuffer/pkg/diskbuffer"
)

func newVerifyCmd(c *cli) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "verify <data-dir>",
		Short: "Check every record checksum in a buffer",
		Long: "Verify reads every segment and checks each record. An incomplete " +
			"write at the tail is reported and, with --repair, cut off the same " +
			"way opening the buffer would. Corruption anywhere else fails the command.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			info, err := diskbuffer.Inspect(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var records uint64
			for _, s := range info.Segments {
				records += s.Records
			}
			fmt.Fprintf(out, "%d segments, %s records verified\n", len(info.Segments), humanize.Comma(int64(records)))

			if info.TornBytes == 0 {
				return nil
			}
			fmt.Fprintf(out, "incomplete write of %s at the tail of segment %d\n", humanize.IBytes(uint64(info.TornBytes)), info.TornSegment)
			if !repair {
				return nil
			}

			// Opening the buffer performs the same recovery a restart would.
			w, r, err := diskbuffer.Open(diskbuffer.DefaultConfig(dir), diskbuffer.WithLogger(c.logger))
			if err != nil {
				return err
			}
			if err := r.Close(); err != nil {
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			fmt.Fprintln(out, "repaired")
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "cut off an incomplete tail write")
	return cmd
}
