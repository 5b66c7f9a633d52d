package main

import (
	"github.com/spf13/cobra"

	"github.com/fluxorio/diskbuffer/pkg/core"
)

// cli holds state shared by all subcommands.
type cli struct {
	logLevel string
	logger   core.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: core.NewNopLogger()}

	root := &cobra.Command{
		Use:           "diskbuf",
		Short:         "Operate on disk buffer data directories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := core.NewLevelLogger(c.logLevel)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInspectCmd(c),
		newVerifyCmd(c),
		newDrainCmd(c),
		newSoakCmd(c),
	)
	return root
}
