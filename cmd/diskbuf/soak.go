package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/diskbuffer/pkg/config"
	"github.com/fluxorio/diskbuffer/pkg/diskbuffer"
	dbprom "github.com/fluxorio/diskbuffer/pkg/observability/prometheus"
)

// soakConfig drives a producer/consumer load test against one buffer.
type soakConfig struct {
	Buffer          diskbuffer.Config `yaml:"buffer" json:"buffer"`
	Records         uint64            `yaml:"records" json:"records"`
	PayloadSize     config.ByteSize   `yaml:"payload_size" json:"payload_size"`
	EventsPerRecord uint32            `yaml:"events_per_record" json:"events_per_record"`
	// MetricsAddr serves /metrics while the test runs. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

func defaultSoakConfig() soakConfig {
	return soakConfig{
		Records:         100_000,
		PayloadSize:     1024,
		EventsPerRecord: 1,
	}
}

func newSoakCmd(c *cli) *cobra.Command {
	var (
		configPath string
		dataDir    string
		records    uint64
		metrics    string
	)
	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Push records through a buffer and report throughput",
		Long: "Soak runs one producer and one consumer against a buffer until the " +
			"configured number of records has been written, read and acknowledged. " +
			"Settings come from an optional YAML or JSON file, then DISKBUF_* " +
			"environment variables, then flags.",
		Example: "diskbuf soak --config soak.yaml --metrics-addr :9100",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultSoakConfig()
			if configPath != "" {
				if err := config.LoadWithEnv(configPath, config.DefaultEnvPrefix, &cfg); err != nil {
					return err
				}
			} else if err := config.ApplyEnvOverrides(config.DefaultEnvPrefix, &cfg); err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("data-dir") {
				cfg.Buffer.DataDir = dataDir
			}
			if flags.Changed("records") {
				cfg.Records = records
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = metrics
			}
			if err := config.Validate(&cfg,
				config.RequiredFields("Buffer.DataDir"),
				config.RangeValidator("PayloadSize", 1, float64(1<<30)),
			); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSoak(ctx, c, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML or JSON config file")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "buffer data directory")
	cmd.Flags().Uint64VarP(&records, "records", "n", 0, "records to push through the buffer")
	cmd.Flags().StringVar(&metrics, "metrics-addr", "", "address to serve /metrics on")
	return cmd
}

func runSoak(ctx context.Context, c *cli, cfg soakConfig, out io.Writer) error {
	w, r, err := diskbuffer.Open(cfg.Buffer,
		diskbuffer.WithLogger(c.logger),
		diskbuffer.WithObserver(dbprom.GetMetrics()),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	usage := w.Usage()
	if _, err := dbprom.RegisterBuffer(dbprom.DefaultRegisterer, usage.ID(), usage); err != nil {
		_ = w.Close()
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := &fasthttp.Server{
			Handler: dbprom.Router(dbprom.FastHTTPHandler(nil), nil),
			Name:    "diskbuf",
		}
		go func() {
			if err := srv.ListenAndServe(cfg.MetricsAddr); err != nil {
				c.logger.Errorw("metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer srv.Shutdown()
		c.logger.Infow("serving metrics", "addr", cfg.MetricsAddr)
	}

	payload := make([]byte, cfg.PayloadSize.Bytes())
	if _, err := rand.Read(payload); err != nil {
		_ = w.Close()
		return err
	}
	producer := diskbuffer.NewPolicyWriter(w, cfg.Buffer.WhenFull)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer producer.Close()
		for i := uint64(0); i < cfg.Records; i++ {
			if _, err := producer.WriteRecord(gctx, payload, cfg.EventsPerRecord); err != nil {
				return fmt.Errorf("write record %d: %w", i, err)
			}
		}
		return producer.Flush()
	})
	var consumed, consumedBytes uint64
	g.Go(func() error {
		for rec, err := range r.All(gctx) {
			if err != nil {
				return err
			}
			r.Acknowledge(rec.Finalizer)
			consumed++
			consumedBytes += uint64(rec.Size)
		}
		return nil
	})
	err = g.Wait()
	elapsed := time.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	u := usage.Snapshot()
	secs := elapsed.Seconds()
	if secs == 0 {
		secs = 1e-9
	}
	fmt.Fprintf(out, "records:    %s consumed in %s\n", humanize.Comma(int64(consumed)), elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "throughput: %s records/s, %s/s\n",
		humanize.CommafWithDigits(float64(consumed)/secs, 0),
		humanize.IBytes(uint64(float64(consumedBytes)/secs)))
	fmt.Fprintf(out, "dropped:    %s events\n", humanize.Comma(int64(u.DroppedEventCount)))
	fmt.Fprintf(out, "remaining:  %s records, %s\n", humanize.Comma(int64(u.BufferedRecords)), humanize.IBytes(u.BufferedByteSize))
	return nil
}
