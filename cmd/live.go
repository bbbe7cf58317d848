package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/convo/internal/capture"
	"firestige.xyz/convo/internal/config"
	"firestige.xyz/convo/internal/conversation"
	"firestige.xyz/convo/internal/log"
	"firestige.xyz/convo/internal/metrics"
	"firestige.xyz/convo/internal/view"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Capture HTTP conversations from an interface",
	Long: `Capture from a network interface through AF_PACKET and report every new
connection and message as it is placed in its conversation.

Stops on SIGINT/SIGTERM or after --duration, then lists the connections.
When metrics are enabled the Prometheus endpoint is served while capturing.

Examples:
  convo live -i eth0
  convo live -i eth0 --filter "tcp port 8080" --duration 30s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLive(cmd.Context(), os.Stdout, globalConfig, liveOpts)
	},
}

type liveOptions struct {
	device   string
	filter   string
	duration time.Duration
	hex      bool
}

var liveOpts liveOptions

func init() {
	liveCmd.Flags().StringVarP(&liveOpts.device, "interface", "i", "", "interface to capture on (overrides capture.interface)")
	liveCmd.Flags().StringVar(&liveOpts.filter, "filter", "", "BPF filter (overrides capture.bpf_filter)")
	liveCmd.Flags().DurationVar(&liveOpts.duration, "duration", 0, "stop after this long (0 = until interrupted)")
	liveCmd.Flags().BoolVar(&liveOpts.hex, "hex", false, "hex dump instead of printable text")
}

// liveListener reports insertions of one conversation. It runs under the
// conversation lock and only writes.
type liveListener struct {
	conversation.NopListener
	w     io.Writer
	index int
}

func (l *liveListener) EntryInsertedAt(flat int) {
	fmt.Fprintf(l.w, "#%d message at page %d\n", l.index, flat+1)
}

func runLive(ctx context.Context, w io.Writer, cfg *config.GlobalConfig, opts liveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	device := opts.device
	if device == "" {
		device = cfg.Capture.Interface
	}
	filter := opts.filter
	if filter == "" {
		filter = cfg.Capture.BPFFilter
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.GetLogger().WithError(err).Warn("metrics server stop failed")
			}
		}()
	}

	src, err := capture.OpenLive(capture.LiveConfig{
		Device:       device,
		Filter:       filter,
		SnapLen:      cfg.Capture.SnapLen,
		BufferSizeMB: cfg.Capture.BufferSizeMB,
		TimeoutMs:    cfg.Capture.TimeoutMs,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	e := newEngine(cfg, cfg.View.Printable && !opts.hex,
		capture.OnConnection(func(c *capture.Connection) {
			fmt.Fprintf(w, "+ %s\n", c.Header())
		}),
		capture.WithListenerFactory(func(c *capture.Connection) conversation.Listener {
			return &liveListener{w: w, index: c.Index}
		}),
	)

	log.GetLogger().WithField("interface", device).Info("capture started")
	err = e.Run(ctx, src)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	log.GetLogger().WithField("interface", device).Info("capture stopped")

	return view.Connections(w, e.Connections())
}
