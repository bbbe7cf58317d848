// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/convo/internal/appinfo"
	"firestige.xyz/convo/internal/capture"
	"firestige.xyz/convo/internal/config"
	"firestige.xyz/convo/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string

	// globalConfig is loaded before any subcommand runs.
	globalConfig *config.GlobalConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "convo",
	Short: "convo - HTTP conversations from packet captures",
	Long: `convo reassembles HTTP/1.x and HTTP/2 traffic from a pcap file or a live
interface and shows each TCP connection as an ordered conversation: every
reply sits right after its request, large payloads are split into pages,
and JSON bodies are pretty-printed.

Commands:
  view      list connections, entries and pages of a capture file
  live      capture from an interface and report new messages
  export    write one entry's body to a file
  validate  check a configuration file`,
	Version:      "0.1.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initRuntime()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (built-in defaults and CONVO_* env when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log level (trace/debug/info/warn/error)")

	// Add subcommands
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(validateCmd)
}

func loadConfig(path string) (*config.GlobalConfig, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// initRuntime loads configuration and sets up logging.
func initRuntime() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := log.Init(cfg.Log.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	globalConfig = cfg
	return nil
}

// newEngine builds a capture engine from configuration.
func newEngine(cfg *config.GlobalConfig, printable bool, extra ...capture.Option) *capture.Engine {
	opts := []capture.Option{
		capture.WithServerPorts(cfg.Capture.Ports()...),
		capture.WithMaxMessageSize(cfg.Capture.MaxMessageSize),
		capture.WithFlushInterval(cfg.Capture.FlushDuration()),
		capture.WithPrintable(printable),
	}
	if cfg.App.UID >= 0 {
		resolver := appinfo.NewUserResolver(cfg.App.TTL())
		if app, ok := resolver.ResolveApp(uint32(cfg.App.UID)); ok {
			opts = append(opts, capture.WithApp(app))
		} else {
			log.GetLogger().WithField("uid", cfg.App.UID).Warn("no user found for app label")
		}
	}
	return capture.NewEngine(append(opts, extra...)...)
}

// readCapture runs a whole capture file through a new engine.
func readCapture(ctx context.Context, cfg *config.GlobalConfig, path, filter string, printable bool) (*capture.Engine, error) {
	if filter == "" {
		filter = cfg.Capture.BPFFilter
	}
	src, err := capture.OpenFile(path, filter)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	e := newEngine(cfg, printable)
	if err := e.Run(ctx, src); err != nil {
		return nil, err
	}
	return e, nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
