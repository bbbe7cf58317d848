package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/convo/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without capturing anything.

Defaults and CONVO_* environment overrides are applied exactly as the other
commands apply them. With --print the effective configuration is written
as YAML.

Examples:
  convo validate -c convo.yml
  convo validate -c convo.yml --print`,
	// Validation reports a bad file itself instead of failing in setup.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(os.Stdout, configFile, validatePrint); err != nil {
			exitWithError("INVALID", err)
		}
	},
}

var validatePrint bool

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "print the effective configuration")
}

func runValidate(w io.Writer, path string, printEffective bool) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	source := path
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(w, "VALID: %s (log level %s, metrics %t, %d server port(s))\n",
		source, cfg.Log.Level, cfg.Metrics.Enabled, len(cfg.Capture.ServerPorts))

	if printEffective {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		if _, err := w.Write(out); err != nil {
			return err
		}
	}
	return nil
}
