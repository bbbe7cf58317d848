package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/convo/internal/config"
	"firestige.xyz/convo/internal/conversation"
	"firestige.xyz/convo/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write one entry's body to a file",
	Long: `Export the body of one conversation entry. HTTP headers are stripped; the
file extension follows the Content-Type, or the detected type of the bytes.
Existing files are never overwritten.

Examples:
  convo export -r dump.pcap --conn 2 --entry 5
  convo export -r dump.pcap --conn 2 --entry 5 -o /tmp/bodies`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context(), os.Stdout, globalConfig, exportOpts)
	},
}

type exportOptions struct {
	file  string
	conn  int
	entry uint64
	dir   string
}

var exportOpts exportOptions

func init() {
	exportCmd.Flags().StringVarP(&exportOpts.file, "read", "r", "", "capture file to read (required)")
	exportCmd.Flags().IntVar(&exportOpts.conn, "conn", 1, "connection number")
	exportCmd.Flags().Uint64Var(&exportOpts.entry, "entry", 0, "entry id")
	exportCmd.Flags().StringVarP(&exportOpts.dir, "output", "o", "", "output directory (overrides export.directory)")
	exportCmd.MarkFlagRequired("read")
	exportCmd.MarkFlagRequired("entry")
}

func runExport(ctx context.Context, w io.Writer, cfg *config.GlobalConfig, opts exportOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := readCapture(ctx, cfg, opts.file, "", cfg.View.Printable)
	if err != nil {
		return err
	}
	c, err := e.Connection(opts.conn)
	if err != nil {
		return err
	}

	dir := opts.dir
	if dir == "" {
		dir = cfg.Export.Directory
	}
	return exportEntry(w, export.NewDirExporter(dir), c.Conversation, opts.entry)
}

func exportEntry(w io.Writer, x export.Exporter, conv *conversation.Conversation, id uint64) error {
	entry, _, err := conv.EntryByID(id)
	if err != nil {
		return err
	}
	path, err := export.Entry(x, entry)
	if err != nil {
		return fmt.Errorf("failed to export entry %d: %w", id, err)
	}
	fmt.Fprintf(w, "✓ Exported %d bytes to %s\n", len(export.Body(entry)), path)
	return nil
}
