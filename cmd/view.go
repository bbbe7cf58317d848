package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/convo/internal/config"
	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/view"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show conversations from a capture file",
	Long: `Read a pcap or pcapng file and show its HTTP conversations.

Without --conn, every connection is listed. With --conn, the entries of that
connection are listed; --page prints one page and --all prints every page.
Entries longer than 1500 bytes of text show a preview until expanded.

Examples:
  convo view -r dump.pcap
  convo view -r dump.pcap --conn 2
  convo view -r dump.pcap --conn 2 --expand 5 --all
  convo view -r dump.pcap --conn 2 --page 3 --hex`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView(cmd.Context(), os.Stdout, globalConfig, viewOpts)
	},
}

type viewOptions struct {
	file   string
	filter string
	conn   int
	page   int
	all    bool
	hex    bool
	expand []uint
}

var viewOpts viewOptions

func init() {
	viewCmd.Flags().StringVarP(&viewOpts.file, "read", "r", "", "capture file to read (required)")
	viewCmd.Flags().StringVar(&viewOpts.filter, "filter", "", "BPF filter (overrides capture.bpf_filter)")
	viewCmd.Flags().IntVar(&viewOpts.conn, "conn", 0, "connection number to show")
	viewCmd.Flags().IntVar(&viewOpts.page, "page", 0, "page number to print (1-based)")
	viewCmd.Flags().BoolVar(&viewOpts.all, "all", false, "print every page")
	viewCmd.Flags().BoolVar(&viewOpts.hex, "hex", false, "hex dump instead of printable text")
	viewCmd.Flags().UintSliceVar(&viewOpts.expand, "expand", nil, "entry ids to expand")
	viewCmd.MarkFlagRequired("read")
}

func runView(ctx context.Context, w io.Writer, cfg *config.GlobalConfig, opts viewOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	printable := cfg.View.Printable && !opts.hex
	e, err := readCapture(ctx, cfg, opts.file, opts.filter, printable)
	if err != nil {
		return err
	}

	if opts.conn == 0 {
		return view.Connections(w, e.Connections())
	}
	c, err := e.Connection(opts.conn)
	if err != nil {
		return err
	}
	conv := c.Conversation

	for _, id := range opts.expand {
		_, idx, err := conv.EntryByID(uint64(id))
		if err != nil {
			return err
		}
		if err := conv.Expand(idx); err != nil && !errors.Is(err, core.ErrNotExpandable) {
			return err
		}
	}

	if _, err := fmt.Fprintln(w, c.Header()); err != nil {
		return err
	}
	switch {
	case opts.all:
		return view.All(w, conv)
	case opts.page > 0:
		return view.Page(w, conv, opts.page-1)
	default:
		return view.Entries(w, conv, cfg.View.Width)
	}
}
