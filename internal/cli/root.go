// Package cli implements the ordergate command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ordergate/internal/config"
	"ordergate/internal/core"
	"ordergate/internal/logger"
)

type options struct {
	configPath string
	format     string
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "ordergate",
		Short: "Validate inFlow sales orders and escalate errors that persist",
		Long: `ordergate receives inFlow sales order webhooks, runs business rules over
each order, and emails staff about errors that are still present after a
grace period.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("unknown output format %q (want text or json)", opts.format)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to ordergate.toml")
	root.PersistentFlags().StringVar(&opts.format, "format", "text", "output format: text or json")

	root.AddCommand(
		newServeCmd(opts),
		newPendingCmd(opts),
		newSweepCmd(opts),
		newValidateCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}

// openApp loads configuration and assembles the app. strict requires every
// credential a long-running server needs.
func openApp(ctx context.Context, opts *options, strict bool) (*core.App, error) {
	load := config.LoadLenient
	if strict {
		load = config.Load
	}
	cfg, err := load(opts.configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return core.NewApp(ctx, cfg, log)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
