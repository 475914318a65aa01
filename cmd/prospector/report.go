package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/prospector/internal/config"
	"github.com/FranksOps/prospector/internal/report"
	"github.com/FranksOps/prospector/internal/storage"
)

var reportCommand = &cobra.Command{
	Use:   "report",
	Short: "Summarize stored evaluations",
	Long: `Reads evaluations from the configured storage backend and renders a run
summary. Filter to a single run with --run-id, or show everything stored.`,
	RunE: reportCmd,
}

var (
	reportConfigPath string
	reportRunID      string
	reportFormat     string
	reportOutput     string
	reportQualified  bool
	reportSince      time.Duration
)

func init() {
	reportCommand.Flags().StringVar(&reportConfigPath, "config", "", "Path to prospector.yaml (optional)")
	reportCommand.Flags().StringVar(&reportRunID, "run-id", "", "Limit to one run")
	reportCommand.Flags().StringVarP(&reportFormat, "format", "f", "text", "Output format: text, json, or html")
	reportCommand.Flags().StringVarP(&reportOutput, "output", "o", "", "Write to file instead of stdout")
	reportCommand.Flags().BoolVar(&reportQualified, "qualified-only", false, "Summarize only qualifying evaluations")
	reportCommand.Flags().DurationVar(&reportSince, "since", 0, "Limit to evaluations newer than this age, e.g. 24h")

	rootCmd.AddCommand(reportCommand)
}

func reportCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(reportConfigPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if backend == nil {
		return fmt.Errorf("storage backend %q holds no evaluations to report on", cfg.Storage.Backend)
	}
	defer backend.Close()

	filter := storage.Filter{RunID: reportRunID}
	if reportQualified {
		yes := true
		filter.Qualified = &yes
	}
	if reportSince > 0 {
		cutoff := time.Now().Add(-reportSince)
		filter.Since = &cutoff
	}

	evals, err := backend.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("query evaluations: %w", err)
	}

	var out io.Writer = os.Stdout
	if reportOutput != "" {
		f, err := os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	summary := report.GenerateSummary(evals)
	switch reportFormat {
	case "text":
		return report.WriteText(out, summary)
	case "json":
		return report.WriteJSON(out, summary)
	case "html":
		return report.WriteHTML(out, summary)
	default:
		return fmt.Errorf("unknown format %q", reportFormat)
	}
}
