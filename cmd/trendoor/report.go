package main

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/config"
	"github.com/ethpandaops/trendoor/pkg/fsutil"
	"github.com/ethpandaops/trendoor/pkg/report"
)

const stdoutOutput = "-"

var (
	reportFormats []string
	reportOutput  string
	reportBranch  string
	reportWindow  int
	reportUpload  bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the summary of the latest results with trends",
	Long: `Aggregate the latest outcome of every test and its history over the last
builds, and render it as HTML (default), markdown, JSON or coloured text.
Several formats can be rendered in one call; each goes to its default file.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringSliceVarP(&reportFormats, "format", "f", nil,
		"Output format(s): html, markdown, json, text (default: report.format)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		"Output file, or - for stdout (only with a single format)")
	reportCmd.Flags().StringVar(&reportBranch, "branch", "",
		"Branch shown in the title (default: current git branch)")
	reportCmd.Flags().IntVar(&reportWindow, "window", 0,
		"Number of recent builds per test (default: report.window)")
	reportCmd.Flags().BoolVar(&reportUpload, "upload", false,
		"Upload the rendered files to S3 (also enabled by report.upload.enabled)")
}

func runReport(cmd *cobra.Command, _ []string) error {
	formats := reportFormats
	if len(formats) == 0 {
		formats = []string{cfg.Report.Format}

		if reportOutput == "" {
			reportOutput = cfg.Report.Output
		}
	}

	if reportOutput != "" && len(formats) > 1 {
		return fmt.Errorf("--output can only be used with a single format")
	}

	for _, f := range formats {
		cfg.Report.Format = f
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}
	}

	owner, err := fsutil.ParseOwner(cfg.Report.Owner)
	if err != nil {
		return fmt.Errorf("parsing report owner: %w", err)
	}

	window := cfg.Report.Window
	if reportWindow > 0 {
		window = reportWindow
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer stopStore(st)

	branch := resolveBranch(reportBranch)

	rep, err := report.Build(ctx, st, report.Options{
		Window: window,
		Branch: branch,
	})
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	written := make([]string, 0, len(formats))

	for _, format := range formats {
		var buf bytes.Buffer
		if err := report.Render(&buf, rep, format, cfg.Report.MaxMarkdownChars); err != nil {
			return err
		}

		output := reportOutput
		if output == "" {
			output = config.DefaultOutputFor(format)
		}

		if output == stdoutOutput {
			if _, err := cmd.OutOrStdout().Write(buf.Bytes()); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}

			continue
		}

		if err := fsutil.WriteFile(output, buf.Bytes(), 0o644, owner); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}

		log.WithFields(logrus.Fields{
			"output": output,
			"format": format,
			"tests":  rep.Summary.Total,
			"branch": branch,
		}).Info("Report written")

		written = append(written, output)
	}

	if !reportUpload && !cfg.Report.Upload.Enabled {
		return nil
	}

	if len(written) == 0 {
		log.Warn("Nothing to upload, all reports went to stdout")

		return nil
	}

	return uploadReports(ctx, branch, written)
}
