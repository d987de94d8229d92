package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/upload"
)

var (
	uploadFiles  []string
	uploadBranch string
)

var uploadReportCmd = &cobra.Command{
	Use:   "upload-report",
	Short: "Upload rendered report files to S3",
	Long: `Upload report files to S3-compatible storage under
<prefix>/<branch>/<file> using the report.upload settings.`,
	RunE: runUploadReport,
}

func init() {
	rootCmd.AddCommand(uploadReportCmd)
	uploadReportCmd.Flags().StringSliceVar(&uploadFiles, "file", nil,
		"Report file to upload (repeatable)")
	uploadReportCmd.Flags().StringVar(&uploadBranch, "branch", "",
		"Branch used in the object key (default: current git branch)")

	_ = uploadReportCmd.MarkFlagRequired("file")
}

func runUploadReport(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return uploadReports(ctx, resolveBranch(uploadBranch), uploadFiles)
}

// uploadReports checks the bucket is writable and uploads files.
func uploadReports(ctx context.Context, branch string, files []string) error {
	if cfg.Report.Upload.Bucket == "" {
		return fmt.Errorf("S3 upload is not configured (report.upload.bucket)")
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Report.Upload)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("checking S3 access: %w", err)
	}

	keys, err := uploader.UploadReports(ctx, branch, files)
	if err != nil {
		return fmt.Errorf("uploading reports: %w", err)
	}

	for _, key := range keys {
		log.WithField("key", key).Info("Uploaded report")
	}

	return nil
}
