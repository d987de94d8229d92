package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/recorder"
	"github.com/ethpandaops/trendoor/pkg/store"
	"github.com/ethpandaops/trendoor/pkg/vcs"
	"github.com/ethpandaops/trendoor/pkg/video"
)

const unknownBranch = "unknown"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new run and print its build id",
	Long: `Sweep builds older than the retention window and start a new run. The
build id is printed to stdout so that later "record --build" calls can add
phase events to the same run.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer stopStore(st)

	rec, err := newRecorder(st)
	if err != nil {
		return err
	}

	run, err := startRun(ctx, rec)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), run.Build)

	return nil
}

// startRun starts a run using the configured retention window.
func startRun(ctx context.Context, rec recorder.Recorder) (recorder.Run, error) {
	retention, err := cfg.Store.RetentionDuration()
	if err != nil {
		return recorder.Run{}, err
	}

	run, err := rec.StartRun(ctx, time.Now(), retention)
	if err != nil {
		return recorder.Run{}, fmt.Errorf("starting run: %w", err)
	}

	return run, nil
}

// openStore validates the store config and opens the result store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Store.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	st := store.NewStore(log, &cfg.Store)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	return st, nil
}

func stopStore(st store.Store) {
	if err := st.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}

// newRecorder builds a recorder with the configured video resolver.
func newRecorder(st store.Store) (recorder.Recorder, error) {
	resolver, err := video.NewTemplateResolver(log, &cfg.Recorder.Video)
	if err != nil {
		return nil, fmt.Errorf("creating video resolver: %w", err)
	}

	// A nil *TemplateResolver must not become a non-nil interface.
	var vr recorder.VideoResolver
	if resolver != nil {
		vr = resolver
	}

	return recorder.NewRecorder(log, st, vr), nil
}

// resolveBranch picks the report branch: the flag, then the config, then
// the git checkout in the working directory.
func resolveBranch(flag string) string {
	if flag != "" {
		return flag
	}

	if cfg.Report.Branch != "" {
		return cfg.Report.Branch
	}

	branch, err := vcs.CurrentBranch(".")
	if err != nil {
		entry := log.WithError(err)
		if errors.Is(err, vcs.ErrNotRepository) {
			entry.Warn("Not running inside a git repository, using unknown branch")
		} else {
			entry.Warn("Failed to read git branch, using unknown branch")
		}

		return unknownBranch
	}

	return branch
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
