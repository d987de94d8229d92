package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var (
	forcePrune     bool
	pruneOlderThan string
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove builds older than the retention window",
	Long: `List and remove the builds older than the retention window. Runs do this
automatically when they start; prune is useful for shared databases that are
only read, or to apply a shorter window once.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().BoolVarP(&forcePrune, "force", "f", false, "Skip confirmation prompt")
	pruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "",
		"Remove builds older than this duration (default: store.retention)")
}

func runPrune(cmd *cobra.Command, _ []string) error {
	if pruneOlderThan != "" {
		cfg.Store.Retention = pruneOlderThan
	}

	retention, err := cfg.Store.RetentionDuration()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer stopStore(st)

	now := time.Now()
	cutoff := now.Add(-retention).Unix()

	builds, err := st.ListBuildsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing builds: %w", err)
	}

	if len(builds) == 0 {
		log.Info("No expired builds found")

		return nil
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "\nBuilds to be removed (%d):\n", len(builds))

	for _, b := range builds {
		started := time.Unix(b.Build, 0)
		fmt.Fprintf(out, "  - %d (%s, %s ago, %d results)\n",
			b.Build, started.Format("2006-01-02 15:04:05"),
			units.HumanDuration(now.Sub(started)), b.RowCount)
	}

	fmt.Fprintln(out)

	// Prompt for confirmation if not forced.
	if !forcePrune {
		ok, err := confirm(out, cmd.InOrStdin(),
			"Are you sure you want to remove these builds? [y/N] ")
		if err != nil {
			return err
		}

		if !ok {
			log.Info("Prune cancelled")

			return nil
		}
	}

	deleted, err := st.DeleteBuildsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("deleting builds: %w", err)
	}

	log.WithField("results", deleted).Info("Prune completed")

	return nil
}

// confirm prints prompt and reports whether the answer is yes.
func confirm(out io.Writer, in io.Reader, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading response: %w", err)
	}

	response = strings.TrimSpace(strings.ToLower(response))

	return response == "y" || response == "yes", nil
}
