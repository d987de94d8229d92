package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/recorder"
	"github.com/ethpandaops/trendoor/pkg/store"
)

var (
	recordBuild int64
	recordInput string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record phase events into a run",
	Long: `Read newline-delimited JSON phase events and apply them to the run given
by --build. Without --build a new run is started first and its build id is
printed to stdout.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().Int64Var(&recordBuild, "build", 0,
		"Build id returned by \"start\" (default: start a new run)")
	recordCmd.Flags().StringVarP(&recordInput, "input", "i", "-",
		"NDJSON event file, or - for stdin")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var in io.Reader = cmd.InOrStdin()

	if recordInput != "-" {
		f, err := os.Open(recordInput)
		if err != nil {
			return fmt.Errorf("opening events: %w", err)
		}
		defer func() { _ = f.Close() }()

		in = f
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer stopStore(st)

	rec, err := newRecorder(st)
	if err != nil {
		return err
	}

	run := recorder.ResumeRun(recordBuild)

	if recordBuild == 0 {
		run, err = startRun(ctx, rec)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), run.Build)
	}

	tally := make(outcomeTally)
	total := 0

	err = recorder.DecodeEvents(in, func(event *recorder.PhaseEvent) error {
		res, err := rec.Record(ctx, run, event)
		if err != nil {
			return err
		}

		tally[event.Test] = res.Outcome
		total++

		return nil
	})
	if err != nil {
		return fmt.Errorf("recording events: %w", err)
	}

	fields := logrus.Fields{
		"build":  run.Build,
		"events": total,
		"tests":  len(tally),
	}
	for outcome, n := range tally.counts() {
		fields[string(outcome)] = n
	}

	log.WithFields(fields).Info("Recorded events")

	return nil
}

// outcomeTally keeps the stored outcome of each test after its most
// recent event.
type outcomeTally map[string]store.Outcome

func (t outcomeTally) counts() map[store.Outcome]int {
	counts := make(map[store.Outcome]int, len(store.SummaryOutcomes))
	for _, outcome := range t {
		counts[outcome]++
	}

	return counts
}
