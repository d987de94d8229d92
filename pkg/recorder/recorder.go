package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/trendoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Run identifies the build that phase events are recorded into. It is
// created once per test-suite run and passed to every Record call.
type Run struct {
	Build     int64
	StartedAt time.Time
}

// ResumeRun returns the Run of an already started build.
func ResumeRun(build int64) Run {
	return Run{Build: build, StartedAt: time.Unix(build, 0)}
}

// VideoResolver returns the recording URL of a remote browser session.
type VideoResolver interface {
	VideoURL(ctx context.Context, sessionID, test string) (string, error)
}

// Recorder maintains one current-outcome row per (build, test).
type Recorder interface {
	// StartRun removes builds older than retention and assigns the build
	// id of a new run from now.
	StartRun(ctx context.Context, now time.Time, retention time.Duration) (Run, error)

	// Record applies a phase event to the row of (run.Build, event.Test)
	// and returns the row as stored afterwards.
	Record(ctx context.Context, run Run, event *PhaseEvent) (*store.Result, error)
}

// Compile-time interface check.
var _ Recorder = (*recorder)(nil)

type recorder struct {
	log   logrus.FieldLogger
	store store.Store
	video VideoResolver
}

// NewRecorder creates a Recorder. video may be nil when recordings are not
// resolved.
func NewRecorder(
	log logrus.FieldLogger,
	st store.Store,
	video VideoResolver,
) Recorder {
	return &recorder{
		log:   log.WithField("component", "recorder"),
		store: st,
		video: video,
	}
}

func (r *recorder) StartRun(
	ctx context.Context, now time.Time, retention time.Duration,
) (Run, error) {
	run := Run{Build: now.Unix(), StartedAt: now}
	cutoff := run.Build - int64(retention/time.Second)

	deleted, err := r.store.DeleteBuildsBefore(ctx, cutoff)
	if err != nil {
		return Run{}, fmt.Errorf("sweeping expired builds: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"build":   run.Build,
		"expired": deleted,
	}).Info("Started run")

	return run, nil
}

func (r *recorder) Record(
	ctx context.Context, run Run, event *PhaseEvent,
) (*store.Result, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	log := r.log.WithFields(logrus.Fields{
		"build": run.Build,
		"test":  event.Test,
		"phase": event.Phase,
	})

	// No network calls inside the transaction.
	videoURL := r.resolveVideo(ctx, log, event)

	var result *store.Result

	err := r.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.GetResult(ctx, run.Build, event.Test)

		switch {
		case errors.Is(err, store.ErrNotFound):
			result, err = insert(ctx, tx, run, event, videoURL)

			return err
		case err != nil:
			return err
		}

		result = existing

		if existing.Outcome == store.OutcomePassed {
			promote(existing, event)

			if err := tx.UpdateOutcome(
				ctx, run.Build, event.Test,
				existing.Phase, existing.Outcome, existing.XFailReason,
			); err != nil {
				return err
			}
		}

		if videoURL != "" {
			existing.VideoURL = &videoURL

			return tx.SetVideoURL(ctx, run.Build, event.Test, videoURL)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording %s phase of %q: %w",
			event.Phase, event.Test, err)
	}

	log.WithField("outcome", result.Outcome).Debug("Recorded phase")

	return result, nil
}

// insert creates the first row of a test in a build. A skip reason is only
// captured for skips raised during setup.
func insert(
	ctx context.Context, tx store.Store, run Run,
	event *PhaseEvent, videoURL string,
) (*store.Result, error) {
	caps, err := event.CapabilitiesJSON()
	if err != nil {
		return nil, err
	}

	result := &store.Result{
		Build:        run.Build,
		Test:         event.Test,
		Capabilities: caps,
		Phase:        event.Phase,
		Outcome:      event.Outcome,
	}

	if event.Phase == store.PhaseSetup && event.Outcome == store.OutcomeSkipped {
		if reason, ok := event.LongRepr.Last(); ok {
			result.XFailReason = &reason
		}
	}

	if videoURL != "" {
		result.VideoURL = &videoURL
	}

	if err := tx.CreateResult(ctx, result); err != nil {
		return nil, err
	}

	return result, nil
}

// promote resolves the outcome of a row that is currently passed.
// Expected failures only become visible as a skip during call, unexpected
// passes as a pass during teardown.
func promote(result *store.Result, event *PhaseEvent) {
	outcome := event.Outcome

	switch {
	case event.Phase == store.PhaseCall &&
		event.Outcome == store.OutcomeSkipped &&
		event.ExpectedToFail():
		outcome = store.OutcomeXFail

		if reason, ok := resolveXFailReason(event.MarkerSources()); ok {
			result.XFailReason = &reason
		}
	case event.Phase == store.PhaseTeardown &&
		event.Outcome == store.OutcomePassed &&
		event.ExpectedToFail():
		outcome = store.OutcomeXPass
	}

	result.Phase = event.Phase
	result.Outcome = outcome
}

func (r *recorder) resolveVideo(
	ctx context.Context, log logrus.FieldLogger, event *PhaseEvent,
) string {
	if r.video == nil || event.Phase != store.PhaseCall || !event.Session.Remote() {
		return ""
	}

	url, err := r.video.VideoURL(ctx, event.Session.ID, event.Test)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve session recording")

		return ""
	}

	return url
}
