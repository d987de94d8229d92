package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trendoor/pkg/config"
	"github.com/ethpandaops/trendoor/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.StoreConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "summary.sqlite3"),
		},
		Retention: config.DefaultRetention,
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func ptr(s string) *string { return &s }

func TestStore_CreateAndGetResult(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetResult(ctx, 100, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CreateResult(ctx, &store.Result{
		Build:        100,
		Test:         "t1",
		Capabilities: `{"browserName":"chrome"}`,
		Phase:        store.PhaseSetup,
		Outcome:      store.OutcomePassed,
	}))

	got, err := s.GetResult(ctx, 100, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.PhaseSetup, got.Phase)
	assert.Equal(t, store.OutcomePassed, got.Outcome)
	assert.Equal(t, `{"browserName":"chrome"}`, got.Capabilities)
	assert.Nil(t, got.XFailReason)
	assert.Nil(t, got.VideoURL)
}

func TestStore_CompositeKeyRejectsDuplicates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	row := func() *store.Result {
		return &store.Result{
			Build: 100, Test: "t1",
			Phase: store.PhaseSetup, Outcome: store.OutcomePassed,
		}
	}

	require.NoError(t, s.CreateResult(ctx, row()))
	require.Error(t, s.CreateResult(ctx, row()),
		"a second row for the same (build, test) must be rejected")

	// Same test in another build is a different row.
	other := row()
	other.Build = 101
	require.NoError(t, s.CreateResult(ctx, other))
}

func TestStore_UpdateOutcomeAndVideo(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateResult(ctx, &store.Result{
		Build: 100, Test: "t1",
		Phase: store.PhaseSetup, Outcome: store.OutcomePassed,
	}))

	require.NoError(t, s.UpdateOutcome(
		ctx, 100, "t1", store.PhaseCall, store.OutcomeXFail, ptr("known bug"),
	))
	require.NoError(t, s.SetVideoURL(ctx, 100, "t1", "http://grid/v.mp4"))

	got, err := s.GetResult(ctx, 100, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.PhaseCall, got.Phase)
	assert.Equal(t, store.OutcomeXFail, got.Outcome)
	require.NotNil(t, got.XFailReason)
	assert.Equal(t, "known bug", *got.XFailReason)
	require.NotNil(t, got.VideoURL)
	assert.Equal(t, "http://grid/v.mp4", *got.VideoURL)

	// A nil reason clears the column.
	require.NoError(t, s.UpdateOutcome(
		ctx, 100, "t1", store.PhaseTeardown, store.OutcomeFailed, nil,
	))

	got, err = s.GetResult(ctx, 100, "t1")
	require.NoError(t, err)
	assert.Nil(t, got.XFailReason)
}

func TestStore_ListTestsOrdered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, r := range []store.Result{
		{Build: 1, Test: "tests/b.py::test_b"},
		{Build: 1, Test: "tests/a.py::test_a"},
		{Build: 2, Test: "tests/b.py::test_b"},
		{Build: 2, Test: "tests/c.py::test_c"},
	} {
		r.Phase = store.PhaseCall
		r.Outcome = store.OutcomePassed
		require.NoError(t, s.CreateResult(ctx, &r))
	}

	tests, err := s.ListTests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tests/a.py::test_a",
		"tests/b.py::test_b",
		"tests/c.py::test_c",
	}, tests)
}

func TestStore_ListRecentResultsWindow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for build := int64(1); build <= 15; build++ {
		require.NoError(t, s.CreateResult(ctx, &store.Result{
			Build: build * 1000, Test: "t1",
			Phase: store.PhaseCall, Outcome: store.OutcomePassed,
		}))
	}

	results, err := s.ListRecentResults(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, results, 10)

	builds := make([]int64, 0, len(results))
	for _, r := range results {
		builds = append(builds, r.Build)
	}

	assert.Equal(t, []int64{
		6000, 7000, 8000, 9000, 10000, 11000, 12000, 13000, 14000, 15000,
	}, builds)
}

func TestStore_DeleteBuildsBefore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, r := range []store.Result{
		{Build: 100, Test: "t1"},
		{Build: 100, Test: "t2"},
		{Build: 200, Test: "t1"},
		{Build: 300, Test: "t1"},
	} {
		r.Phase = store.PhaseCall
		r.Outcome = store.OutcomePassed
		require.NoError(t, s.CreateResult(ctx, &r))
	}

	expired, err := s.ListBuildsBefore(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, []store.BuildCount{
		{Build: 100, RowCount: 2},
		{Build: 200, RowCount: 1},
	}, expired)

	deleted, err := s.DeleteBuildsBefore(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	_, err = s.GetResult(ctx, 100, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetResult(ctx, 300, "t1")
	require.NoError(t, err)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	errBoom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateResult(ctx, &store.Result{
			Build: 1, Test: "t1",
			Phase: store.PhaseSetup, Outcome: store.OutcomePassed,
		}); err != nil {
			return err
		}

		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.GetResult(ctx, 1, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := store.NewStore(logrus.New(), &config.StoreConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestOutcome_Attributes(t *testing.T) {
	tests := []struct {
		outcome store.Outcome
		value   int
		color   string
		label   string
		raw     bool
	}{
		{store.OutcomePassed, 1, "#a4f657", "Passed", true},
		{store.OutcomeXPass, 2, "#ddffbd", "XPassed", false},
		{store.OutcomeSkipped, 3, "#f0f0f0", "Skipped", true},
		{store.OutcomeXFail, 4, "#f3f657", "XFailed", false},
		{store.OutcomeFailed, 5, "#f65757", "Failed", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			assert.True(t, tt.outcome.Known())
			assert.Equal(t, tt.value, tt.outcome.Value())
			assert.Equal(t, tt.color, tt.outcome.Color())
			assert.Equal(t, tt.label, tt.outcome.Label())
			assert.Equal(t, tt.raw, tt.outcome.Raw())
		})
	}

	assert.False(t, store.Outcome("error").Known())
	assert.Equal(t, 0, store.Outcome("error").Value())
}
