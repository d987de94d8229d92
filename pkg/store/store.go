package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ethpandaops/trendoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no result exists for a (build, test) pair.
var ErrNotFound = errors.New("result not found")

// Store provides persistence for test results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// WithTx runs fn against a Store bound to a single transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	GetResult(ctx context.Context, build int64, test string) (*Result, error)
	CreateResult(ctx context.Context, result *Result) error
	UpdateOutcome(
		ctx context.Context, build int64, test string,
		phase Phase, outcome Outcome, xfailReason *string,
	) error
	SetVideoURL(ctx context.Context, build int64, test, url string) error

	ListTests(ctx context.Context) ([]string, error)
	ListRecentResults(
		ctx context.Context, test string, limit int,
	) ([]Result, error)

	ListBuildsBefore(ctx context.Context, cutoff int64) ([]BuildCount, error)
	DeleteBuildsBefore(ctx context.Context, cutoff int64) (int64, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.StoreConfig
	db  *gorm.DB
}

// NewStore creates a new result Store backed by the configured database
// driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.StoreConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and creates the result table when
// it does not exist yet.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(s.cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating store directory: %w", err)
			}
		}

		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening result database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Result{}); err != nil {
		return fmt.Errorf("running result migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Debug("Result database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) WithTx(
	ctx context.Context, fn func(tx Store) error,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{log: s.log, cfg: s.cfg, db: tx})
	})
}

// GetResult returns the row for (build, test) or ErrNotFound.
func (s *store) GetResult(
	ctx context.Context, build int64, test string,
) (*Result, error) {
	var result Result

	err := s.db.WithContext(ctx).
		Where("build = ? AND test = ?", build, test).
		Take(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}

	return &result, nil
}

func (s *store) CreateResult(ctx context.Context, result *Result) error {
	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("creating result: %w", err)
	}

	return nil
}

// UpdateOutcome overwrites phase, outcome and xfail_reason of an existing
// row. A nil reason clears the column.
func (s *store) UpdateOutcome(
	ctx context.Context, build int64, test string,
	phase Phase, outcome Outcome, xfailReason *string,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Result{}).
		Where("build = ? AND test = ?", build, test).
		Updates(map[string]any{
			"phase":        phase,
			"outcome":      outcome,
			"xfail_reason": xfailReason,
		}).Error; err != nil {
		return fmt.Errorf("updating result outcome: %w", err)
	}

	return nil
}

func (s *store) SetVideoURL(
	ctx context.Context, build int64, test, url string,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Result{}).
		Where("build = ? AND test = ?", build, test).
		Update("video_url", url).Error; err != nil {
		return fmt.Errorf("setting video url: %w", err)
	}

	return nil
}

// ListTests returns the distinct test identifiers in lexicographic order.
func (s *store) ListTests(ctx context.Context) ([]string, error) {
	var tests []string
	if err := s.db.WithContext(ctx).
		Model(&Result{}).
		Distinct("test").
		Order("test ASC").
		Pluck("test", &tests).Error; err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}

	return tests, nil
}

// ListRecentResults returns up to limit of the most recent builds of a
// test, oldest first.
func (s *store) ListRecentResults(
	ctx context.Context, test string, limit int,
) ([]Result, error) {
	var results []Result
	if err := s.db.WithContext(ctx).
		Where("test = ?", test).
		Order("build DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing recent results: %w", err)
	}

	slices.Reverse(results)

	return results, nil
}

// ListBuildsBefore returns the builds older than cutoff with their row
// counts, oldest first.
func (s *store) ListBuildsBefore(
	ctx context.Context, cutoff int64,
) ([]BuildCount, error) {
	var builds []BuildCount
	if err := s.db.WithContext(ctx).
		Model(&Result{}).
		Select("build, COUNT(*) AS row_count").
		Where("build < ?", cutoff).
		Group("build").
		Order("build ASC").
		Scan(&builds).Error; err != nil {
		return nil, fmt.Errorf("listing expired builds: %w", err)
	}

	return builds, nil
}

// DeleteBuildsBefore removes all rows of builds older than cutoff and
// returns the number of deleted rows.
func (s *store) DeleteBuildsBefore(
	ctx context.Context, cutoff int64,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("build < ?", cutoff).
		Delete(&Result{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired builds: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithFields(logrus.Fields{
			"cutoff": cutoff,
			"rows":   result.RowsAffected,
		}).Debug("Removed expired results")
	}

	return result.RowsAffected, nil
}
