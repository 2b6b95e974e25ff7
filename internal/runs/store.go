package runs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a run id has no persisted row.
var ErrNotFound = errors.New("background run not found")

// Store is the persistence contract for background runs, backed by GORM.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Enqueue persists a new run, idempotent on IdempotencyKey: a duplicate key
// returns the existing run with created=false and never creates a second
// queued row.
func (s *Store) Enqueue(run *BackgroundRun) (*BackgroundRun, bool, error) {
	var existing BackgroundRun
	err := s.db.Where("idempotency_key = ?", run.IdempotencyKey).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if err := s.db.Create(run).Error; err != nil {
		// A concurrent enqueue may have won the unique-index race.
		if isDuplicateKey(err) {
			if lerr := s.db.Where("idempotency_key = ?", run.IdempotencyKey).First(&existing).Error; lerr == nil {
				return &existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	return run, true, nil
}

// Get fetches a run by id.
func (s *Store) Get(id string) (*BackgroundRun, error) {
	var run BackgroundRun
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &run, nil
}

// ListDue returns up to limit queued runs whose next_retry_at has passed,
// oldest first.
func (s *Store) ListDue(limit int, now time.Time) ([]BackgroundRun, error) {
	var due []BackgroundRun
	err := s.db.
		Where("status = ? AND next_retry_at <= ?", StatusQueued, now).
		Order("created_at asc").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}
	return due, nil
}

// Claim transitions a run queued→running with optimistic concurrency: the
// update is guarded by the current status, so two dispatchers can never both
// pick up the same run. The attempt counter increments on a successful claim.
func (s *Store) Claim(id string, now time.Time) (*BackgroundRun, bool, error) {
	res := s.db.Model(&BackgroundRun{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Updates(map[string]any{
			"status":        StatusRunning,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("claim run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	run, err := s.Get(id)
	if err != nil {
		return nil, false, err
	}
	return run, true, nil
}

// Patch applies a partial update to a run.
func (s *Store) Patch(id string, fields map[string]any) error {
	res := s.db.Model(&BackgroundRun{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("patch run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountQueued returns the number of runs currently queued.
func (s *Store) CountQueued() (int64, error) {
	var n int64
	if err := s.db.Model(&BackgroundRun{}).Where("status = ?", StatusQueued).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count queued runs: %w", err)
	}
	return n, nil
}

// AppendEvent persists one supervisor event.
func (s *Store) AppendEvent(ev *SupervisorEvent) error {
	if err := s.db.Create(ev).Error; err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events in emission order.
func (s *Store) ListEvents(runID string) ([]SupervisorEvent, error) {
	var events []SupervisorEvent
	if err := s.db.Where("run_id = ?", runID).Order("id asc").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events for %s: %w", runID, err)
	}
	return events, nil
}

// isDuplicateKey matches unique-constraint violations across the postgres
// and sqlite drivers.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed")
}
