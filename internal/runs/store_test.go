package runs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "runs.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&BackgroundRun{}, &SupervisorEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func queuedRun(key string) *BackgroundRun {
	return &BackgroundRun{
		ID:             uuid.New().String(),
		Status:         StatusQueued,
		Action:         ActionWeb,
		MaxAttempts:    3,
		Retryable:      true,
		NextRetryAt:    time.Now().Add(-time.Second),
		IdempotencyKey: key,
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	store := openTestStore(t)

	first, created, err := store.Enqueue(queuedRun("rel-42"))
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%t err=%v", created, err)
	}

	second, created, err := store.Enqueue(queuedRun("rel-42"))
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created {
		t.Fatal("duplicate idempotency key must not create a second run")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate enqueue returned id %s, want %s", second.ID, first.ID)
	}

	n, err := store.CountQueued()
	if err != nil || n != 1 {
		t.Fatalf("queued count = %d (err=%v), want 1", n, err)
	}
}

func TestClaimIsOptimistic(t *testing.T) {
	store := openTestStore(t)
	run, _, err := store.Enqueue(queuedRun("claim-1"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, ok, err := store.Claim(run.ID, time.Now())
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%t err=%v", ok, err)
	}
	if claimed.Status != StatusRunning || claimed.AttemptCount != 1 {
		t.Fatalf("claimed run = %s/%d, want running/1", claimed.Status, claimed.AttemptCount)
	}

	// A second dispatcher must lose the race.
	_, ok, err = store.Claim(run.ID, time.Now())
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("run claimed twice")
	}
}

func TestListDueRespectsNextRetryAt(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	ready := queuedRun("due-1")
	ready.NextRetryAt = now.Add(-time.Minute)
	notYet := queuedRun("due-2")
	notYet.NextRetryAt = now.Add(time.Hour)

	if _, _, err := store.Enqueue(ready); err != nil {
		t.Fatalf("enqueue ready: %v", err)
	}
	if _, _, err := store.Enqueue(notYet); err != nil {
		t.Fatalf("enqueue notYet: %v", err)
	}

	due, err := store.ListDue(10, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].IdempotencyKey != "due-1" {
		t.Fatalf("due = %+v, want only due-1", due)
	}
}

func TestGetMissingRun(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get(uuid.New().String()); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEventsAppendOnly(t *testing.T) {
	store := openTestStore(t)
	run, _, _ := store.Enqueue(queuedRun("ev-1"))

	for _, ev := range []string{"run_enqueued", "run_running", "run_succeeded"} {
		if err := store.AppendEvent(&SupervisorEvent{Event: ev, RunID: run.ID, Timestamp: time.Now()}); err != nil {
			t.Fatalf("append %s: %v", ev, err)
		}
	}

	events, err := store.ListEvents(run.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 || events[0].Event != "run_enqueued" || events[2].Event != "run_succeeded" {
		t.Fatalf("events = %+v, want 3 in emission order", events)
	}
}
