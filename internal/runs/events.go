package runs

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventLog emits supervisor events on detached goroutines. Persistence
// failures are logged and swallowed; a missing event never blocks a state
// transition.
type EventLog struct {
	store *Store
	log   *zap.Logger
	wg    sync.WaitGroup
}

// NewEventLog creates an event log over the run store.
func NewEventLog(store *Store, logger *zap.Logger) *EventLog {
	return &EventLog{store: store, log: logger}
}

// Emit fires an event append in the background and returns immediately.
func (e *EventLog) Emit(event, runID, stage, summary, details string) {
	ev := &SupervisorEvent{
		Event:     event,
		RunID:     runID,
		Stage:     stage,
		Summary:   summary,
		Details:   details,
		Timestamp: time.Now(),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.store.AppendEvent(ev); err != nil {
			e.log.Warn("supervisor event dropped",
				zap.String("event", event),
				zap.String("run_id", runID),
				zap.Error(err))
		}
	}()
}

// Flush waits for all in-flight emissions; used on shutdown and in tests.
func (e *EventLog) Flush() {
	e.wg.Wait()
}
