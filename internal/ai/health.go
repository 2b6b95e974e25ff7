package ai

import (
	"sync"
	"time"
)

const (
	// failuresToOpen is the consecutive-failure streak that opens a cooldown.
	failuresToOpen = 3

	baseCooldown = 30 * time.Second
	maxCooldown  = 5 * time.Minute
)

// HealthRecord tracks the recent reliability of one provider. Process-scoped
// and reset on restart; this is cheap best-effort throttling, not durable
// circuit state.
type HealthRecord struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenUntil           time.Time `json:"open_until"`
	LastError           string    `json:"last_error,omitempty"`
}

// HealthBoard keeps a HealthRecord per provider and decides which providers
// are currently worth calling.
type HealthBoard struct {
	mu      sync.Mutex
	records map[AIProvider]*HealthRecord
	now     func() time.Time
}

// NewHealthBoard creates an empty health board.
func NewHealthBoard() *HealthBoard {
	return &HealthBoard{
		records: make(map[AIProvider]*HealthRecord),
		now:     time.Now,
	}
}

func (b *HealthBoard) record(p AIProvider) *HealthRecord {
	rec, ok := b.records[p]
	if !ok {
		rec = &HealthRecord{}
		b.records[p] = rec
	}
	return rec
}

// RecordSuccess resets the failure streak and closes any open cooldown.
func (b *HealthBoard) RecordSuccess(p AIProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.record(p)
	rec.ConsecutiveFailures = 0
	rec.OpenUntil = time.Time{}
	rec.LastError = ""
}

// RecordFailure increments the failure streak and, once the streak reaches
// failuresToOpen, opens a cooldown window that doubles per further failure.
func (b *HealthBoard) RecordFailure(p AIProvider, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.record(p)
	rec.ConsecutiveFailures++
	rec.LastError = errMsg

	if rec.ConsecutiveFailures >= failuresToOpen {
		cooldown := baseCooldown << uint(rec.ConsecutiveFailures-failuresToOpen)
		if cooldown > maxCooldown || cooldown <= 0 {
			cooldown = maxCooldown
		}
		rec.OpenUntil = b.now().Add(cooldown)
	}
}

// Available reports whether a provider is outside any cooldown window.
func (b *HealthBoard) Available(p AIProvider) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[p]
	if !ok {
		return true
	}
	return !b.now().Before(rec.OpenUntil)
}

// FailureStreak returns the current consecutive failure count for a provider.
func (b *HealthBoard) FailureStreak(p AIProvider) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[p]
	if !ok {
		return 0
	}
	return rec.ConsecutiveFailures
}

// Snapshot returns a copy of all records, for status endpoints.
func (b *HealthBoard) Snapshot() map[AIProvider]HealthRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[AIProvider]HealthRecord, len(b.records))
	for p, rec := range b.records {
		out[p] = *rec
	}
	return out
}
