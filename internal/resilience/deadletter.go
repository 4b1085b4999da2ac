package resilience

import (
	"sync"
	"time"
)

// DeadLetter is a notification that could not be processed.
type DeadLetter struct {
	EventID   string    `json:"event_id"`
	Key       string    `json:"key"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"` // "transient" or "permanent"
	FailedAt  time.Time `json:"failed_at"`
}

// ClassifyError labels err as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// DeadLetters is a bounded in-memory list of failed notifications, oldest
// dropped first.
type DeadLetters struct {
	mu      sync.Mutex
	max     int
	entries []DeadLetter
}

// NewDeadLetters keeps at most limit entries (default 1000).
func NewDeadLetters(limit int) *DeadLetters {
	if limit <= 0 {
		limit = 1000
	}
	return &DeadLetters{max: limit}
}

// Push records a failure.
func (d *DeadLetters) Push(eventID, key string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = append(d.entries, DeadLetter{
		EventID:   eventID,
		Key:       key,
		Error:     err.Error(),
		ErrorType: ClassifyError(err),
		FailedAt:  time.Now().UTC(),
	})
	if over := len(d.entries) - d.max; over > 0 {
		d.entries = append([]DeadLetter(nil), d.entries[over:]...)
	}
}

// List returns a copy of the entries, oldest first.
func (d *DeadLetters) List() []DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DeadLetter(nil), d.entries...)
}

// Len returns the number of entries.
func (d *DeadLetters) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
