// Package transcript accumulates the running conversation text of a voice
// session and records completed turns.
//
// Transcript fragments arrive incrementally from the live channel. The
// [Accumulator] concatenates them per speaker until the model signals the end
// of its turn; the finished [TurnRecord] is then appended to the [Log] and
// handed to any configured [Publisher].
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livetalk/pkg/live"
)

// TurnRecord is one completed exchange between the user and the model.
type TurnRecord struct {
	UserText    string    `json:"user_text"`
	ModelText   string    `json:"model_text"`
	CompletedAt time.Time `json:"completed_at"`
}

// Accumulator collects the fragments of the turn in progress.
//
// It is safe for concurrent use so that readers can snapshot the current
// turn while the session's event loop appends to it.
type Accumulator struct {
	mu    sync.Mutex
	user  strings.Builder
	model strings.Builder
}

// Add appends a fragment to the text of its speaker. Fragments from unknown
// roles are ignored.
func (a *Accumulator) Add(f live.TranscriptFragment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch f.Role {
	case live.RoleUser:
		a.user.WriteString(f.Text)
	case live.RoleModel:
		a.model.WriteString(f.Text)
	}
}

// Current returns the text accumulated so far.
func (a *Accumulator) Current() (user, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.String(), a.model.String()
}

// Complete returns the accumulated turn stamped with at and clears the
// accumulator.
func (a *Accumulator) Complete(at time.Time) TurnRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := TurnRecord{
		UserText:    a.user.String(),
		ModelText:   a.model.String(),
		CompletedAt: at,
	}
	a.user.Reset()
	a.model.Reset()
	return rec
}

// Reset discards the turn in progress.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Reset()
	a.model.Reset()
}

// Log is the ordered sequence of completed turns. Safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	turns []TurnRecord
}

// Append adds rec to the end of the log.
func (l *Log) Append(rec TurnRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, rec)
}

// Turns returns a copy of every recorded turn in order.
func (l *Log) Turns() []TurnRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TurnRecord, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of recorded turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Reset empties the log.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
}
