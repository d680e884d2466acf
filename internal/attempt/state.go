// internal/attempt/state.go
package attempt

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is a node of the per-attempt state machine.
type State int

const (
	Scanning State = iota
	Answering
	Advancing
	Verifying
	Succeeded
	Failed
	Abandoned
)

var stateNames = [...]string{"Scanning", "Answering", "Advancing", "Verifying", "Succeeded", "Failed", "Abandoned"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool { return s == Succeeded || s == Failed || s == Abandoned }

// edges lists the allowed transitions. Any non-terminal state may also move to
// Failed (session lost) or Abandoned (stop requested).
var edges = map[State][]State{
	Scanning:  {Verifying, Answering},
	Answering: {Advancing, Scanning},
	Advancing: {Scanning},
	Verifying: {Succeeded, Failed},
}

// CanTransition reports whether from -> to is an edge of the machine.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed || to == Abandoned {
		return true
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Attempt is the record of one pass through a job's application flow.
type Attempt struct {
	ID                string
	JobReference      string
	State             State
	Iterations        int
	LastFailureReason Reason
	StartedAt         time.Time
	// History holds every state entered, starting with Scanning.
	History []State
}

func newAttempt(job string) *Attempt {
	return &Attempt{
		ID:           uuid.NewString(),
		JobReference: job,
		State:        Scanning,
		StartedAt:    time.Now(),
		History:      []State{Scanning},
	}
}

func (a *Attempt) to(s State) error {
	if !CanTransition(a.State, s) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.State, s)
	}
	a.State = s
	a.History = append(a.History, s)
	return nil
}

// StopFlag is the cooperative cancellation signal shared by every attempt of a run.
// The zero value is ready to use and a nil *StopFlag is never set.
type StopFlag struct {
	v atomic.Bool
}

// Stop raises the flag.
func (f *StopFlag) Stop() { f.v.Store(true) }

// Stopped reports whether the flag is raised.
func (f *StopFlag) Stopped() bool { return f != nil && f.v.Load() }
