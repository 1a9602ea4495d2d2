package lifecycle

import (
	"fmt"
	"time"
)

// State is one lifecycle state of a domain item.
type State string

// Entry is one append-only history record. Entries are never mutated or
// removed once written.
type Entry struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Stateful pairs a domain value with its ordered transition history.
// Current state is always the last history entry.
type Stateful[T any] struct {
	Data         T       `json:"data"`
	StateHistory []Entry `json:"stateHistory"`
}

// Table maps each state to the set of states it may transition to. States
// absent from the table (or mapped to an empty set) are terminal.
type Table map[State][]State

// InvalidTransitionError is returned when a requested transition is not in
// the domain's table. Persistence-layer callers are expected to log and skip
// it; everyone else should treat it as a logic error.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q -> %q", e.From, e.To)
}

// New seeds a stateful item with a single system-sourced history entry.
func New[T any](data T, initial State) Stateful[T] {
	return Stateful[T]{
		Data: data,
		StateHistory: []Entry{{
			State:     initial,
			Timestamp: time.Now().UTC(),
			Source:    "system",
		}},
	}
}

// Current returns the item's current state, or "" for an item with no
// history (which should not occur for items built through New).
func (s Stateful[T]) Current() State {
	if len(s.StateHistory) == 0 {
		return ""
	}
	return s.StateHistory[len(s.StateHistory)-1].State
}

// Transition validates next against the table and returns a new item with
// one appended history entry. The receiver is left untouched. Illegal
// requests, including any attempt to leave a terminal state, return
// *InvalidTransitionError.
func Transition[T any](item Stateful[T], table Table, next State, source, note string) (Stateful[T], error) {
	from := item.Current()
	if !allowed(table, from, next) {
		return item, &InvalidTransitionError{From: from, To: next}
	}
	history := make([]Entry, len(item.StateHistory), len(item.StateHistory)+1)
	copy(history, item.StateHistory)
	history = append(history, Entry{
		State:     next,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Note:      note,
	})
	return Stateful[T]{Data: item.Data, StateHistory: history}, nil
}

func allowed(table Table, from, to State) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}
