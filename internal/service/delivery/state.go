package delivery

import (
	"fmt"
	"log/slog"

	"github.com/jgivc/copytodownload/internal/common"
)

const (
	StateReceived State = iota
	StateResolving
	StateCopying
	StateRegistering
	StateNotifying
	StateCompleted
	StateFailed
)

type State int

func (s State) String() string {
	if s < StateReceived || s > StateFailed {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return [...]string{"Received", "Resolving", "Copying", "Registering", "Notifying", "Completed", "Failed"}[s]
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// tracker walks one request through its states. States only move forward and
// exactly one terminal state is reached.
type tracker struct {
	state State
	kind  common.ErrorKind
	log   *slog.Logger
}

func newTracker(log *slog.Logger) *tracker {
	return &tracker{state: StateReceived, log: log}
}

func (t *tracker) advance(next State) {
	if t.state.Terminal() || next <= t.state || next == StateFailed {
		panic(fmt.Sprintf("invalid transition %s -> %s", t.state, next))
	}

	t.log.Debug("Transition", slog.String("from", t.state.String()), slog.String("to", next.String()))
	t.state = next
}

func (t *tracker) fail(kind common.ErrorKind) {
	if t.state.Terminal() {
		panic(fmt.Sprintf("invalid transition %s -> %s", t.state, StateFailed))
	}

	t.log.Debug("Transition", slog.String("from", t.state.String()), slog.String("to", StateFailed.String()), slog.String("kind", string(kind)))
	t.state = StateFailed
	t.kind = kind
}
