// Package session orchestrates one live check-in: resource acquisition,
// the conversation state machine, transcript assembly, mismatch detection
// and teardown. At most one session is active at a time.
package session

import (
	"errors"
	"sync"
)

// Control-flow sentinels. Both are swallowed silently by callers: a torn
// down or superseded startup cleans up after itself and never surfaces an
// error to the user.
var (
	ErrAborted    = errors.New("session startup aborted")
	ErrSuperseded = errors.New("session startup superseded")
)

// runGuard hands out monotonically increasing run ids. A newer run
// immediately supersedes any in-flight one; abort cancels whatever run is
// current.
type runGuard struct {
	mu      sync.Mutex
	current uint64
	aborted bool
}

func (g *runGuard) next() *Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	g.aborted = false
	return &Token{g: g, id: g.current}
}

func (g *runGuard) abort() {
	g.mu.Lock()
	g.aborted = true
	g.mu.Unlock()
}

// Token identifies one startup run. Every suspension point in the run calls
// Check before continuing; a stale token means the run must stop touching
// shared state and release only what it allocated itself.
type Token struct {
	g  *runGuard
	id uint64
}

func (t *Token) Check() error {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	if t.g.current != t.id {
		return ErrSuperseded
	}
	if t.g.aborted {
		return ErrAborted
	}
	return nil
}

func (t *Token) Active() bool { return t.Check() == nil }
