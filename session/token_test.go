package session

import (
	"errors"
	"testing"
)

func TestTokenSupersession(t *testing.T) {
	var g runGuard
	t1 := g.next()
	if err := t1.Check(); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
	t2 := g.next()
	if err := t1.Check(); !errors.Is(err, ErrSuperseded) {
		t.Errorf("old token check = %v, want ErrSuperseded", err)
	}
	if err := t2.Check(); err != nil {
		t.Errorf("new token check = %v", err)
	}
}

func TestTokenAbort(t *testing.T) {
	var g runGuard
	tok := g.next()
	g.abort()
	if err := tok.Check(); !errors.Is(err, ErrAborted) {
		t.Errorf("aborted token check = %v, want ErrAborted", err)
	}
	// A new run clears the abort.
	tok2 := g.next()
	if !tok2.Active() {
		t.Errorf("next run still aborted")
	}
	// Supersession wins over a stale abort flag.
	g.abort()
	g.next()
	if err := tok2.Check(); !errors.Is(err, ErrSuperseded) {
		t.Errorf("superseded aborted token = %v, want ErrSuperseded", err)
	}
}
