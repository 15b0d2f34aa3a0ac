package transcript

import (
	"strings"
	"testing"
)

func TestDefaultMergeDelta(t *testing.T) {
	got := ""
	for _, frag := range []string{"I feel ", "pretty good ", "today"} {
		got = DefaultMerge(got, frag)
	}
	if got != "I feel pretty good today" {
		t.Errorf("got %q", got)
	}
}

func TestDefaultMergeSnapshot(t *testing.T) {
	got := ""
	for _, frag := range []string{"I feel", "I feel pretty", "I feel pretty good today"} {
		got = DefaultMerge(got, frag)
	}
	if got != "I feel pretty good today" {
		t.Errorf("got %q", got)
	}
}

func TestDefaultMergeStaleShorterSnapshot(t *testing.T) {
	// A shorter restatement must not shrink the transcript.
	got := DefaultMerge("I feel pretty good", "I feel")
	if got != "I feel pretty good" {
		t.Errorf("got %q", got)
	}
}

func TestDefaultMergeEmptyFragment(t *testing.T) {
	if got := DefaultMerge("hello", ""); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := DefaultMerge("", "hello"); got != "hello" {
		t.Errorf("got %q", got)
	}
}

// Split-invariance: feeding the text whole or in any ordered split yields
// the same final transcript, for delta and snapshot framing alike.
func TestMergeSplitInvariance(t *testing.T) {
	const text = "today was rough but the walk helped a lot"

	splits := [][]int{
		{len(text)},
		{1, len(text) - 1},
		{5, 10, len(text) - 15},
		{2, 2, 2, len(text) - 6},
	}

	for _, split := range splits {
		// delta framing
		got := ""
		pos := 0
		for _, n := range split {
			got = DefaultMerge(got, text[pos:pos+n])
			pos += n
		}
		if got != text {
			t.Errorf("delta split %v: got %q", split, got)
		}

		// snapshot framing: each fragment restates everything so far
		got = ""
		pos = 0
		for _, n := range split {
			pos += n
			got = DefaultMerge(got, text[:pos])
		}
		if got != text {
			t.Errorf("snapshot split %v: got %q", split, got)
		}
	}
}

func TestMergeStrategyPluggable(t *testing.T) {
	concat := func(existing, fragment string) string { return existing + fragment }
	a := NewAssembler(concat)
	a.UserSpeechStart()
	a.UserFragment("ab", false)
	msg := a.UserFragment("ab", false)
	if msg.Content != "abab" {
		t.Errorf("custom strategy not applied, got %q", msg.Content)
	}
	if !strings.HasPrefix(msg.Content, "ab") {
		t.Error("content lost prefix")
	}
}
