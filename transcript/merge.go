package transcript

// MergeStrategy folds one streamed fragment into the running transcript.
// The conversation protocol does not label fragments as deltas or snapshots,
// so the strategy is pluggable; DefaultMerge implements the prefix heuristic.
type MergeStrategy func(existing, fragment string) string

// DefaultMerge distinguishes snapshot fragments (the fragment restates the
// transcript so far and extends it, or vice versa) from delta fragments
// (new text only). Snapshots replace, keeping the longer text; deltas
// append. Naive concatenation corrupts snapshot-style streams.
func DefaultMerge(existing, fragment string) string {
	if fragment == "" {
		return existing
	}
	if existing == "" {
		return fragment
	}
	if len(fragment) >= len(existing) && fragment[:len(existing)] == existing {
		return fragment
	}
	if len(existing) >= len(fragment) && existing[:len(fragment)] == fragment {
		return existing
	}
	return existing + fragment
}
