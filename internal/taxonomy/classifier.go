package taxonomy

import (
	"context"
	"sort"

	"codetax/internal/backends"
)

// ClassifiedMatch is a raw match with the epics it was assigned.
type ClassifiedMatch struct {
	backends.Match
	Epics  []string       `json:"epics"`
	Link   string         `json:"link,omitempty"`
	Groups map[string]any `json:"groups,omitempty"`
}

// Linker builds an external link for a match. Errors leave the link empty.
type Linker interface {
	Link(ctx context.Context, m backends.Match) (string, error)
}

// Classifier assigns epics to the raw matches of a batch.
type Classifier struct {
	prune  map[string]bool
	linker Linker
}

// NewClassifier creates a classifier for one request. The prune set holds
// the epics of every pruning rule reachable from the requested rules that was
// not itself requested.
func NewClassifier(requested []*Rule, linker Linker) *Classifier {
	return &Classifier{prune: PruneSet(requested), linker: linker}
}

// PruneSet returns the epics removed from matches of a request.
func PruneSet(requested []*Rule) map[string]bool {
	asked := make(map[*Rule]bool, len(requested))
	for _, r := range requested {
		asked[r] = true
	}
	prune := make(map[string]bool)
	for _, req := range requested {
		for _, r := range Enumerate(req, true) {
			if r.prune && !asked[r] {
				prune[r.epic] = true
			}
		}
	}
	return prune
}

// Pruned returns the prune set, sorted.
func (c *Classifier) Pruned() []string {
	return sortedSet(c.prune)
}

// Classify evaluates every rule of the batch against m, most specific first.
// A rule is skipped when an accepting rule already descends from it. The
// second result is false when no epic survives pruning.
func (c *Classifier) Classify(ctx context.Context, m backends.Match, b Batch) (ClassifiedMatch, bool) {
	state := newMatchState()
	for _, r := range b.Rules {
		if state.suppressed(r) {
			continue
		}
		if r.predicate.Match(r, state, m) {
			state.Add(r)
		}
	}

	epics := make(map[string]bool)
	for r := range state.matched {
		if !c.prune[r.epic] {
			epics[r.epic] = true
		}
	}
	if len(epics) == 0 {
		return ClassifiedMatch{}, false
	}

	cm := ClassifiedMatch{
		Match:  m,
		Epics:  sortedSet(epics),
		Groups: state.Groups(),
	}
	if c.linker != nil {
		if link, err := c.linker.Link(ctx, m); err == nil {
			cm.Link = link
		}
	}
	return cm, true
}

// EpicCounts tallies matches per epic.
func EpicCounts(matches []ClassifiedMatch) map[string]int {
	counts := make(map[string]int)
	for _, m := range matches {
		for _, e := range m.Epics {
			counts[e]++
		}
	}
	return counts
}

// SortedEpics returns the keys of counts, sorted.
func SortedEpics(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for e := range counts {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
