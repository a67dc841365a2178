package taxonomy

import (
	"sort"
	"strings"

	"codetax/internal/backends"
)

// Predicate decides whether rule r accepts a raw match. It may record debug
// captures and adjust the matched set through state.
type Predicate interface {
	Match(r *Rule, state *MatchState, m backends.Match) bool
	Kind() string
}

// Predicate kinds as written in taxonomy files.
const (
	PredicateRegex  = "regex"
	PredicateTokens = "tokens"
)

// MatchState is the per-match scratch space shared by the rules of a batch
// while one raw match is classified.
type MatchState struct {
	matched map[*Rule]bool
	groups  map[string]any
	tokens  *tokenState
}

func newMatchState() *MatchState {
	return &MatchState{matched: make(map[*Rule]bool)}
}

// Has reports whether r has accepted the match.
func (s *MatchState) Has(r *Rule) bool { return s.matched[r] }

// Add marks r as accepting the match.
func (s *MatchState) Add(r *Rule) { s.matched[r] = true }

// Remove withdraws r.
func (s *MatchState) Remove(r *Rule) { delete(s.matched, r) }

// Rules returns the accepting rules.
func (s *MatchState) Rules() []*Rule {
	out := make([]*Rule, 0, len(s.matched))
	for r := range s.matched {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// suppressed reports whether a more specific accepting rule covers r.
func (s *MatchState) suppressed(r *Rule) bool {
	for m := range s.matched {
		if m.IsA(r) {
			return true
		}
	}
	return false
}

// Groups returns the debug captures gathered so far.
func (s *MatchState) Groups() map[string]any {
	if s.tokens != nil {
		s.groups[s.tokens.group] = sortedSet(s.tokens.all)
		s.groups[s.tokens.fragment] = sortedSet(s.tokens.claimed)
	}
	return s.groups
}

// RegexPredicate re-runs the rule's own pattern, anchored at the start of the
// matched text.
type RegexPredicate struct{}

// Match implements Predicate.
func (RegexPredicate) Match(r *Rule, state *MatchState, m backends.Match) bool {
	if r.pattern == nil {
		return false
	}
	g, ok := r.pattern.MatchPrefix(m.Text)
	if ok {
		state.groups = g
	}
	return ok
}

// Kind implements Predicate.
func (RegexPredicate) Kind() string { return PredicateRegex }

// TokenPredicate handles rules whose matched text holds a whitespace separated
// list of tokens, such as the classes of an HTML element. Owner's pattern
// locates the Group capture; each evaluated rule accepts the match when one
// of the tokens fits its own Fragment. Owner keeps its epic only while some
// token is unclaimed by its descendants.
type TokenPredicate struct {
	Owner    *Rule
	Group    string
	Fragment string
}

type tokenState struct {
	group    string
	fragment string
	all      map[string]bool
	claimed  map[string]bool
}

// Match implements Predicate.
func (p *TokenPredicate) Match(r *Rule, state *MatchState, m backends.Match) bool {
	if p.Owner == nil || p.Owner.pattern == nil {
		return false
	}
	found, ok := p.Owner.pattern.Find(m.Text)
	if !ok {
		return false
	}
	fragment, err := r.FragmentRegexp(p.Fragment)
	if err != nil {
		return false
	}

	captured, _ := found[p.Group].(string)
	tokens := strings.Fields(captured)

	fits := false
	for _, tok := range tokens {
		if !fragment.MatchString(tok) {
			continue
		}
		if state.tokens == nil {
			state.groups = found
			state.tokens = &tokenState{
				group:    p.Group,
				fragment: p.Fragment,
				all:      toSet(tokens),
				claimed:  make(map[string]bool),
			}
		}
		if r != p.Owner {
			state.tokens.claimed[tok] = true
		}
		fits = true
	}
	if fits {
		state.Add(r)
	}

	if state.tokens != nil && len(state.tokens.claimed) != len(state.tokens.all) {
		state.Add(p.Owner)
	} else {
		state.Remove(p.Owner)
	}
	return state.Has(r)
}

// Kind implements Predicate.
func (p *TokenPredicate) Kind() string { return PredicateTokens }

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
