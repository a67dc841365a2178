// Package taxonomy implements the classification engine: a tree of pattern
// rules, the compiler that expands their fragment templates, the planner that
// batches rules into physical searches and the classifier that assigns epics
// to every raw match.
package taxonomy

import (
	"regexp"
)

// DefaultPaths is the search scope of a root rule that declares none.
var DefaultPaths = []string{"."}

// Scope is where a rule searches.
type Scope struct {
	Paths []string `json:"paths" toml:"paths"`
	Globs []string `json:"globs" toml:"globs"`
}

// Rule is one node of a built Hierarchy. Every inherited property is resolved
// when the hierarchy is built, so a Rule is read-only afterwards.
type Rule struct {
	name      string
	epic      string
	template  string
	fragments map[string]string
	scope     Scope
	prune     bool
	predicate Predicate

	parent   *Rule
	children []*Rule
	depth    int

	pattern     *Pattern
	fragmentRes map[string]*regexp.Regexp
}

// Name returns the unique rule name.
func (r *Rule) Name() string { return r.name }

// Epic returns the label assigned to matches this rule accepts.
func (r *Rule) Epic() string { return r.epic }

// Template returns the own or inherited pattern template.
func (r *Rule) Template() string { return r.template }

// Scope returns the resolved search scope.
func (r *Rule) Scope() Scope { return r.scope }

// Prune reports whether this rule's epic is removed when the rule is reached
// only through a broader request.
func (r *Rule) Prune() bool { return r.prune }

// Predicate returns the match predicate.
func (r *Rule) Predicate() Predicate { return r.predicate }

// Parent returns the direct ancestor, nil for roots.
func (r *Rule) Parent() *Rule { return r.parent }

// Children returns the direct descendants in declaration order.
func (r *Rule) Children() []*Rule { return r.children }

// Depth is 0 for roots.
func (r *Rule) Depth() int { return r.depth }

// Concrete reports whether the rule has a pattern template and can be searched.
func (r *Rule) Concrete() bool { return r.template != "" }

// Pattern returns the compiled pattern, nil for abstract rules and for rules
// skipped because they failed to compile.
func (r *Rule) Pattern() *Pattern { return r.pattern }

// searchable is true for concrete rules that compiled.
func (r *Rule) searchable() bool { return r.Concrete() && r.pattern != nil }

// IsA reports whether r is other or one of its descendants.
func (r *Rule) IsA(other *Rule) bool {
	for cur := r; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Fragment looks name up in this rule's fragments, then in its ancestors'.
func (r *Rule) Fragment(name string) (string, bool) {
	for cur := r; cur != nil; cur = cur.parent {
		if v, ok := cur.fragments[name]; ok {
			return v, true
		}
	}
	return "", false
}

// FragmentNames returns every fragment name visible from r, nearest first.
func (r *Rule) FragmentNames() []string {
	seen := make(map[string]bool)
	var names []string
	for cur := r; cur != nil; cur = cur.parent {
		for _, name := range sortedKeys(cur.fragments) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// FragmentRegexp returns the named fragment expanded in r's scope and
// anchored at the start of the input.
func (r *Rule) FragmentRegexp(name string) (*regexp.Regexp, error) {
	if re, ok := r.fragmentRes[name]; ok {
		return re, nil
	}
	return compileFragment(r, name)
}

func (r *Rule) String() string { return r.name }

// Enumerate returns root's subtree in post-order: every rule's descendants
// come before the rule, siblings keep their declaration order.
func Enumerate(root *Rule, includeRoot bool) []*Rule {
	var out []*Rule
	var walk func(r *Rule)
	walk = func(r *Rule) {
		for _, c := range r.children {
			walk(c)
		}
		out = append(out, r)
	}
	for _, c := range root.children {
		walk(c)
	}
	if includeRoot {
		out = append(out, root)
	}
	return out
}
