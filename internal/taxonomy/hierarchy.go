package taxonomy

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	cterrors "codetax/internal/errors"
	"codetax/internal/slogutil"
)

// AllKey selects every root rule.
const AllKey = "all"

// PredicateDef selects a predicate variant for a rule.
type PredicateDef struct {
	Kind     string `yaml:"kind" toml:"kind" json:"kind"`
	Group    string `yaml:"group,omitempty" toml:"group,omitempty" json:"group,omitempty"`
	Fragment string `yaml:"fragment,omitempty" toml:"fragment,omitempty" json:"fragment,omitempty"`
}

// RuleDef is the declarative form of a rule. Nil slices and pointers inherit
// from the parent.
type RuleDef struct {
	Name string
	// Parents holds the declared parent names. More than one is rejected.
	Parents   []string
	Epic      string
	Template  string
	Fragments map[string]string
	Paths     []string
	Globs     []string
	Prune     *bool
	Predicate *PredicateDef
}

// BuildOptions controls Registry.Build.
type BuildOptions struct {
	// SkipInvalidRules logs and skips rules whose pattern does not compile
	// instead of failing the whole hierarchy.
	SkipInvalidRules bool
	Logger           *slog.Logger
}

// Registry collects rule definitions before the hierarchy is built.
type Registry struct {
	defs []RuleDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Define adds a rule definition. Definitions may reference parents declared
// later.
func (reg *Registry) Define(def RuleDef) {
	reg.defs = append(reg.defs, def)
}

// Hierarchy is a built forest of rules.
type Hierarchy struct {
	roots  []*Rule
	rules  []*Rule
	byName map[string]*Rule
	keys   map[string][]*Rule
}

// Build resolves parents and inherited properties and compiles every
// concrete rule. Configuration problems are reported as CONFIGURATION_ERROR.
func (reg *Registry) Build(opts BuildOptions) (*Hierarchy, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	h := &Hierarchy{byName: make(map[string]*Rule, len(reg.defs))}
	defs := make(map[string]RuleDef, len(reg.defs))

	for _, def := range reg.defs {
		if def.Name == "" {
			return nil, configError("rule without a name", "", nil)
		}
		if _, dup := defs[def.Name]; dup {
			return nil, configError("duplicate rule name", def.Name, nil)
		}
		if len(def.Parents) > 1 {
			return nil, configError(fmt.Sprintf("rule declares %d parents, at most one is allowed", len(def.Parents)), def.Name, nil)
		}
		defs[def.Name] = def
		r := &Rule{name: def.Name, fragments: def.Fragments}
		h.byName[def.Name] = r
		h.rules = append(h.rules, r)
	}

	for _, r := range h.rules {
		def := defs[r.name]
		if len(def.Parents) == 0 {
			h.roots = append(h.roots, r)
			continue
		}
		parent, ok := h.byName[def.Parents[0]]
		if !ok {
			return nil, configError("unknown parent "+def.Parents[0], r.name, nil)
		}
		r.parent = parent
		parent.children = append(parent.children, r)
	}

	if err := h.checkCycles(); err != nil {
		return nil, err
	}

	// roots first, then every subtree top-down so parents resolve first
	var ordered []*Rule
	var walk func(r *Rule, depth int)
	walk = func(r *Rule, depth int) {
		r.depth = depth
		ordered = append(ordered, r)
		for _, c := range r.children {
			walk(c, depth+1)
		}
	}
	for _, root := range h.roots {
		walk(root, 0)
	}

	for _, r := range ordered {
		if err := resolve(r, defs[r.name]); err != nil {
			return nil, err
		}
	}

	for _, r := range ordered {
		if !r.Concrete() {
			continue
		}
		if err := prepare(r); err != nil {
			if !opts.SkipInvalidRules {
				return nil, err
			}
			logger.Warn("Skipping invalid rule", "rule", r.name, "error", err)
			r.pattern = nil
		}
	}

	h.keys = epicKeys(h)
	return h, nil
}

// resolve fills r's inherited properties from its already resolved parent.
func resolve(r *Rule, def RuleDef) error {
	p := r.parent

	r.epic = def.Epic
	r.template = def.Template
	r.scope = Scope{Paths: def.Paths, Globs: def.Globs}
	if p != nil {
		if r.epic == "" {
			r.epic = p.epic
		}
		if r.template == "" {
			r.template = p.template
		}
		if r.scope.Paths == nil {
			r.scope.Paths = p.scope.Paths
		}
		if r.scope.Globs == nil {
			r.scope.Globs = p.scope.Globs
		}
		r.prune = p.prune
		r.predicate = p.predicate
	}
	if r.scope.Paths == nil {
		r.scope.Paths = DefaultPaths
	}
	if r.scope.Globs == nil {
		r.scope.Globs = []string{}
	}
	if def.Prune != nil {
		r.prune = *def.Prune
	}

	if def.Predicate != nil {
		switch def.Predicate.Kind {
		case "", PredicateRegex:
			r.predicate = RegexPredicate{}
		case PredicateTokens:
			if def.Predicate.Group == "" || def.Predicate.Fragment == "" {
				return configError("tokens predicate needs group and fragment", r.name, nil)
			}
			r.predicate = &TokenPredicate{Owner: r, Group: def.Predicate.Group, Fragment: def.Predicate.Fragment}
		default:
			return configError("unknown predicate kind "+def.Predicate.Kind, r.name, nil)
		}
	}
	if r.predicate == nil {
		r.predicate = RegexPredicate{}
	}

	if r.Concrete() && r.epic == "" {
		return configError("concrete rule has no epic", r.name, nil)
	}
	return nil
}

// prepare compiles r's pattern and any fragment its predicate needs.
func prepare(r *Rule) error {
	pattern, err := Compile(r)
	if err != nil {
		return configError("pattern does not compile", r.name, err)
	}
	r.pattern = pattern

	if tp, ok := r.predicate.(*TokenPredicate); ok {
		if tp.Owner.pattern == nil && tp.Owner != r {
			return configError("tokens predicate owner "+tp.Owner.name+" has no pattern", r.name, nil)
		}
		re, err := compileFragment(r, tp.Fragment)
		if err != nil {
			return configError("token fragment does not compile", r.name, err)
		}
		r.fragmentRes = map[string]*regexp.Regexp{tp.Fragment: re}
	}
	return nil
}

func (h *Hierarchy) checkCycles() error {
	for _, r := range h.rules {
		seen := map[*Rule]bool{}
		for cur := r; cur != nil; cur = cur.parent {
			if seen[cur] {
				return configError("parent cycle", r.name, nil)
			}
			seen[cur] = true
		}
	}
	return nil
}

func configError(msg, rule string, cause error) error {
	details := map[string]interface{}{"rule": rule}
	var ce *CompileError
	if errors.As(cause, &ce) {
		// the compile error already names the rule
		if ce.Placeholder != "" {
			details["placeholder"] = ce.Placeholder
		}
		return cterrors.NewError(cterrors.ConfigurationError, msg, cause, nil).WithDetails(details)
	}
	if rule != "" {
		msg = fmt.Sprintf("rule %s: %s", rule, msg)
	}
	return cterrors.NewError(cterrors.ConfigurationError, msg, cause, nil).WithDetails(details)
}

// Roots returns the rules without a parent, in declaration order.
func (h *Hierarchy) Roots() []*Rule { return h.roots }

// Rules returns every rule in declaration order.
func (h *Hierarchy) Rules() []*Rule { return h.rules }

// Rule looks a rule up by name.
func (h *Hierarchy) Rule(name string) (*Rule, bool) {
	r, ok := h.byName[name]
	return r, ok
}

// Enumerate returns the whole forest in post-order.
func (h *Hierarchy) Enumerate() []*Rule {
	var out []*Rule
	for _, root := range h.roots {
		out = append(out, Enumerate(root, true)...)
	}
	return out
}

// EpicKey turns an epic into its command line key: lower case, spaces become
// dashes, dots and parentheses are dropped.
func EpicKey(epic string) string {
	return strings.NewReplacer(" ", "-", ".", "", "(", "", ")", "").Replace(strings.ToLower(epic))
}

// EpicKeys returns every selectable key, sorted.
func (h *Hierarchy) EpicKeys() []string {
	return sortedKeys(h.keys)
}

// RulesForKey returns the rules selected by an epic key.
func (h *Hierarchy) RulesForKey(key string) ([]*Rule, bool) {
	rules, ok := h.keys[key]
	return rules, ok
}

func epicKeys(h *Hierarchy) map[string][]*Rule {
	keys := make(map[string][]*Rule)
	for _, r := range h.Enumerate() {
		if r.epic == "" {
			continue
		}
		k := EpicKey(r.epic)
		keys[k] = append(keys[k], r)
	}
	for k := range keys {
		sort.SliceStable(keys[k], func(i, j int) bool { return keys[k][i].name < keys[k][j].name })
	}
	if _, ok := keys[AllKey]; !ok && len(h.roots) > 0 {
		keys[AllKey] = h.roots
	}
	return keys
}
