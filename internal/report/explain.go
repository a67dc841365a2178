package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"codetax/internal/taxonomy"
)

// PredicateInfo describes a rule's predicate
type PredicateInfo struct {
	Kind     string `json:"kind" toml:"kind"`
	Owner    string `json:"owner,omitempty" toml:"owner,omitempty"`
	Group    string `json:"group,omitempty" toml:"group,omitempty"`
	Fragment string `json:"fragment,omitempty" toml:"fragment,omitempty"`
}

// RuleInfo is the resolved view of one rule
type RuleInfo struct {
	Name      string            `json:"name" toml:"name"`
	Parent    string            `json:"parent,omitempty" toml:"parent,omitempty"`
	Ancestors []string          `json:"ancestors,omitempty" toml:"ancestors,omitempty"`
	Epic      string            `json:"epic,omitempty" toml:"epic,omitempty"`
	EpicKey   string            `json:"epicKey,omitempty" toml:"epic_key,omitempty"`
	Concrete  bool              `json:"concrete" toml:"concrete"`
	Template  string            `json:"template,omitempty" toml:"template,omitempty"`
	Pattern   string            `json:"pattern,omitempty" toml:"pattern,omitempty"`
	Paths     []string          `json:"paths" toml:"paths"`
	Globs     []string          `json:"globs" toml:"globs"`
	Prune     bool              `json:"prune" toml:"prune"`
	Predicate PredicateInfo     `json:"predicate" toml:"predicate"`
	Fragments map[string]string `json:"fragments,omitempty" toml:"fragments,omitempty"`
	Children  []string          `json:"children,omitempty" toml:"children,omitempty"`
}

// Explain resolves everything r inherits
func Explain(r *taxonomy.Rule) RuleInfo {
	scope := r.Scope()
	info := RuleInfo{
		Name:      r.Name(),
		Epic:      r.Epic(),
		Concrete:  r.Concrete(),
		Template:  r.Template(),
		Paths:     append([]string{}, scope.Paths...),
		Globs:     append([]string{}, scope.Globs...),
		Prune:     r.Prune(),
		Fragments: make(map[string]string),
	}
	if info.Epic != "" {
		info.EpicKey = taxonomy.EpicKey(info.Epic)
	}
	if p := r.Parent(); p != nil {
		info.Parent = p.Name()
		for cur := p; cur != nil; cur = cur.Parent() {
			info.Ancestors = append(info.Ancestors, cur.Name())
		}
	}
	if pat := r.Pattern(); pat != nil {
		info.Pattern = pat.String()
	}
	for _, name := range r.FragmentNames() {
		info.Fragments[name], _ = r.Fragment(name)
	}
	for _, c := range r.Children() {
		info.Children = append(info.Children, c.Name())
	}

	switch p := r.Predicate().(type) {
	case *taxonomy.TokenPredicate:
		info.Predicate = PredicateInfo{Kind: p.Kind(), Group: p.Group, Fragment: p.Fragment}
		if p.Owner != nil {
			info.Predicate.Owner = p.Owner.Name()
		}
	case nil:
		info.Predicate = PredicateInfo{Kind: taxonomy.PredicateRegex}
	default:
		info.Predicate = PredicateInfo{Kind: p.Kind()}
	}
	return info
}

// WriteExplain renders info as plain text, json or toml
func WriteExplain(w io.Writer, info RuleInfo, format string) error {
	switch format {
	case "toml":
		data, err := toml.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal TOML: %w", err)
		}
		_, err = w.Write(data)
		return err
	case string(FormatJSON):
		data, err := marshalIndent(info, "")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case string(FormatPlain), "":
		return writeExplainPlain(w, info)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeExplainPlain(w io.Writer, info RuleInfo) error {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Rule: %s\n", info.Name))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	if len(info.Ancestors) > 0 {
		b.WriteString(fmt.Sprintf("Ancestors: %s\n", strings.Join(info.Ancestors, " > ")))
	}
	if info.Epic != "" {
		b.WriteString(fmt.Sprintf("Epic: %s (key: %s)\n", info.Epic, info.EpicKey))
	}
	if info.Concrete {
		b.WriteString(fmt.Sprintf("Template: %s\n", info.Template))
		b.WriteString(fmt.Sprintf("Pattern: %s\n", info.Pattern))
	} else {
		b.WriteString("Abstract: no template\n")
	}
	b.WriteString(fmt.Sprintf("Paths: %s\n", strings.Join(info.Paths, ", ")))
	if len(info.Globs) > 0 {
		b.WriteString(fmt.Sprintf("Globs: %s\n", strings.Join(info.Globs, ", ")))
	}
	b.WriteString(fmt.Sprintf("Prune: %v\n", info.Prune))
	b.WriteString(fmt.Sprintf("Predicate: %s", info.Predicate.Kind))
	if info.Predicate.Group != "" {
		b.WriteString(fmt.Sprintf(" (owner %s, group %s, fragment %s)", info.Predicate.Owner, info.Predicate.Group, info.Predicate.Fragment))
	}
	b.WriteString("\n")

	if len(info.Fragments) > 0 {
		b.WriteString("\nFragments:\n")
		names := make([]string, 0, len(info.Fragments))
		for name := range info.Fragments {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString(fmt.Sprintf("  %s: %s\n", name, info.Fragments[name]))
		}
	}
	if len(info.Children) > 0 {
		b.WriteString(fmt.Sprintf("\nChildren: %s\n", strings.Join(info.Children, ", ")))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
