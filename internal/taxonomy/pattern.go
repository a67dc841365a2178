package taxonomy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnresolvedPlaceholder is returned when no rule in the ancestor chain
	// defines a placeholder.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
	// ErrFragmentCycle is returned when fragments reference each other in a loop.
	ErrFragmentCycle = errors.New("fragment reference cycle")
	// ErrAbstractRule is returned when compiling a rule without a template.
	ErrAbstractRule = errors.New("rule has no pattern template")
)

// CompileError names the rule, and the placeholder when there is one, that
// could not be turned into a regular expression.
type CompileError struct {
	Rule        string
	Placeholder string
	Err         error
}

func (e *CompileError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("rule %s: %v {%s}", e.Rule, e.Err, e.Placeholder)
	}
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Pattern is a compiled rule template.
type Pattern struct {
	source string
	re     *regexp.Regexp
	prefix *regexp.Regexp
}

// Compile expands every {name} placeholder of r's template using r's
// fragments and its ancestors', wrapping each expansion in a named group.
// "{{" and "}}" produce literal braces; a "{" that does not open a
// placeholder is copied as is.
func Compile(r *Rule) (*Pattern, error) {
	if !r.Concrete() {
		return nil, &CompileError{Rule: r.name, Err: ErrAbstractRule}
	}

	x := newExpander(r)
	src, err := x.expand(r.template)
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(src)
	if err != nil {
		return nil, &CompileError{Rule: r.name, Err: err}
	}
	prefix, err := regexp.Compile(`^(?:` + src + `)`)
	if err != nil {
		return nil, &CompileError{Rule: r.name, Err: err}
	}
	return &Pattern{source: src, re: re, prefix: prefix}, nil
}

// String returns the expanded source handed to search backends.
func (p *Pattern) String() string { return p.source }

// Regexp returns the unanchored expression.
func (p *Pattern) Regexp() *regexp.Regexp { return p.re }

// MatchPrefix matches the pattern at the start of s and returns its named
// groups. Groups that did not participate map to nil.
func (p *Pattern) MatchPrefix(s string) (map[string]any, bool) {
	return groups(p.prefix, s)
}

// Find searches s anywhere and returns the named groups of the first match.
func (p *Pattern) Find(s string) (map[string]any, bool) {
	return groups(p.re, s)
}

func groups(re *regexp.Regexp, s string) (map[string]any, bool) {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return nil, false
	}
	out := make(map[string]any)
	for i, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		if loc[2*i] < 0 {
			out[name] = nil
			continue
		}
		out[name] = s[loc[2*i]:loc[2*i+1]]
	}
	return out, true
}

// compileFragment expands one fragment in r's scope, anchored at the start.
func compileFragment(r *Rule, name string) (*regexp.Regexp, error) {
	x := newExpander(r)
	src, err := x.fragment(name)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(`^(?:` + src + `)`)
	if err != nil {
		return nil, &CompileError{Rule: r.name, Placeholder: name, Err: err}
	}
	return re, nil
}

type expander struct {
	rule  *Rule
	named map[string]bool
	stack []string
}

func newExpander(r *Rule) *expander {
	return &expander{rule: r, named: make(map[string]bool)}
}

func (x *expander) expand(text string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			name, n := placeholderAt(text[i:])
			if n == 0 {
				b.WriteByte(c)
				i++
				continue
			}
			sub, err := x.fragment(name)
			if err != nil {
				return "", err
			}
			b.WriteString(sub)
			i += n
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// fragment expands a fragment recursively. Only the first occurrence of a name
// becomes a named group; ripgrep rejects duplicate group names.
func (x *expander) fragment(name string) (string, error) {
	for _, open := range x.stack {
		if open == name {
			return "", &CompileError{
				Rule:        x.rule.name,
				Placeholder: name,
				Err:         fmt.Errorf("%w: %s", ErrFragmentCycle, strings.Join(append(x.stack, name), " -> ")),
			}
		}
	}

	value, ok := x.rule.Fragment(name)
	if !ok {
		return "", &CompileError{Rule: x.rule.name, Placeholder: name, Err: ErrUnresolvedPlaceholder}
	}

	x.stack = append(x.stack, name)
	inner, err := x.expand(value)
	x.stack = x.stack[:len(x.stack)-1]
	if err != nil {
		return "", err
	}

	if x.named[name] {
		return "(?:" + inner + ")", nil
	}
	x.named[name] = true
	return "(?P<" + name + ">" + inner + ")", nil
}

// placeholderAt returns the identifier of a "{ident}" at the start of s and
// the number of bytes it spans, or 0 when s does not start with one.
func placeholderAt(s string) (string, int) {
	if len(s) < 3 || s[0] != '{' {
		return "", 0
	}
	i := 1
	for ; i < len(s); i++ {
		c := s[i]
		letter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		digit := c >= '0' && c <= '9'
		if letter || (digit && i > 1) {
			continue
		}
		break
	}
	if i == 1 || i >= len(s) || s[i] != '}' {
		return "", 0
	}
	return s[1:i], i + 1
}
