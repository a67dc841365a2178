package taxonomy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Substitution(t *testing.T) {
	h := mustBuild(t,
		RuleDef{Name: "Root", Epic: "Root", Template: `{root}/\w.html`, Fragments: map[string]string{"root": "."}},
		RuleDef{Name: "Subdir", Parents: []string{"Root"}, Epic: "Subdir", Fragments: map[string]string{"root": "path/to/subdir"}},
	)

	tests := []struct {
		rule string
		want string
	}{
		{"Root", `(?P<root>.)/\w.html`},
		{"Subdir", `(?P<root>path/to/subdir)/\w.html`},
	}
	for _, tt := range tests {
		r := rule(t, h, tt.rule)
		if got := r.Pattern().String(); got != tt.want {
			t.Errorf("%s pattern = %q, want %q", tt.rule, got, tt.want)
		}
	}
}

func TestCompile_NestedFragmentsUseCompiledRuleScope(t *testing.T) {
	h := mustBuild(t,
		RuleDef{
			Name:     "Styles",
			Epic:     "All styles",
			Template: `class="{classes}"`,
			Fragments: map[string]string{
				"classes":   `(?:{classname}[ ]?)+`,
				"classname": `[\w_-]+`,
			},
		},
		RuleDef{Name: "GOVUK", Parents: []string{"Styles"}, Epic: "GOV.UK", Fragments: map[string]string{"classname": `govuk-[\w_-]+`}},
	)

	assert.Equal(t, `class="(?P<classes>(?:(?P<classname>[\w_-]+)[ ]?)+)"`, rule(t, h, "Styles").Pattern().String())
	assert.Equal(t, `class="(?P<classes>(?:(?P<classname>govuk-[\w_-]+)[ ]?)+)"`, rule(t, h, "GOVUK").Pattern().String())
}

func TestCompile_RepeatedPlaceholderNamedOnce(t *testing.T) {
	h := mustBuild(t, RuleDef{
		Name:      "Pair",
		Epic:      "Pair",
		Template:  `{a}-{a}`,
		Fragments: map[string]string{"a": `x{b}`, "b": `y`},
	})

	p := rule(t, h, "Pair").Pattern()
	assert.Equal(t, `(?P<a>x(?P<b>y))-(?:x(?:y))`, p.String())

	groups, ok := p.MatchPrefix("xy-xy")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": "xy", "b": "y"}, groups)
}

func TestCompile_Braces(t *testing.T) {
	h := mustBuild(t,
		RuleDef{
			Name:      "Include",
			Epic:      "Include",
			Template:  `\{{% include ['"]toolkit/{template}['"] %\}}`,
			Fragments: map[string]string{"template": `[^'"]+`},
		},
		RuleDef{Name: "Quantifier", Epic: "Quantifier", Template: `\w{2,3}-{x}`, Fragments: map[string]string{"x": `[0-9]{4}`}},
		RuleDef{Name: "Literal", Epic: "Literal", Template: `{{name}}`},
	)

	assert.Equal(t, `\{% include ['"]toolkit/(?P<template>[^'"]+)['"] %\}`, rule(t, h, "Include").Pattern().String())
	assert.Equal(t, `\w{2,3}-(?P<x>[0-9]{4})`, rule(t, h, "Quantifier").Pattern().String())
	assert.Equal(t, `{name}`, rule(t, h, "Literal").Pattern().String())

	_, ok := rule(t, h, "Include").Pattern().MatchPrefix(`{% include "toolkit/contact-details.html" %}`)
	assert.True(t, ok)
}

func TestCompile_Idempotent(t *testing.T) {
	h := mustBuild(t, RuleDef{
		Name:      "Class",
		Epic:      "Class declaration",
		Template:  `class {classname}(?:\({class_parents}\))?:`,
		Fragments: map[string]string{"classname": `[a-zA-Z_]\w*`, "class_parents": `[^)]*`},
	})
	r := rule(t, h, "Class")

	first, err := Compile(r)
	require.NoError(t, err)
	second, err := Compile(r)
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
	assert.Equal(t, r.Pattern().String(), first.String())
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name        string
		def         RuleDef
		sentinel    error
		placeholder string
	}{
		{
			name:        "unresolved placeholder",
			def:         RuleDef{Name: "R", Epic: "R", Template: `a{missing}`},
			sentinel:    ErrUnresolvedPlaceholder,
			placeholder: "missing",
		},
		{
			name:        "fragment cycle",
			def:         RuleDef{Name: "R", Epic: "R", Template: `{a}`, Fragments: map[string]string{"a": "{b}", "b": "{a}"}},
			sentinel:    ErrFragmentCycle,
			placeholder: "a",
		},
		{
			name: "invalid regexp",
			def:  RuleDef{Name: "R", Epic: "R", Template: `({a}`, Fragments: map[string]string{"a": "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Rule{name: tt.def.Name, template: tt.def.Template, fragments: tt.def.Fragments}
			_, err := Compile(r)
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "expected CompileError, got %T", err)
			assert.Equal(t, "R", ce.Rule)
			assert.Equal(t, tt.placeholder, ce.Placeholder)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestCompile_AbstractRule(t *testing.T) {
	_, err := Compile(&Rule{name: "Abstract"})
	assert.ErrorIs(t, err, ErrAbstractRule)
}

func TestPlaceholderAt(t *testing.T) {
	tests := []struct {
		in   string
		name string
		n    int
	}{
		{"{name}rest", "name", 6},
		{"{_x1}", "_x1", 5},
		{"{1x}", "", 0},
		{"{2,3}", "", 0},
		{"{}", "", 0},
		{"{open", "", 0},
		{"{a b}", "", 0},
	}
	for _, tt := range tests {
		name, n := placeholderAt(tt.in)
		if name != tt.name || n != tt.n {
			t.Errorf("placeholderAt(%q) = (%q, %d), want (%q, %d)", tt.in, name, n, tt.name, tt.n)
		}
	}
}

func TestFragmentRegexp(t *testing.T) {
	h := mustBuild(t,
		RuleDef{Name: "P", Epic: "P", Template: `{x}`, Fragments: map[string]string{"x": `js-.*`}},
	)
	re, err := rule(t, h, "P").FragmentRegexp("x")
	require.NoError(t, err)
	assert.True(t, re.MatchString("js-toggle"))
	assert.False(t, re.MatchString("no-js-toggle"))
}
