package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetax/internal/backends"
	"codetax/internal/taxonomy"
	"codetax/internal/temporal"
	"codetax/internal/testutil"
)

func sampleMatches() []taxonomy.ClassifiedMatch {
	return []taxonomy.ClassifiedMatch{
		{
			Match: backends.Match{Path: "frontend/page.html", LineNumber: 3, Line: "  <div class=\"govuk-body\">\n", Text: "govuk-body"},
			Epics: []string{"All styles"},
			Link:  "https://github.com/alphagov/frontend/blob/abc1234/page.html#L3",
		},
		{
			Match:  backends.Match{Path: "frontend/page.html", LineNumber: 5, Line: "<p>a, b</p>\n", Text: "<p>"},
			Epics:  []string{"Banner", "JavaScript"},
			Groups: map[string]any{"tag": "p"},
		},
	}
}

func render(t *testing.T, format OutputFormat, matches []taxonomy.ClassifiedMatch) []byte {
	t.Helper()
	var buf bytes.Buffer
	mw, err := NewMatchWriter(&buf, format)
	require.NoError(t, err)
	for _, m := range matches {
		require.NoError(t, mw.Write(m))
	}
	require.NoError(t, mw.Close())
	return buf.Bytes()
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"plain", "CSV", "json"} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestMatchWriter_Golden(t *testing.T) {
	testutil.CompareGolden(t, "matches_plain", render(t, FormatPlain, sampleMatches()))
	testutil.CompareGolden(t, "matches_csv", render(t, FormatCSV, sampleMatches()))
}

func TestMatchWriter_HeaderOnlyWhenEmpty(t *testing.T) {
	assert.Equal(t, "file,line,code,epic\n", string(render(t, FormatPlain, nil)))
	assert.Equal(t, "file,line,code,link,epic\n", string(render(t, FormatCSV, nil)))
	assert.Equal(t, "[]\n", string(render(t, FormatJSON, nil)))
}

func TestMatchWriter_JSON(t *testing.T) {
	out := render(t, FormatJSON, sampleMatches())

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded, 2)

	first := decoded[0]
	assert.Equal(t, "frontend/page.html", first["path"])
	assert.Equal(t, float64(3), first["line_number"])
	assert.Equal(t, []any{"All styles"}, first["epics"])
	assert.Equal(t, "https://github.com/alphagov/frontend/blob/abc1234/page.html#L3", first["link"])
	assert.NotContains(t, first, "groups")

	second := decoded[1]
	assert.NotContains(t, second, "link")
	assert.Equal(t, map[string]any{"tag": "p"}, second["groups"])
	assert.True(t, strings.HasPrefix(string(out), "[\n  {\n    \"path\""), "indented array:\n%s", out)
}

func TestHyperlink(t *testing.T) {
	assert.Equal(t, "", Hyperlink(""))
	assert.Equal(t, `=HYPERLINK("https://x/y#L1", "link")`, Hyperlink("https://x/y#L1"))
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, taxonomy.EpicCounts(sampleMatches())))
	assert.Equal(t, "epic,count\nAll styles,1\nBanner,1\nJavaScript,1\n", buf.String())
}

func TestHistoryWriter(t *testing.T) {
	var buf bytes.Buffer
	hw := NewHistoryWriter(&buf)
	day := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, hw.WritePoint(temporal.Point{Date: day, Count: 3}))
	assert.Equal(t, "date,count\n2021-01-04,3\n", buf.String(), "each point is flushed as it arrives")
	require.NoError(t, hw.WritePoint(temporal.Point{Date: day.AddDate(0, 0, 7), Count: 0}))
	assert.Equal(t, "date,count\n2021-01-04,3\n2021-01-11,0\n", buf.String())
}

func explainRule(t *testing.T) *taxonomy.Rule {
	t.Helper()
	reg := taxonomy.NewRegistry()
	reg.Define(taxonomy.RuleDef{Name: "Hello", Epic: "Hello", Template: "Hello {name}", Fragments: map[string]string{"name": ".*"}, Globs: []string{"*.txt"}})
	reg.Define(taxonomy.RuleDef{Name: "HelloFoo", Parents: []string{"Hello"}, Epic: "Hello foo", Fragments: map[string]string{"name": "foo"}})
	h, err := reg.Build(taxonomy.BuildOptions{})
	require.NoError(t, err)
	r, ok := h.Rule("HelloFoo")
	require.True(t, ok)
	return r
}

func TestExplain(t *testing.T) {
	info := Explain(explainRule(t))

	want := RuleInfo{
		Name:      "HelloFoo",
		Parent:    "Hello",
		Ancestors: []string{"Hello"},
		Epic:      "Hello foo",
		EpicKey:   "hello-foo",
		Concrete:  true,
		Template:  "Hello {name}",
		Pattern:   "Hello (?P<name>foo)",
		Paths:     []string{"."},
		Globs:     []string{"*.txt"},
		Predicate: PredicateInfo{Kind: taxonomy.PredicateRegex},
		Fragments: map[string]string{"name": "foo"},
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("Explain mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteExplain(t *testing.T) {
	info := Explain(explainRule(t))

	var plain bytes.Buffer
	require.NoError(t, WriteExplain(&plain, info, "plain"))
	assert.Contains(t, plain.String(), "Rule: HelloFoo\n")
	assert.Contains(t, plain.String(), "Pattern: Hello (?P<name>foo)\n")
	assert.Contains(t, plain.String(), "Epic: Hello foo (key: hello-foo)\n")

	var js bytes.Buffer
	require.NoError(t, WriteExplain(&js, info, "json"))
	var fromJSON RuleInfo
	require.NoError(t, json.Unmarshal(js.Bytes(), &fromJSON))
	assert.Equal(t, info, fromJSON)

	var tm bytes.Buffer
	require.NoError(t, WriteExplain(&tm, info, "toml"))
	var fromTOML RuleInfo
	require.NoError(t, toml.Unmarshal(tm.Bytes(), &fromTOML))
	assert.Equal(t, info, fromTOML)

	assert.Error(t, WriteExplain(&tm, info, "xml"))
}
