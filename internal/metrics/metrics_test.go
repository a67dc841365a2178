package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetax/internal/backends/native"
	"codetax/internal/slogutil"
	"codetax/internal/taxonomy"
	"codetax/internal/temporal"
)

func TestMetrics_ObservesEngineBatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("Hello foo\nHello bar\nGoodbye\n"), 0o644))

	reg := taxonomy.NewRegistry()
	reg.Define(taxonomy.RuleDef{Name: "Hello", Epic: "Hello", Template: `Hello {name}`, Fragments: map[string]string{"name": `\w+`}, Paths: []string{dir}})
	reg.Define(taxonomy.RuleDef{Name: "HelloFoo", Parents: []string{"Hello"}, Epic: "Hello foo", Fragments: map[string]string{"name": "foo"}})
	h, err := reg.Build(taxonomy.BuildOptions{})
	require.NoError(t, err)
	hello, ok := h.Rule("Hello")
	require.True(t, ok)

	m, err := New()
	require.NoError(t, err)

	engine := taxonomy.NewEngine(native.NewWalker(slogutil.NewDiscardLogger()), taxonomy.Options{Observer: m})
	got, err := engine.Collect(context.Background(), taxonomy.Request{Rules: []*taxonomy.Rule{hello}})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.batches.WithLabelValues("Hello")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.rawMatches.WithLabelValues("Hello")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.keptMatches.WithLabelValues("Hello")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))
}

func TestMetrics_ObservePointReplacesEpics(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObservePoint(temporal.Point{Date: time.Now(), Count: 3, Epics: map[string]int{"Banner": 2, "Text input": 1}})
	m.ObservePoint(temporal.Point{Date: time.Now(), Count: 4, Epics: map[string]int{"Banner": 4}})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.points))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.pointCount))
	assert.Equal(t, 1, testutil.CollectAndCount(m.epicMatches))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.epicMatches.WithLabelValues("Banner")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.ObservePoint(temporal.Point{Count: 7, Epics: map[string]int{"Banner": 7}})

	path := filepath.Join(t.TempDir(), "codetax.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "codetax_history_last_point_matches 7"), text)
	assert.True(t, strings.Contains(text, `codetax_history_last_point_epic_matches{epic="Banner"} 7`), text)
}
