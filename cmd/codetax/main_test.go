package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetax/internal/config"
	cterrors "codetax/internal/errors"
	"codetax/internal/history"
	"codetax/internal/slogutil"
	"codetax/internal/temporal"
	"codetax/internal/testutil"
	"codetax/internal/version"
)

const helloTaxonomy = `name: hello
rules:
  - name: Hello
    epic: Hello
    pattern: "Hello {name}"
    fragments:
      name: ".*"
    paths: [src]
  - name: HelloFoo
    parent: Hello
    epic: Hello foo
    fragments:
      name: foo
`

// workspace creates a directory with the hello taxonomy and chdirs into it
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	for name, content := range map[string]string{
		"src/test1.txt": "Hello foo\n",
		"src/test2.txt": "Hello bar\n",
		"src/test3.txt": "Goodbye foobar\n",
		"taxonomy.yaml": helloTaxonomy,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	testutil.Chdir(t, dir)
	t.Setenv("CODETAX_SEARCH_BACKEND", "native")
	return dir
}

func resetFlags() {
	verbosity, quietFlag = 0, true
	configFlag, logFileFlag, taxonomyFlag = "", "", ""
	searchFormat, searchSummary, searchPaths = "plain", false, nil
	historyFrom, historyTo, historySave, historyPaths = "", "", false, nil
	runsLimit, runsKey, runsFormat, runsForce = 20, "", "csv", false
	configForce = false
	explainFormat = "plain"
	watchPaths = nil
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--quiet"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSearch_Plain(t *testing.T) {
	workspace(t)

	out, err := execute(t, "search", "all")
	require.NoError(t, err)
	assert.Equal(t, "file,line,code,epic\nsrc/test1.txt,1,Hello foo,Hello foo\nsrc/test2.txt,1,Hello bar,Hello\n", out)
}

func TestSearch_Summary(t *testing.T) {
	workspace(t)

	out, err := execute(t, "search", "hello", "--summary")
	require.NoError(t, err)
	assert.Equal(t, "epic,count\nHello,1\nHello foo,1\n", out)
}

func TestSearch_PathOverride(t *testing.T) {
	dir := workspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "other"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other", "x.txt"), []byte("Hello foo\n"), 0o644))

	out, err := execute(t, "search", "all", "--path", "other")
	require.NoError(t, err)
	assert.Equal(t, "file,line,code,epic\nother/x.txt,1,Hello foo,Hello foo\n", out)
}

func TestSearch_UnknownKey(t *testing.T) {
	workspace(t)

	_, err := execute(t, "search", "nope")
	require.Error(t, err)
	assert.True(t, cterrors.HasCode(err, cterrors.ConfigurationError))

	var buf bytes.Buffer
	printError(&buf, err)
	assert.Contains(t, buf.String(), `unknown epic key "nope"`)
	assert.Contains(t, buf.String(), "available keys: all, hello, hello-foo")
	assert.Contains(t, buf.String(), "codetax epics")
}

func TestSearch_BadFormat(t *testing.T) {
	workspace(t)

	_, err := execute(t, "search", "all", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format: xml")
}

func TestEpics(t *testing.T) {
	workspace(t)

	out, err := execute(t, "epics")
	require.NoError(t, err)
	assert.Equal(t, "all: Hello\nhello: Hello\nhello-foo: HelloFoo\n", out)
}

func TestExplain(t *testing.T) {
	workspace(t)

	out, err := execute(t, "explain", "HelloFoo")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello (?P<name>foo)")

	_, err = execute(t, "explain", "Missing")
	assert.True(t, cterrors.HasCode(err, cterrors.ConfigurationError))
}

func TestHistory_InvalidDate(t *testing.T) {
	workspace(t)

	_, err := execute(t, "history", "all", "--from-date", "January")
	require.Error(t, err)
	assert.True(t, cterrors.HasCode(err, cterrors.ConfigurationError))
}

func TestHistory_NotAGitRepository(t *testing.T) {
	workspace(t)

	out, err := execute(t, "history", "all", "--from-date", "2021-01-04", "--to-date", "2021-01-11")
	require.Error(t, err)
	assert.True(t, cterrors.HasCode(err, cterrors.RevisionResolutionFailure), err.Error())
	assert.Empty(t, out)
}

func TestRuns_Empty(t *testing.T) {
	dir := workspace(t)

	out, err := execute(t, "runs")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ID"), out)
	assert.FileExists(t, filepath.Join(dir, ".codetax", "history.db"))

	_, err = execute(t, "runs", "show", "missing")
	assert.Error(t, err)
}

func TestHistory_SavesDefaultToDate(t *testing.T) {
	dir := workspace(t)
	repo := testutil.NewGitRepo(t, filepath.Join(dir, "src"))
	repo.Commit(time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC), "initial", nil)
	repo.MergeCommit(time.Date(2020, 6, 2, 12, 0, 0, 0, time.UTC), "merge", map[string]string{"test4.txt": "Hello foo\n"})

	today := time.Now().Format(dateLayout)
	out, err := execute(t, "history", "all", "--from-date", today, "--save")
	require.NoError(t, err)
	assert.Equal(t, "date,count\n"+today+",3\n", out)
	assert.Equal(t, "main", repo.Branch())

	store, err := history.OpenStore(filepath.Join(dir, ".codetax", "history.db"), slogutil.NewDiscardLogger())
	require.NoError(t, err)
	runs, err := store.ListRuns("", 0)
	require.NoError(t, store.Close())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, today, runs[0].To.Format(dateLayout))
	assert.Equal(t, history.RunCompleted, runs[0].Status)

	out, err = execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, today)
	assert.NotContains(t, out, "0001-01-01")
}

func TestRuns_Delete(t *testing.T) {
	dir := workspace(t)
	store, err := history.OpenStore(filepath.Join(dir, ".codetax", "history.db"), slogutil.NewDiscardLogger())
	require.NoError(t, err)
	dr := temporal.DateRange{From: time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), To: time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)}
	running := history.NewRun("all", "", dr)
	done := history.NewRun("all", "", dr)
	done.Status = history.RunCompleted
	require.NoError(t, store.CreateRun(running))
	require.NoError(t, store.CreateRun(done))
	require.NoError(t, store.Close())

	out, err := execute(t, "runs", "delete", done.ID)
	require.NoError(t, err)
	assert.Equal(t, "deleted "+done.ID+"\n", out)

	_, err = execute(t, "runs", "delete", running.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still running")

	_, err = execute(t, "runs", "delete", running.ID, "--force")
	require.NoError(t, err)

	_, err = execute(t, "runs", "delete", done.ID)
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	dir := workspace(t)

	out, err := execute(t, "config", "init", "--taxonomy", "rules.toml")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, filepath.Join(".codetax", "config.json")+"\n"), out)

	loaded, err := config.LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "rules.toml", loaded.Taxonomy.File)

	_, err = execute(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", "--force")
	assert.NoError(t, err)
}

func TestVersion(t *testing.T) {
	workspace(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "codetax version "+version.Version+"\n"), out)
	assert.Contains(t, out, "Commit: ")
}

func TestPrintError_Plain(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, assert.AnError)
	assert.Equal(t, "Error: "+assert.AnError.Error()+"\n", buf.String())
}
