package reportcheck

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const cucumberJSON = `[
  {"name": "API", "elements": [
    {"type": "background", "steps": [{"result": {"status": "passed"}}]},
    {"type": "scenario", "name": "ok", "steps": [
      {"result": {"status": "passed"}}, {"result": {"status": "passed"}}]},
    {"type": "scenario", "name": "bad", "steps": [
      {"result": {"status": "failed"}}, {"result": {"status": "skipped"}}]}
  ]}
]`

// TestHelperProcess is not a real test. It stands in for the runner when
// GO_WANT_HELPER_PROCESS is set.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	switch os.Getenv("HELPER_MODE") {
	case "fail":
		fmt.Fprintln(os.Stderr, "1 scenario failed")
		os.Exit(3)
	default:
		// args: <feature> --format json:<file>
		if len(args) != 3 || args[1] != "--format" || !strings.HasPrefix(args[2], "json:") {
			fmt.Fprintf(os.Stderr, "unexpected args %q\n", args)
			os.Exit(2)
		}
		if err := os.WriteFile(strings.TrimPrefix(args[2], "json:"), []byte(cucumberJSON), 0o644); err != nil {
			os.Exit(4)
		}
		fmt.Println("2 scenarios (1 passed, 1 failed)")
		os.Exit(0)
	}
}

func helperOptions(t *testing.T, mode string) Options {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("HELPER_MODE", mode)
	dir := t.TempDir()
	return Options{
		Runner:        []string{os.Args[0], "-test.run=^TestHelperProcess$", "--"},
		FeaturePath:   "features/api.feature",
		ResultsFile:   filepath.Join(dir, "results.json"),
		ResultsDir:    filepath.Join(dir, "allure-results"),
		HTMLReportDir: filepath.Join(dir, "allure-report"),
		Out:           &bytes.Buffer{},
	}
}

func TestCheck_Success(t *testing.T) {
	opts := helperOptions(t, "ok")
	require.NoError(t, os.MkdirAll(opts.ResultsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(opts.ResultsDir, "a-result.json"),
		[]byte(`{"attachments":[{"name":"Login - Response Body"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(opts.ResultsDir, "b-attachment.json"), []byte(`{}`), 0o644))

	sum, err := Check(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, sum.ResultsDirFound)
	require.Equal(t, 2, sum.JSONFiles)
	require.True(t, sum.HasResponseBodies)
	require.False(t, sum.HTMLReportFound)
	require.Equal(t, 2, sum.Scenarios)
	require.Equal(t, 1, sum.Passed)
	require.Equal(t, 1, sum.Failed)

	out := opts.Out.(*bytes.Buffer).String()
	require.Contains(t, out, "2 scenarios (1 passed, 1 failed)", "runner output is streamed")
	require.Contains(t, out, "response body attachments found")
	require.Contains(t, out, "Scenarios: 2 total, 1 passed, 1 failed")
}

func TestCheck_RunnerFailure(t *testing.T) {
	opts := helperOptions(t, "fail")
	_, err := Check(context.Background(), opts)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exited with code 3")
	require.Contains(t, err.Error(), "1 scenario failed")
}

func TestRunFeature_NoRunner(t *testing.T) {
	_, err := RunFeature(context.Background(), Options{Out: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestInspect_MissingDirs(t *testing.T) {
	dir := t.TempDir()
	sum := Inspect(Options{ResultsDir: filepath.Join(dir, "nope"), HTMLReportDir: filepath.Join(dir, "nope2")})
	require.False(t, sum.ResultsDirFound)
	require.False(t, sum.HTMLReportFound)
	require.Zero(t, sum.JSONFiles)
}

func TestCucumberTotals(t *testing.T) {
	total, passed, failed := CucumberTotals([]byte(cucumberJSON))
	require.Equal(t, 2, total)
	require.Equal(t, 1, passed)
	require.Equal(t, 1, failed)

	total, _, _ = CucumberTotals([]byte(`not json`))
	require.Zero(t, total)
}

func TestLogCapture_SplitsLines(t *testing.T) {
	var l LogCapture
	_, _ = l.Write([]byte("one\ntwo\n"))
	_, _ = l.Write([]byte("\nthree"))
	require.Equal(t, []string{"one", "two", "three"}, l.Lines())
}
