package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readResults(t *testing.T, dir string) []TestResult {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*-result.json"))
	require.NoError(t, err)
	var out []TestResult
	for _, m := range matches {
		data, err := os.ReadFile(m)
		require.NoError(t, err)
		var res TestResult
		require.NoError(t, json.Unmarshal(data, &res))
		out = append(out, res)
	}
	return out
}

func TestScenarioReport_WritesNestedStepsAndAttachments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rt, err := NewRuntime(dir)
	require.NoError(t, err)

	f := NewFormatter(Options{
		Labels: []Label{{Name: "owner", Value: "qa"}},
		Links:  []Link{{Name: "app", URL: "https://flutter-angular.web.app/", Type: "link"}},
	}, rt)
	sr := f.StartScenario(ScenarioInfo{ID: "sc-1", Name: "Create a note", Feature: "features/api.feature", Tags: []string{"@api"}})

	sr.StartStep("I create a new note")
	sr.Step("Create note - API Response", func() {
		sr.Attach("Create note - Response Body", MediaJSON, []byte(`{"ok":true}`))
	})
	sr.Label("api-status", "200")
	sr.EndStep(Passed, nil)
	sr.Attach("Network Requests/Responses", MediaJSON, []byte(`{"requests":[]}`))
	require.NoError(t, sr.Finish(Passed, nil))

	results := readResults(t, dir)
	require.Len(t, results, 1)
	res := results[0]
	require.Equal(t, Passed, res.Status)
	require.Equal(t, "finished", res.Stage)
	require.Equal(t, "features/api.feature#Create a note", res.FullName)
	require.NotEmpty(t, res.HistoryID)
	require.Contains(t, res.Labels, Label{Name: "owner", Value: "qa"})
	require.Contains(t, res.Labels, Label{Name: "tag", Value: "@api"})
	require.Contains(t, res.Labels, Label{Name: "api-status", Value: "200"})
	require.Len(t, res.Links, 1)

	require.Len(t, res.Steps, 1)
	require.Equal(t, "I create a new note", res.Steps[0].Name)
	require.Len(t, res.Steps[0].Steps, 1)
	inner := res.Steps[0].Steps[0]
	require.Len(t, inner.Attachments, 1)
	require.FileExists(t, filepath.Join(dir, inner.Attachments[0].Source))
	require.True(t, strings.HasSuffix(inner.Attachments[0].Source, "-attachment.json"))

	require.Len(t, res.Attachments, 1)
	require.Equal(t, "Network Requests/Responses", res.Attachments[0].Name)
}

func TestScenarioReport_FailureUsesExceptionFormatter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rt, err := NewRuntime(dir)
	require.NoError(t, err)

	f := NewFormatter(Options{ExceptionFormatter: func(m string) string { return "formatted: " + m }}, rt)
	sr := f.StartScenario(ScenarioInfo{Name: "Counter", Feature: "features/counter.feature"})
	sr.StartStep("The counter should display \"99\"")
	require.NoError(t, sr.Finish(Failed, errors.New("expected 99")))
	require.NoError(t, sr.Finish(Passed, nil), "second Finish must be a no-op")

	results := readResults(t, dir)
	require.Len(t, results, 1)
	require.Equal(t, Failed, results[0].Status)
	require.Equal(t, "formatted: expected 99", results[0].StatusDetails.Message)
	require.Equal(t, Failed, results[0].Steps[0].Status, "open steps close with the scenario status")
}

func TestRuntime_WriteEnvironment(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rt, err := NewRuntime(dir)
	require.NoError(t, err)
	require.NoError(t, rt.WriteEnvironment(map[string]string{"browser": "chromium", "app": "http://x"}))

	data, err := os.ReadFile(filepath.Join(dir, "environment.properties"))
	require.NoError(t, err)
	require.Equal(t, "app=http://x\nbrowser=chromium\n", string(data))
}

func TestMemory_GroupsAttachmentsUnderSteps(t *testing.T) {
	t.Parallel()
	var m Memory
	m.Step("outer", func() {
		m.Step("inner", func() {
			m.Attach("a", MediaText, []byte("x"))
		})
	})
	m.Label("api-method", "GET")

	atts := m.Attachments()
	require.Len(t, atts, 1)
	require.Equal(t, "outer > inner", atts[0].Step)
	require.Equal(t, []string{"outer", "outer > inner"}, m.Steps())
	v, ok := m.LabelValue("api-method")
	require.True(t, ok)
	require.Equal(t, "GET", v)
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"image/png":                       ".png",
		"application/json; charset=utf-8": ".json",
		"text/plain":                      ".txt",
		"application/octet-stream":        ".bin",
	}
	for in, want := range cases {
		require.Equal(t, want, extensionFor(in), in)
	}
}
