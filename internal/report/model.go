// Package report writes Allure-compatible result files: one JSON document
// per scenario plus one file per attachment, all in a flat results
// directory consumed by report-rendering tooling.
package report

// Status is the terminal state of a scenario or step.
type Status string

const (
	Passed  Status = "passed"
	Failed  Status = "failed"
	Broken  Status = "broken"
	Skipped Status = "skipped"
)

// Media types used for attachments.
const (
	MediaJSON = "application/json"
	MediaPNG  = "image/png"
	MediaText = "text/plain"
	MediaZip  = "application/zip"
)

// Label is a filterable key/value pair on a result.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Link points from a result to an external resource.
type Link struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// Attachment references a file written next to the result.
type Attachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// StatusDetails explains a non-passing status.
type StatusDetails struct {
	Message string `json:"message,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// StepResult is one node of the step tree.
type StepResult struct {
	Name          string         `json:"name"`
	Status        Status         `json:"status"`
	StatusDetails *StatusDetails `json:"statusDetails,omitempty"`
	Stage         string         `json:"stage"`
	Start         int64          `json:"start"`
	Stop          int64          `json:"stop"`
	Steps         []StepResult   `json:"steps,omitempty"`
	Attachments   []Attachment   `json:"attachments,omitempty"`
}

// TestResult is the document stored as <uuid>-result.json.
type TestResult struct {
	UUID          string         `json:"uuid"`
	HistoryID     string         `json:"historyId"`
	Name          string         `json:"name"`
	FullName      string         `json:"fullName"`
	Status        Status         `json:"status"`
	StatusDetails *StatusDetails `json:"statusDetails,omitempty"`
	Stage         string         `json:"stage"`
	Start         int64          `json:"start"`
	Stop          int64          `json:"stop"`
	Labels        []Label        `json:"labels"`
	Links         []Link         `json:"links"`
	Steps         []StepResult   `json:"steps"`
	Attachments   []Attachment   `json:"attachments"`
}

// Reporter is the write-only surface steps and collectors use to enrich
// the active report. Implementations never fail the caller: write errors are
// logged and dropped.
type Reporter interface {
	// Step groups everything reported inside fn under a named child step.
	Step(name string, fn func())
	Attach(name, mediaType string, body []byte)
	Label(name, value string)
}

// Discard is a Reporter that drops everything.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Step(_ string, fn func()) {
	if fn != nil {
		fn()
	}
}
func (discard) Attach(string, string, []byte) {}
func (discard) Label(string, string)          {}
