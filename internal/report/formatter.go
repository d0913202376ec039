package report

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/flutter-notes-e2e/internal/obs"
)

// Options configures a Formatter.
type Options struct {
	// Labels are added to every result.
	Labels []Label
	// Links are added to every result.
	Links []Link
	// ExceptionFormatter rewrites failure messages before they are stored.
	ExceptionFormatter func(string) string
}

// Formatter turns scenario lifecycles into result files.
type Formatter struct {
	opts Options
	rt   *Runtime
	now  func() time.Time
}

// NewFormatter returns a Formatter writing through rt. A nil
// ExceptionFormatter keeps messages as they are.
func NewFormatter(opts Options, rt *Runtime) *Formatter {
	if opts.ExceptionFormatter == nil {
		opts.ExceptionFormatter = func(m string) string { return m }
	}
	return &Formatter{opts: opts, rt: rt, now: time.Now}
}

// ScenarioInfo identifies the scenario a report belongs to.
type ScenarioInfo struct {
	ID      string
	Name    string
	Feature string
	Tags    []string
}

// StartScenario opens a report for one scenario.
func (f *Formatter) StartScenario(info ScenarioInfo) *ScenarioReport {
	fullName := info.Feature + "#" + info.Name
	labels := []Label{
		{Name: "framework", Value: "godog"},
		{Name: "language", Value: "go"},
		{Name: "feature", Value: info.Feature},
		{Name: "suite", Value: info.Feature},
	}
	for _, tag := range info.Tags {
		labels = append(labels, Label{Name: "tag", Value: tag})
	}
	labels = append(labels, f.opts.Labels...)

	links := make([]Link, len(f.opts.Links))
	copy(links, f.opts.Links)

	return &ScenarioReport{
		f: f,
		result: TestResult{
			UUID:        uuid.NewString(),
			HistoryID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte(fullName)).String(),
			Name:        info.Name,
			FullName:    fullName,
			Stage:       "running",
			Start:       millis(f.now()),
			Labels:      labels,
			Links:       links,
			Steps:       []StepResult{},
			Attachments: []Attachment{},
		},
	}
}

type stepNode struct {
	result   StepResult
	children []*stepNode
}

func (n *stepNode) build() StepResult {
	out := n.result
	for _, c := range n.children {
		out.Steps = append(out.Steps, c.build())
	}
	return out
}

// ScenarioReport accumulates steps, attachments, and labels for one
// scenario. It is safe for concurrent use.
type ScenarioReport struct {
	f        *Formatter
	mu       sync.Mutex
	result   TestResult
	roots    []*stepNode
	stack    []*stepNode
	finished bool
}

// StartStep opens a step nested under the current one.
func (s *ScenarioReport) StartStep(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := &stepNode{result: StepResult{
		Name:   name,
		Status: Passed,
		Stage:  "running",
		Start:  millis(s.f.now()),
	}}
	if len(s.stack) == 0 {
		s.roots = append(s.roots, node)
	} else {
		top := s.stack[len(s.stack)-1]
		top.children = append(top.children, node)
	}
	s.stack = append(s.stack, node)
}

// EndStep closes the current step with status.
func (s *ScenarioReport) EndStep(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endStepLocked(status, err)
}

func (s *ScenarioReport) endStepLocked(status Status, err error) {
	if len(s.stack) == 0 {
		return
	}
	node := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	node.result.Status = status
	node.result.Stage = "finished"
	node.result.Stop = millis(s.f.now())
	if err != nil {
		node.result.StatusDetails = &StatusDetails{Message: s.f.opts.ExceptionFormatter(err.Error())}
	}
}

// Step implements Reporter.
func (s *ScenarioReport) Step(name string, fn func()) {
	s.StartStep(name)
	defer s.EndStep(Passed, nil)
	if fn != nil {
		fn()
	}
}

// Attach implements Reporter. The attachment lands on the innermost open
// step, or on the scenario when no step is open.
func (s *ScenarioReport) Attach(name, mediaType string, body []byte) {
	source, err := s.f.rt.WriteAttachment(body, mediaType)
	if err != nil {
		obs.Pkg("report").Warn("attachment_dropped", "name", name, "error", err)
		return
	}
	att := Attachment{Name: name, Source: source, Type: mediaType}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		s.result.Attachments = append(s.result.Attachments, att)
		return
	}
	top := s.stack[len(s.stack)-1]
	top.result.Attachments = append(top.result.Attachments, att)
}

// Label implements Reporter.
func (s *ScenarioReport) Label(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Labels = append(s.result.Labels, Label{Name: name, Value: value})
}

// Finish closes any open steps, sets the terminal status, and writes the
// result file. Calls after the first are no-ops.
func (s *ScenarioReport) Finish(status Status, err error) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	for len(s.stack) > 0 {
		s.endStepLocked(status, nil)
	}
	s.result.Status = status
	s.result.Stage = "finished"
	s.result.Stop = millis(s.f.now())
	if err != nil {
		s.result.StatusDetails = &StatusDetails{Message: s.f.opts.ExceptionFormatter(err.Error())}
	}
	for _, n := range s.roots {
		s.result.Steps = append(s.result.Steps, n.build())
	}
	res := s.result
	s.mu.Unlock()

	return s.f.rt.WriteResult(&res)
}

// Result returns a snapshot of the scenario-level fields. Steps are
// assembled by Finish.
func (s *ScenarioReport) Result() TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
