package report

import (
	"strings"
	"sync"
)

// MemoryAttachment is an attachment held by Memory.
type MemoryAttachment struct {
	// Step is the " > "-joined path of open steps at attach time.
	Step      string
	Name      string
	MediaType string
	Body      []byte
}

// Memory is a Reporter that keeps everything in memory.
type Memory struct {
	mu          sync.Mutex
	stack       []string
	steps       []string
	attachments []MemoryAttachment
	labels      []Label
}

// Step implements Reporter.
func (m *Memory) Step(name string, fn func()) {
	m.mu.Lock()
	m.stack = append(m.stack, name)
	m.steps = append(m.steps, strings.Join(m.stack, " > "))
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.stack = m.stack[:len(m.stack)-1]
		m.mu.Unlock()
	}()
	if fn != nil {
		fn()
	}
}

// Attach implements Reporter.
func (m *Memory) Attach(name, mediaType string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	m.attachments = append(m.attachments, MemoryAttachment{
		Step:      strings.Join(m.stack, " > "),
		Name:      name,
		MediaType: mediaType,
		Body:      cp,
	})
}

// Label implements Reporter.
func (m *Memory) Label(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels = append(m.labels, Label{Name: name, Value: value})
}

// Attachments returns the recorded attachments in order.
func (m *Memory) Attachments() []MemoryAttachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MemoryAttachment(nil), m.attachments...)
}

// Labels returns the recorded labels in order.
func (m *Memory) Labels() []Label {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Label(nil), m.labels...)
}

// Steps returns the path of every step opened, in order.
func (m *Memory) Steps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.steps...)
}

// LabelValue returns the last value recorded for name.
func (m *Memory) LabelValue(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.labels) - 1; i >= 0; i-- {
		if m.labels[i].Name == name {
			return m.labels[i].Value, true
		}
	}
	return "", false
}
