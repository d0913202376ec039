// Package scenario holds the per-scenario state that steps thread between
// each other. A Context is built fresh for every scenario and handed to step
// definitions explicitly; nothing survives from one scenario to the next.
package scenario

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kuitang/flutter-notes-e2e/internal/engine"
	"github.com/kuitang/flutter-notes-e2e/internal/report"
)

// APIResponseRecord is the normalized form of one HTTP exchange.
type APIResponseRecord struct {
	Step        string            `json:"step"`
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Status      int               `json:"status"`
	StatusText  string            `json:"statusText"`
	Headers     map[string]string `json:"headers"`
	Body        any               `json:"body"`
	Timestamp   time.Time         `json:"timestamp"`
	Size        int               `json:"size"`
	ContentType string            `json:"contentType"`
}

// Context is the state bag for a single scenario.
type Context struct {
	ID   string
	Name string

	Session  *engine.Session
	Reporter report.Reporter

	// BaseURL is the REST API root used by API steps.
	BaseURL  string
	Email    string
	Password string
	Token    string
	NoteID   string
	// Note is the JSON object returned when the current note was created.
	Note json.RawMessage

	mu           sync.Mutex
	apiResponses []APIResponseRecord
}

// New returns a Context for the named scenario with the given API root.
func New(id, name, baseURL string) *Context {
	c := &Context{ID: id, Name: name}
	c.Reset()
	c.BaseURL = baseURL
	return c
}

// Reset clears the recorded responses and every transient value.
func (c *Context) Reset() {
	c.mu.Lock()
	c.apiResponses = nil
	c.mu.Unlock()

	c.Session = nil
	c.Reporter = report.Discard
	c.BaseURL = ""
	c.Email = ""
	c.Password = ""
	c.Token = ""
	c.NoteID = ""
	c.Note = nil
}

// AppendResponse records an exchange. Records are kept in call order.
func (c *Context) AppendResponse(r APIResponseRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiResponses = append(c.apiResponses, r)
}

// APIResponses returns a copy of the recorded exchanges.
func (c *Context) APIResponses() []APIResponseRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]APIResponseRecord, len(c.apiResponses))
	copy(out, c.apiResponses)
	return out
}

// LastResponse returns the most recent exchange, if any.
func (c *Context) LastResponse() (APIResponseRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.apiResponses) == 0 {
		return APIResponseRecord{}, false
	}
	return c.apiResponses[len(c.apiResponses)-1], true
}

// Empty reports whether nothing has been recorded or threaded yet.
func (c *Context) Empty() bool {
	c.mu.Lock()
	n := len(c.apiResponses)
	c.mu.Unlock()
	return n == 0 && c.Token == "" && c.NoteID == "" && c.Email == "" && c.Note == nil
}
