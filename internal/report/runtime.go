package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Runtime owns a results directory.
type Runtime struct {
	dir string
	mu  sync.Mutex
}

// NewRuntime creates dir if needed and returns a Runtime writing into it.
func NewRuntime(dir string) (*Runtime, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &Runtime{dir: dir}, nil
}

// Dir returns the results directory.
func (r *Runtime) Dir() string {
	return r.dir
}

// WriteAttachment stores body under a fresh name and returns the name to
// reference from a result.
func (r *Runtime) WriteAttachment(body []byte, mediaType string) (string, error) {
	source := uuid.NewString() + "-attachment" + extensionFor(mediaType)
	if err := os.WriteFile(filepath.Join(r.dir, source), body, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return source, nil
}

// WriteResult stores res as <uuid>-result.json.
func (r *Runtime) WriteResult(res *TestResult) error {
	if res.UUID == "" {
		res.UUID = uuid.NewString()
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	path := filepath.Join(r.dir, res.UUID+"-result.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// ReadResults loads every result document in dir.
func ReadResults(dir string) ([]TestResult, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*-result.json"))
	if err != nil {
		return nil, err
	}
	out := make([]TestResult, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("read result: %w", err)
		}
		var res TestResult
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("parse result %s: %w", filepath.Base(m), err)
		}
		out = append(out, res)
	}
	return out, nil
}

// WriteEnvironment stores props as environment.properties, shown on the
// report's overview page.
func (r *Runtime) WriteEnvironment(props map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, props[k])
	}
	if err := os.WriteFile(filepath.Join(r.dir, "environment.properties"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write environment: %w", err)
	}
	return nil
}

func extensionFor(mediaType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0])) {
	case MediaPNG:
		return ".png"
	case MediaJSON:
		return ".json"
	case MediaText:
		return ".txt"
	case "text/html":
		return ".html"
	case MediaZip:
		return ".zip"
	default:
		return ".bin"
	}
}
