package capture

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/flutter-notes-e2e/internal/engine/enginetest"
	"github.com/kuitang/flutter-notes-e2e/internal/report"
)

func TestScreenshotOnFailure_OnlyWhenFailed(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "screenshots")
	c := &Collector{ScreenshotsDir: dir}
	page := &enginetest.Page{}

	passMem := &report.Memory{}
	require.Empty(t, c.ScreenshotOnFailure(context.Background(), page, "Increment counter", false, passMem))
	require.Empty(t, passMem.Attachments())
	require.Zero(t, page.Screenshots.Load())
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err), "directory is created on demand only")

	failMem := &report.Memory{}
	path := c.ScreenshotOnFailure(context.Background(), page, "Increment counter", true, failMem)
	require.Equal(t, filepath.Join(dir, "failed-Increment counter.png"), path)
	require.FileExists(t, path)
	atts := failMem.Attachments()
	require.Len(t, atts, 1)
	require.Equal(t, ScreenshotAttachment, atts[0].Name)
	require.Equal(t, report.MediaPNG, atts[0].MediaType)
	require.Equal(t, enginetest.PNG, atts[0].Body)
}

func TestScreenshotOnFailure_ClosedPageIsLoggedNotRaised(t *testing.T) {
	t.Parallel()
	c := &Collector{ScreenshotsDir: t.TempDir()}
	page := &enginetest.Page{}
	page.Closed.Store(true)
	mem := &report.Memory{}

	require.Empty(t, c.ScreenshotOnFailure(context.Background(), page, "x", true, mem))
	require.Empty(t, c.ScreenshotOnFailure(context.Background(), nil, "x", true, mem))
	require.Empty(t, mem.Attachments())
}

func TestScreenshotPath_Sanitizes(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Increment counter":     "failed-Increment counter.png",
		"a/b\\c:d":              "failed-a_b_c_d.png",
		"  ":                    "failed-scenario.png",
		"Counter shows \"99\"?": "failed-Counter shows _99__.png",
		"../../etc/passwd":      "failed-_.._etc_passwd.png",
	}
	for in, want := range cases {
		require.Equal(t, filepath.Join("shots", want), ScreenshotPath("shots", in), in)
	}
}

func testScreenshotPath_StaysInDir(t *rapid.T) {
	name := rapid.String().Draw(t, "name")
	p := ScreenshotPath("shots", name)
	if filepath.Dir(p) != "shots" {
		t.Fatalf("ScreenshotPath(%q) escaped dir: %q", name, p)
	}
	if p != ScreenshotPath("shots", name) {
		t.Fatal("not deterministic")
	}
}

func TestScreenshotPath_StaysInDir(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testScreenshotPath_StaysInDir)
}

func TestSaveTrace_WritesAndAttaches(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "allure-results")
	c := &Collector{TraceDir: dir}
	bctx := &enginetest.Context{}
	require.NoError(t, bctx.Tracing().Start())

	mem := &report.Memory{}
	path := c.SaveTrace(context.Background(), bctx, "Increment counter", mem)
	require.Equal(t, filepath.Join(dir, "trace-Increment counter.zip"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, enginetest.Zip, data)
	atts := mem.Attachments()
	require.Len(t, atts, 1)
	require.Equal(t, TraceAttachment, atts[0].Name)
	require.Equal(t, report.MediaZip, atts[0].MediaType)
}

func TestSaveTrace_StopFailureIsLoggedNotRaised(t *testing.T) {
	t.Parallel()
	c := &Collector{TraceDir: t.TempDir()}
	mem := &report.Memory{}
	// Never started, so Stop fails.
	require.Empty(t, c.SaveTrace(context.Background(), &enginetest.Context{}, "x", mem))
	require.Empty(t, mem.Attachments())
	require.Empty(t, c.SaveTrace(context.Background(), nil, "x", mem))
}

func TestWindow_CollectsUntilStop(t *testing.T) {
	t.Parallel()
	src := &enginetest.Context{}
	w := StartWindow(src, true)

	src.EmitRequest(&enginetest.Request{
		RawURL: "http://app.test/api/login",
		Verb:   "POST",
		Header: map[string]string{"x-auth-token": "secret-token", "accept": "*/*"},
		Body:   `{"email":"a@test.com","password":"hunter22"}`,
	})
	src.EmitResponse(&enginetest.Response{RawURL: "http://app.test/api/login", Code: 200, Header: map[string]string{}, Body: `{"ok":true}`})
	src.EmitResponse(&enginetest.Response{RawURL: "http://app.test/redirect", Code: 302, BodyErr: errors.New("redirect has no body")})

	trace := w.Stop(context.Background(), 10*time.Millisecond)

	src.EmitRequest(&enginetest.Request{RawURL: "http://app.test/late", Verb: "GET"})
	src.EmitResponse(&enginetest.Response{RawURL: "http://app.test/late", Code: 200})

	require.Len(t, trace.Requests, 1)
	require.Len(t, trace.Responses, 2)
	require.Equal(t, "[REDACTED]", trace.Requests[0].Headers["x-auth-token"])
	require.Equal(t, "*/*", trace.Requests[0].Headers["accept"])
	require.NotContains(t, trace.Requests[0].PostData, "hunter22")
	require.Equal(t, `{"ok":true}`, trace.Responses[0].Body)
	require.Equal(t, BodyUnavailable, trace.Responses[1].Body)

	again := w.Stop(context.Background(), 0)
	require.Len(t, again.Requests, 1, "events after stop are dropped")
	require.Len(t, again.Responses, 2)
}

func TestFlushNetwork_AttachesOnlyWhenNonEmpty(t *testing.T) {
	t.Parallel()
	c := &Collector{Grace: time.Millisecond}

	emptyMem := &report.Memory{}
	c.FlushNetwork(context.Background(), StartWindow(&enginetest.Context{}, false), emptyMem)
	require.Empty(t, emptyMem.Attachments())

	src := &enginetest.Context{}
	w := StartWindow(src, false)
	src.EmitRequest(&enginetest.Request{RawURL: "http://app.test/", Verb: "GET"})
	mem := &report.Memory{}
	c.FlushNetwork(context.Background(), w, mem)

	atts := mem.Attachments()
	require.Len(t, atts, 1)
	require.Equal(t, NetworkAttachment, atts[0].Name)
	var decoded NetworkTrace
	require.NoError(t, json.Unmarshal(atts[0].Body, &decoded))
	require.Len(t, decoded.Requests, 1)
	require.NotNil(t, decoded.Responses)
	require.True(t, strings.Contains(string(atts[0].Body), `"responses": []`))

	c.FlushNetwork(context.Background(), nil, mem)
	require.Len(t, mem.Attachments(), 1)
}

func TestWindow_StopHonorsContext(t *testing.T) {
	t.Parallel()
	w := StartWindow(nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	w.Stop(ctx, time.Hour)
	require.Less(t, time.Since(start), time.Second)
}
