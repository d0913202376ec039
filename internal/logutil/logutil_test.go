package logutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestIsSensitiveField(t *testing.T) {
	t.Parallel()
	for _, k := range []string{"x-auth-token", "Authorization", "password", "newPassword", "currentPassword", "Set-Cookie", "api_key"} {
		if !IsSensitiveField(k) {
			t.Fatalf("%q should be sensitive", k)
		}
	}
	for _, k := range []string{"content-type", "title", "email", "category"} {
		if IsSensitiveField(k) {
			t.Fatalf("%q should not be sensitive", k)
		}
	}
}

func TestFlattenHeaders(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Add("Content-Type", "application/json")
	h.Add("Vary", "Origin")
	h.Add("Vary", "Accept")

	got := FlattenHeaders(h)
	if got["content-type"] != "application/json" || got["vary"] != "Origin, Accept" {
		t.Fatalf("FlattenHeaders = %v", got)
	}
}

func testRedactJSON_HidesSecrets(t *rapid.T) {
	secret := rapid.StringMatching(`[A-Za-z0-9]{12,24}`).Draw(t, "secret")
	title := rapid.StringMatching(`[a-z ]{1,20}`).Draw(t, "title")
	body, _ := json.Marshal(map[string]any{
		"title":           title,
		"currentPassword": secret,
		"nested":          []any{map[string]any{"token": secret}},
	})

	out := RedactJSON(body)
	if strings.Contains(string(out), secret) {
		t.Fatalf("secret survived redaction: %s", out)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("redacted body is not JSON: %v", err)
	}
	if decoded["title"] != title {
		t.Fatalf("non-sensitive field changed: %v", decoded["title"])
	}
}

func TestRedactJSON_HidesSecrets(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testRedactJSON_HidesSecrets)
}

func TestRedactJSON_NonJSONPassesThrough(t *testing.T) {
	t.Parallel()
	in := []byte("password=hunter2")
	if got := RedactJSON(in); string(got) != string(in) {
		t.Fatalf("RedactJSON(non-json) = %q", got)
	}
}

func TestRedactHeaders_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := map[string]string{"x-auth-token": "abc", "accept": "*/*"}
	out := RedactHeaders(in)
	if out["x-auth-token"] != Redacted || out["accept"] != "*/*" {
		t.Fatalf("RedactHeaders = %v", out)
	}
	if in["x-auth-token"] != "abc" {
		t.Fatal("input mutated")
	}
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()
	if got := TruncateForLog("  line1\nline2  ", 100); got != `line1\nline2` {
		t.Fatalf("got %q", got)
	}
	if got := TruncateForLog("abcdef", 3); got != "abc... [truncated]" {
		t.Fatalf("got %q", got)
	}
}
