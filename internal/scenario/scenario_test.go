package scenario

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/kuitang/flutter-notes-e2e/internal/report"
)

func TestNew_StartsEmpty(t *testing.T) {
	t.Parallel()
	c := New("id", "name", "https://api.test")
	if !c.Empty() {
		t.Fatal("new context should be empty")
	}
	if c.BaseURL != "https://api.test" {
		t.Fatalf("BaseURL = %q", c.BaseURL)
	}
	if c.Reporter != report.Discard {
		t.Fatal("new context should report to Discard")
	}
	if _, ok := c.LastResponse(); ok {
		t.Fatal("LastResponse on empty context returned ok")
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	t.Parallel()
	c := New("id", "name", "https://api.test")
	c.Token = "tok"
	c.NoteID = "n1"
	c.Email = "a@b.c"
	c.Note = json.RawMessage(`{"id":"n1"}`)
	c.AppendResponse(APIResponseRecord{Step: "x", Status: 200})
	if c.Empty() {
		t.Fatal("populated context reported empty")
	}

	c.Reset()
	if !c.Empty() || c.BaseURL != "" {
		t.Fatalf("Reset left state behind: %+v", c)
	}
}

func TestAPIResponses_ReturnsCopy(t *testing.T) {
	t.Parallel()
	c := New("id", "name", "")
	c.AppendResponse(APIResponseRecord{Step: "first"})
	got := c.APIResponses()
	got[0].Step = "mutated"
	if c.APIResponses()[0].Step != "first" {
		t.Fatal("APIResponses leaked internal slice")
	}
}

func TestAppendResponse_PreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		steps := rapid.SliceOf(rapid.StringMatching(`[A-Za-z ]{1,12}`)).Draw(t, "steps")
		c := New("id", "name", "")
		for _, s := range steps {
			c.AppendResponse(APIResponseRecord{Step: s})
		}
		got := c.APIResponses()
		if len(got) != len(steps) {
			t.Fatalf("len = %d, want %d", len(got), len(steps))
		}
		for i := range steps {
			if got[i].Step != steps[i] {
				t.Fatalf("record %d = %q, want %q", i, got[i].Step, steps[i])
			}
		}
		if len(steps) > 0 {
			last, _ := c.LastResponse()
			if last.Step != steps[len(steps)-1] {
				t.Fatalf("LastResponse = %q", last.Step)
			}
		}
	})
}

func TestAppendResponse_Concurrent(t *testing.T) {
	t.Parallel()
	c := New("id", "name", "")
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AppendResponse(APIResponseRecord{Step: fmt.Sprint(i)})
		}()
	}
	wg.Wait()
	if n := len(c.APIResponses()); n != 20 {
		t.Fatalf("got %d records, want 20", n)
	}
}
