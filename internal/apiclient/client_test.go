package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/flutter-notes-e2e/internal/errs"
	"github.com/kuitang/flutter-notes-e2e/internal/report"
	"github.com/kuitang/flutter-notes-e2e/internal/scenario"
)

func TestDo_SendsTokenAndReports(t *testing.T) {
	t.Parallel()
	var gotToken, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get(AuthHeader)
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": "n-1"}})
	}))
	defer srv.Close()

	mem := &report.Memory{}
	sc := scenario.New("sc", "create", srv.URL+"/notes/api/")
	sc.Reporter = mem
	sc.Token = "tok"

	c := New(Options{RPS: 100, Burst: 5, Timeout: 5 * time.Second})
	res, err := c.Do(context.Background(), sc, "Create note", http.MethodPost, "/notes", map[string]string{"title": "Groceries"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "n-1", res.Body.Get("data.id").String())
	require.Equal(t, "tok", gotToken)
	require.Equal(t, "/notes/api/notes", gotPath)
	require.JSONEq(t, `{"title":"Groceries"}`, gotBody)
	require.Len(t, sc.APIResponses(), 1)
	require.Len(t, mem.Attachments(), 3)
}

func TestDo_NoTokenNoHeader(t *testing.T) {
	t.Parallel()
	var present bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header[http.CanonicalHeaderKey(AuthHeader)]
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sc := scenario.New("sc", "get", srv.URL)
	res, err := New(Options{}).Do(context.Background(), sc, "Fetch", http.MethodGet, "notes/x", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.Status)
	require.False(t, present)
}

func TestDo_DeadlineIsCoded(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sc := scenario.New("sc", "slow", srv.URL)
	_, err := New(Options{}).Do(ctx, sc, "Slow", http.MethodGet, "/", nil)
	require.Error(t, err)
	require.Equal(t, errs.DeadlineExceeded, errs.CodeOf(err))
	require.Empty(t, sc.APIResponses(), "failed transports are not recorded")
}
