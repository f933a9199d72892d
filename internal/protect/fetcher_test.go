package protect

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/config"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// staticCreds satisfies CredentialsSource without a secret store.
type staticCreds struct {
	creds types.Credentials
	err   error
}

func (s *staticCreds) Get(context.Context) (types.Credentials, error) {
	return s.creds, s.err
}

func testTrigger() types.Trigger {
	return types.Trigger{Key: "motion", Device: "28704E113F64", EventID: "evt_123"}
}

func newTestFetcher(t *testing.T, upstream *httptest.Server, creds CredentialsSource) *Fetcher {
	t.Helper()
	client := NewClient(upstream.Client(), RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond}, WithSleepFunc(func(time.Duration) {}))
	cfg := config.VideoConfig{ScratchDir: t.TempDir(), FetchTimeout: 5 * time.Second}
	return NewFetcher(client, creds, cfg, slog.Default())
}

// rewriteHost points the fetcher's export URL at the test server by serving
// from a credentials hostname equal to the server's host.
func hostOf(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "https://")
}

func TestFetch_DownloadsToTempFile(t *testing.T) {
	var gotAuth, gotQuery string
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-API-KEY")
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("mp4-bytes"))
	}))
	defer ts.Close()

	creds := &staticCreds{creds: types.Credentials{
		Hostname: hostOf(ts),
		Username: "backup",
		Password: "pw",
		APIKey:   "key_abc",
	}}
	f := newTestFetcher(t, ts, creds)

	path, err := f.Fetch(context.Background(), testTrigger(), "/protect/events/evt_123", 1691000000000)
	if err != nil {
		t.Fatalf("Fetch returned unexpected error: %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("temp file unreadable: %v", err)
	}
	if string(data) != "mp4-bytes" {
		t.Errorf("unexpected file contents %q", data)
	}
	if gotAuth != "key_abc" {
		t.Errorf("expected API key auth, got %q", gotAuth)
	}
	if !strings.Contains(gotQuery, "camera=28704E113F64") {
		t.Errorf("expected camera in query, got %q", gotQuery)
	}
	if !strings.Contains(gotQuery, "eventPath=") {
		t.Errorf("expected eventPath in query, got %q", gotQuery)
	}
}

func TestFetch_BasicAuthWhenNoAPIKey(t *testing.T) {
	var user, pass string
	var ok bool
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	creds := &staticCreds{creds: types.Credentials{Hostname: hostOf(ts), Username: "backup", Password: "pw"}}
	f := newTestFetcher(t, ts, creds)

	path, err := f.Fetch(context.Background(), testTrigger(), "", 1691000000000)
	if err != nil {
		t.Fatalf("Fetch returned unexpected error: %v", err)
	}
	defer os.Remove(path)

	if !ok || user != "backup" || pass != "pw" {
		t.Errorf("expected basic auth backup/pw, got %q/%q ok=%v", user, pass, ok)
	}
}

func TestFetch_Non200IsVideoFetchError(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	creds := &staticCreds{creds: types.Credentials{Hostname: hostOf(ts), Username: "u", Password: "p"}}
	f := newTestFetcher(t, ts, creds)

	_, err := f.Fetch(context.Background(), testTrigger(), "/p", 1691000000000)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeVideoFetch {
		t.Fatalf("expected video_fetch_failed AppError, got %v", err)
	}
}

func TestFetch_CredentialsFailureIsVideoFetchError(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	f := newTestFetcher(t, ts, &staticCreds{err: errors.New("secret store down")})

	_, err := f.Fetch(context.Background(), testTrigger(), "/p", 1691000000000)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeVideoFetch {
		t.Fatalf("expected video_fetch_failed AppError, got %v", err)
	}
}

func TestFetch_RetriesOn5xx(t *testing.T) {
	attempts := 0
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	creds := &staticCreds{creds: types.Credentials{Hostname: hostOf(ts), Username: "u", Password: "p"}}
	f := newTestFetcher(t, ts, creds)

	path, err := f.Fetch(context.Background(), testTrigger(), "", 1691000000000)
	if err != nil {
		t.Fatalf("Fetch returned unexpected error after retry: %v", err)
	}
	defer os.Remove(path)

	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}
