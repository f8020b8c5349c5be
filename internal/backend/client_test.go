package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"chataide/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestClient points a client at explicit endpoints instead of the port range.
func newTestClient(timeout time.Duration, endpoints ...string) *Client {
	c := New(Config{AttemptTimeout: timeout, Logger: testLogger()})
	c.endpoints = endpoints
	return c
}

func okServer(t *testing.T, hits *int32, replies ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.ReplyResponse{Replies: replies})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deadEndpoint(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

var conv = domain.Conversation{
	Messages: []domain.Message{{Text: "are we still on for tonight?"}},
	Tone:     domain.ToneCasual,
}

func TestEndpoints_Defaults(t *testing.T) {
	got := New(Config{Logger: testLogger()}).Endpoints()
	want := []string{
		"http://localhost:5000/generate-replies",
		"http://localhost:5001/generate-replies",
		"http://localhost:5002/generate-replies",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d endpoints, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("endpoint %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestEndpoints_CustomRange(t *testing.T) {
	c := New(Config{Scheme: "https", Host: "replies.local", BasePort: 8080, PortSpan: 2, Path: "/r", Logger: testLogger()})
	got := c.Endpoints()
	if len(got) != 2 || got[0] != "https://replies.local:8080/r" || got[1] != "https://replies.local:8081/r" {
		t.Fatalf("unexpected endpoints %v", got)
	}
}

func TestAcquire_StopsAtFirstOK(t *testing.T) {
	var after int32
	first := statusServer(t, http.StatusInternalServerError)
	second := okServer(t, nil, "yes", "maybe", "no")
	third := okServer(t, &after, "x", "y", "z")

	acq := newTestClient(time.Second, first.URL, second.URL, third.URL).Acquire(context.Background(), conv)

	if acq.Source != domain.SourceRemote || acq.Endpoint != second.URL {
		t.Fatalf("expected remote replies from the second endpoint, got %+v", acq)
	}
	if acq.Replies != (domain.ReplySet{Recommended: "yes", Backup1: "maybe", Backup2: "no"}) {
		t.Errorf("unexpected replies %+v", acq.Replies)
	}
	if atomic.LoadInt32(&after) != 0 {
		t.Error("no endpoint after the first ok should be tried")
	}
	if len(acq.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %v", acq.Attempts)
	}
	if acq.Attempts[0].Outcome != domain.OutcomeHTTPError || acq.Attempts[0].Status != 500 {
		t.Errorf("expected httpError(500), got %v", acq.Attempts[0])
	}
	if acq.Attempts[1].Outcome != domain.OutcomeOK {
		t.Errorf("expected ok, got %v", acq.Attempts[1])
	}
	if acq.Notice != "" || acq.LastError != nil {
		t.Errorf("remote success should carry no notice or error, got %q / %v", acq.Notice, acq.LastError)
	}
}

func TestAcquire_TimeoutMovesOn(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)
	fast := okServer(t, nil, "a", "b", "c")

	start := time.Now()
	acq := newTestClient(50*time.Millisecond, slow.URL, fast.URL).Acquire(context.Background(), conv)
	if time.Since(start) > time.Second {
		t.Fatal("per-attempt timeout was not applied")
	}
	if acq.Attempts[0].Outcome != domain.OutcomeTimeout {
		t.Errorf("expected timeout, got %v", acq.Attempts[0])
	}
	if acq.Source != domain.SourceRemote {
		t.Errorf("expected remote replies after timeout, got %q", acq.Source)
	}
}

func TestAcquire_MalformedResponses(t *testing.T) {
	twoReplies := okServer(t, nil, "one", "two")
	blank := okServer(t, nil, "one", " ", "three")
	notJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	}))
	t.Cleanup(notJSON.Close)

	acq := newTestClient(time.Second, twoReplies.URL, blank.URL, notJSON.URL).Acquire(context.Background(), conv)
	if len(acq.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %v", acq.Attempts)
	}
	for _, a := range acq.Attempts {
		if a.Outcome != domain.OutcomeMalformed {
			t.Errorf("expected malformed, got %v", a)
		}
	}
	if acq.Source != domain.SourceFallback {
		t.Errorf("expected fallback, got %q", acq.Source)
	}
}

func TestAcquire_AllFailFallsBackToToneTable(t *testing.T) {
	acq := newTestClient(time.Second,
		deadEndpoint(t),
		statusServer(t, http.StatusServiceUnavailable).URL,
		deadEndpoint(t),
	).Acquire(context.Background(), conv)

	if acq.Source != domain.SourceFallback {
		t.Fatalf("expected fallback, got %q", acq.Source)
	}
	if acq.Replies != OfflineReplies(domain.ToneCasual) {
		t.Errorf("expected casual offline replies, got %+v", acq.Replies)
	}
	if acq.Notice != OfflineNotice {
		t.Errorf("expected notice %q, got %q", OfflineNotice, acq.Notice)
	}
	if !errors.Is(acq.LastError, domain.ErrBackendUnreachable) {
		t.Errorf("expected ErrBackendUnreachable, got %v", acq.LastError)
	}
	want := []domain.Outcome{domain.OutcomeNetworkError, domain.OutcomeHTTPError, domain.OutcomeNetworkError}
	for i, o := range want {
		if acq.Attempts[i].Outcome != o {
			t.Errorf("attempt %d: expected %s, got %v", i, o, acq.Attempts[i])
		}
	}
}

func TestAcquire_SendsMessagesAndAge(t *testing.T) {
	var got domain.ReplyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(domain.ReplyResponse{Replies: []string{"a", "b", "c"}})
	}))
	t.Cleanup(srv.Close)

	age := 27
	c := New(Config{Age: &age, Logger: testLogger()})
	c.endpoints = []string{srv.URL}
	c.Acquire(context.Background(), conv)

	if len(got.Messages) != 1 || got.Messages[0] != "are we still on for tonight?" {
		t.Errorf("unexpected messages %v", got.Messages)
	}
	if got.Age == nil || *got.Age != 27 {
		t.Errorf("expected age 27, got %v", got.Age)
	}
}

func TestAcquire_CancelledContextFallsBack(t *testing.T) {
	var hits int32
	srv := okServer(t, &hits, "a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acq := newTestClient(time.Second, srv.URL).Acquire(ctx, conv)
	if acq.Source != domain.SourceFallback || len(acq.Attempts) != 0 {
		t.Fatalf("expected immediate fallback, got %+v", acq)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("no request should be sent after cancellation")
	}
}

func TestOfflineReplies(t *testing.T) {
	for _, tone := range []domain.Tone{domain.ToneNeutral, domain.ToneCasual, domain.ToneFormal, domain.ToneEnthusiastic, "grumpy"} {
		a, b := OfflineReplies(tone), OfflineReplies(tone)
		if a != b {
			t.Errorf("%s: offline replies are not stable", tone)
		}
		for _, r := range a.All() {
			if r == "" {
				t.Errorf("%s: empty offline reply", tone)
			}
		}
	}
	if OfflineReplies("grumpy") != OfflineReplies(domain.ToneNeutral) {
		t.Error("unknown tone should use the neutral set")
	}
	if got := OfflineReplies(domain.ToneFormal).Recommended; got != "Thank you for reaching out. I'd be happy to help with that." {
		t.Errorf("unexpected formal reply %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want domain.Outcome
	}{
		{nil, domain.OutcomeOK},
		{&StatusError{Code: 404}, domain.OutcomeHTTPError},
		{domain.ErrMalformedResponse, domain.OutcomeMalformed},
		{context.DeadlineExceeded, domain.OutcomeTimeout},
		{errors.New("connection refused"), domain.OutcomeNetworkError},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
