package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/notifications"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCapture(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []capturedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), requests...)
	}
}

func configFor(endpoint string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = endpoint
	return &cfg
}

func TestNewReturnsNoopWithoutTopic(t *testing.T) {
	cfg := config.Default()
	if notifications.Enabled(&cfg) {
		t.Fatal("expected notifications disabled by default")
	}
	n := notifications.New(&cfg)
	if err := n.JobFailed(context.Background(), "Song", "boom"); err != nil {
		t.Fatalf("noop notifier returned %v", err)
	}
}

func TestNotifierFormatsPayloads(t *testing.T) {
	server, requests := newCapture(t, http.StatusOK)
	cfg := configFor(server.URL)
	cfg.Notifications.Tracks = true
	n := notifications.New(cfg)
	ctx := context.Background()

	if err := n.TrackSaved(ctx, "Band - Song", "/music/Band - Song.mp3"); err != nil {
		t.Fatalf("TrackSaved: %v", err)
	}
	if err := n.JobFailed(ctx, "Band - Other", "download failed"); err != nil {
		t.Fatalf("JobFailed: %v", err)
	}
	if err := n.BatchFinished(ctx, 3, 1, 61*time.Second+400*time.Millisecond); err != nil {
		t.Fatalf("BatchFinished: %v", err)
	}

	got := requests()
	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}
	if got[0].title != "tonearm - Track Saved" || got[0].body != "Saved: Band - Song\nFile: /music/Band - Song.mp3" {
		t.Fatalf("unexpected track payload %+v", got[0])
	}
	if got[1].priority != "high" || got[1].body != "Band - Other: download failed" || got[1].tags != "tonearm,error" {
		t.Fatalf("unexpected failure payload %+v", got[1])
	}
	if got[2].title != "tonearm - Batch Complete (with errors)" || got[2].body != "3 saved, 1 failed in 1m1s" {
		t.Fatalf("unexpected batch payload %+v", got[2])
	}
}

func TestNotifierHonoursToggles(t *testing.T) {
	server, requests := newCapture(t, http.StatusOK)
	cfg := configFor(server.URL)
	cfg.Notifications.Errors = false
	cfg.Notifications.BatchMinJobs = 3
	n := notifications.New(cfg)
	ctx := context.Background()

	_ = n.TrackSaved(ctx, "Song", "")
	_ = n.JobFailed(ctx, "Song", "boom")
	_ = n.BatchFinished(ctx, 2, 0, time.Second)
	if got := requests(); len(got) != 0 {
		t.Fatalf("expected nothing sent, got %+v", got)
	}

	if err := n.BatchFinished(ctx, 3, 0, 2*time.Second); err != nil {
		t.Fatalf("BatchFinished: %v", err)
	}
	got := requests()
	if len(got) != 1 || got[0].body != "3 tracks saved in 2s" {
		t.Fatalf("unexpected batch payload %+v", got)
	}
}

func TestNotifierReportsHTTPErrors(t *testing.T) {
	server, _ := newCapture(t, http.StatusForbidden)
	n := notifications.New(configFor(server.URL))
	if err := n.Test(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
