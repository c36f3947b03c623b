package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tonearm/internal/config"
)

const userAgent = "tonearm/dev"

// Notifier publishes job outcomes.
type Notifier interface {
	TrackSaved(ctx context.Context, label, path string) error
	JobFailed(ctx context.Context, label, reason string) error
	BatchFinished(ctx context.Context, saved, failed int, took time.Duration) error
	Test(ctx context.Context) error
}

// Enabled reports whether cfg names an ntfy topic.
func Enabled(cfg *config.Config) bool {
	return cfg != nil && strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""
}

// New builds an ntfy notifier from cfg, or a no-op one when no topic is set.
func New(cfg *config.Config) Notifier {
	if !Enabled(cfg) {
		return noop{}
	}
	settings := cfg.Notifications
	timeout := time.Duration(settings.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfy{
		endpoint: strings.TrimSpace(settings.NtfyTopic),
		client:   &http.Client{Timeout: timeout},
		settings: settings,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfy struct {
	endpoint string
	client   *http.Client
	settings config.Notifications
}

func (n *ntfy) TrackSaved(ctx context.Context, label, path string) error {
	if !n.settings.Tracks {
		return nil
	}
	message := fmt.Sprintf("Saved: %s", strings.TrimSpace(label))
	if path = strings.TrimSpace(path); path != "" {
		message += "\nFile: " + path
	}
	return n.send(ctx, payload{
		title:   "tonearm - Track Saved",
		message: message,
		tags:    []string{"tonearm", "track", "saved"},
	})
}

func (n *ntfy) JobFailed(ctx context.Context, label, reason string) error {
	if !n.settings.Errors {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	return n.send(ctx, payload{
		title:    "tonearm - Job Failed",
		message:  fmt.Sprintf("%s: %s", strings.TrimSpace(label), reason),
		tags:     []string{"tonearm", "error"},
		priority: "high",
	})
}

func (n *ntfy) BatchFinished(ctx context.Context, saved, failed int, took time.Duration) error {
	if !n.settings.Batch || saved+failed < n.settings.BatchMinJobs {
		return nil
	}
	took = took.Round(time.Second)
	if took < 0 {
		took = 0
	}
	title := "tonearm - Batch Complete"
	message := fmt.Sprintf("%d tracks saved in %s", saved, took)
	if failed > 0 {
		title = "tonearm - Batch Complete (with errors)"
		message = fmt.Sprintf("%d saved, %d failed in %s", saved, failed, took)
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"tonearm", "batch", "completed"},
	})
}

func (n *ntfy) Test(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "tonearm - Test",
		message:  "Notification test",
		tags:     []string{"tonearm", "test"},
		priority: "low",
	})
}

func (n *ntfy) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noop struct{}

func (noop) TrackSaved(context.Context, string, string) error             { return nil }
func (noop) JobFailed(context.Context, string, string) error              { return nil }
func (noop) BatchFinished(context.Context, int, int, time.Duration) error { return nil }
func (noop) Test(context.Context) error                                   { return nil }
