package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/viewstate"
)

type capture struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func (c *capture) server(t *testing.T, name string, status int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies[name] = body
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func (c *capture) get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bodies[name]
	return string(b), ok
}

func TestNotify_AllChannels(t *testing.T) {
	c := &capture{bodies: map[string][]byte{}}
	n := NewNotifier(Config{
		SlackWebhook:   c.server(t, "slack", http.StatusOK),
		DiscordWebhook: c.server(t, "discord", http.StatusNoContent),
		Webhook:        c.server(t, "webhook", http.StatusOK),
	}, nil, nil)

	ev := Event{Type: EventDeployFailed, DeploymentID: "d-1", Message: "Deployment `d-1` failed", Error: "build failed"}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	slack, _ := c.get("slack")
	if !strings.Contains(slack, "#dc3545") || !strings.Contains(slack, "build failed") {
		t.Errorf("slack body = %s", slack)
	}
	if discord, _ := c.get("discord"); !strings.Contains(discord, `"color":14431557`) {
		t.Errorf("discord body = %s", discord)
	}

	webhook, _ := c.get("webhook")
	var got Event
	if err := json.Unmarshal([]byte(webhook), &got); err != nil {
		t.Fatal(err)
	}
	if got.DeploymentID != "d-1" || got.Type != EventDeployFailed || got.Timestamp.IsZero() {
		t.Errorf("webhook event = %+v", got)
	}
}

func TestNotify_JoinsErrors(t *testing.T) {
	c := &capture{bodies: map[string][]byte{}}
	n := NewNotifier(Config{
		SlackWebhook: c.server(t, "slack", http.StatusInternalServerError),
		Webhook:      c.server(t, "webhook", http.StatusOK),
	}, nil, nil)

	err := n.Notify(context.Background(), Event{Type: EventDeploySucceeded, DeploymentID: "d-1"})
	if err == nil || !strings.Contains(err.Error(), "slack: webhook returned status 500") {
		t.Errorf("Notify() error = %v", err)
	}
	if _, ok := c.get("webhook"); !ok {
		t.Error("generic webhook skipped after slack failure")
	}
}

func TestFinishedEvent(t *testing.T) {
	if _, ok := FinishedEvent(viewstate.Initial("d-1"), "", 0); ok {
		t.Error("FinishedEvent() ok for in-progress view")
	}

	tests := []struct {
		status deployment.Status
		want   EventType
	}{
		{deployment.StatusSuccess, EventDeploySucceeded},
		{deployment.StatusFailed, EventDeployFailed},
		{deployment.StatusCancelled, EventDeployCancelled},
	}
	for _, tt := range tests {
		st := viewstate.PollStatusReceived(tt.status, "")(viewstate.Initial("d-1"))
		ev, ok := FinishedEvent(st, "web", time.Minute)
		if !ok || ev.Type != tt.want || ev.DeploymentID != "d-1" || ev.Project != "web" {
			t.Errorf("FinishedEvent(%s) = %+v, %v", tt.status, ev, ok)
		}
	}
}

func TestEnabled(t *testing.T) {
	if NewNotifier(Config{}, nil, nil).Enabled() {
		t.Error("empty config enabled")
	}
	if !NewNotifier(Config{Webhook: "http://x"}, nil, nil).Enabled() {
		t.Error("webhook config not enabled")
	}
}
