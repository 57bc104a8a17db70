// Package notification posts deployment outcomes to chat and webhook endpoints
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/viewstate"
)

// EventType represents the type of deployment event
type EventType string

const (
	EventDeployStarted   EventType = "deploy_started"
	EventDeploySucceeded EventType = "deploy_succeeded"
	EventDeployFailed    EventType = "deploy_failed"
	EventDeployCancelled EventType = "deploy_cancelled"
	EventDeployRetried   EventType = "deploy_retried"
)

// Event represents a notification event
type Event struct {
	Type         EventType     `json:"type"`
	DeploymentID string        `json:"deployment_id"`
	Project      string        `json:"project,omitempty"`
	Status       string        `json:"status,omitempty"`
	Message      string        `json:"message"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Config holds the endpoints to notify
type Config struct {
	SlackWebhook   string
	DiscordWebhook string
	Webhook        string
}

// Notifier handles sending notifications
type Notifier struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewNotifier creates a notifier. A nil client gets a 10s timeout client.
func NewNotifier(config Config, client *http.Client, logger *zap.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{config: config, client: client, logger: logger}
}

// Enabled reports whether any endpoint is configured
func (n *Notifier) Enabled() bool {
	return n.config.SlackWebhook != "" || n.config.DiscordWebhook != "" || n.config.Webhook != ""
}

// Notify sends event to every configured endpoint. All endpoints are tried;
// failures are joined into one error.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var errs []string
	send := func(name, url string, payload any) {
		if url == "" {
			return
		}
		if err := n.postJSON(ctx, url, payload); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			return
		}
		n.logger.Debug("notification sent", zap.String("channel", name), zap.String("event", string(event.Type)))
	}

	send("slack", n.config.SlackWebhook, slackPayload(event))
	send("discord", n.config.DiscordWebhook, discordPayload(event))
	send("webhook", n.config.Webhook, event)

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// postJSON sends a JSON payload to a URL
func (n *Notifier) postJSON(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(event Event) map[string]any {
	fields := []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Deployment:*\n%s", event.DeploymentID)}}
	if event.Project != "" {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Project:*\n%s", event.Project)})
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("%s %s", eventEmoji(event.Type), eventTitle(event.Type))}},
		{Type: "section", Fields: fields},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: event.Message}},
	}
	if event.Error != "" {
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n```%s```", event.Error)}})
	}
	blocks = append(blocks, slackBlock{Type: "context", Elements: []slackText{{
		Type: "mrkdwn",
		Text: fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>", event.Timestamp.Unix(), event.Timestamp.Format(time.RFC3339)),
	}}})

	return map[string]any{
		"attachments": []slackAttachment{{Color: fmt.Sprintf("#%06x", eventColor(event.Type)), Blocks: blocks}},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

func discordPayload(event Event) map[string]any {
	embed := discordEmbed{
		Title:       fmt.Sprintf("%s %s", eventEmoji(event.Type), eventTitle(event.Type)),
		Description: event.Message,
		Color:       eventColor(event.Type),
		Fields:      []discordField{{Name: "Deployment", Value: event.DeploymentID, Inline: true}},
		Timestamp:   event.Timestamp.Format(time.RFC3339),
	}
	if event.Project != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Project", Value: event.Project, Inline: true})
	}
	if event.Error != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Error", Value: fmt.Sprintf("```%s```", event.Error)})
	}
	if event.Duration > 0 {
		embed.Fields = append(embed.Fields, discordField{Name: "Duration", Value: event.Duration.Round(time.Second).String(), Inline: true})
	}
	return map[string]any{"embeds": []discordEmbed{embed}}
}

func eventColor(t EventType) int {
	switch t {
	case EventDeploySucceeded:
		return 0x36a64f
	case EventDeployFailed:
		return 0xdc3545
	case EventDeployStarted, EventDeployRetried:
		return 0x007bff
	case EventDeployCancelled:
		return 0xffc107
	default:
		return 0x6c757d
	}
}

func eventEmoji(t EventType) string {
	switch t {
	case EventDeployStarted:
		return "🚀"
	case EventDeploySucceeded:
		return "✅"
	case EventDeployFailed:
		return "❌"
	case EventDeployCancelled:
		return "⏹️"
	case EventDeployRetried:
		return "🔁"
	default:
		return "📢"
	}
}

func eventTitle(t EventType) string {
	switch t {
	case EventDeployStarted:
		return "Deployment Started"
	case EventDeploySucceeded:
		return "Deployment Succeeded"
	case EventDeployFailed:
		return "Deployment Failed"
	case EventDeployCancelled:
		return "Deployment Cancelled"
	case EventDeployRetried:
		return "Deployment Retried"
	default:
		return "Launchpad Notification"
	}
}

// DeployStartedEvent creates a deploy started event
func DeployStartedEvent(deploymentID, project, branch string) Event {
	return Event{
		Type:         EventDeployStarted,
		DeploymentID: deploymentID,
		Project:      project,
		Status:       string(deployment.StatusPending),
		Message:      fmt.Sprintf("Started deployment of `%s` (branch `%s`)", project, branch),
		Timestamp:    time.Now(),
	}
}

// DeployRetriedEvent creates an event for a retry or redeploy that produced attemptID
func DeployRetriedEvent(previousID, attemptID, project string) Event {
	return Event{
		Type:         EventDeployRetried,
		DeploymentID: attemptID,
		Project:      project,
		Status:       string(deployment.StatusPending),
		Message:      fmt.Sprintf("Retrying deployment `%s` as `%s`", previousID, attemptID),
		Timestamp:    time.Now(),
	}
}

// FinishedEvent describes a completed view. ok is false while the view is
// still in progress.
func FinishedEvent(st viewstate.State, project string, duration time.Duration) (Event, bool) {
	if !st.IsComplete {
		return Event{}, false
	}
	ev := Event{
		DeploymentID: st.DeploymentID,
		Project:      project,
		Status:       string(st.Status),
		Duration:     duration,
		Timestamp:    time.Now(),
	}
	switch {
	case st.Success:
		ev.Type = EventDeploySucceeded
		ev.Message = fmt.Sprintf("Deployment `%s` succeeded", st.DeploymentID)
	case st.Status == deployment.StatusCancelled:
		ev.Type = EventDeployCancelled
		ev.Message = fmt.Sprintf("Deployment `%s` was cancelled", st.DeploymentID)
	default:
		ev.Type = EventDeployFailed
		ev.Message = fmt.Sprintf("Deployment `%s` failed", st.DeploymentID)
		ev.Error = st.Error
	}
	return ev, true
}
