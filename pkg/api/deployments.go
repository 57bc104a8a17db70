package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/resilience"
)

// Deployment mirrors the backend's deployment payload
type Deployment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Provider  string    `json:"provider"`
	Region    string    `json:"region"`
	CPU       string    `json:"cpu"`
	Memory    string    `json:"memory"`
	Status    string    `json:"status"`
	PublicURL string    `json:"public_url,omitempty"`
	Logs      string    `json:"logs,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Phase returns the parsed status
func (d Deployment) Phase() deployment.Status {
	return deployment.ParseStatus(d.Status)
}

// StatusSnapshot is returned by GET /deployments/{id}/status
type StatusSnapshot struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	PublicURL string `json:"public_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Phase returns the parsed status
func (s StatusSnapshot) Phase() deployment.Status {
	return deployment.ParseStatus(s.Status)
}

// LogSnapshot is returned by GET /deployments/{id}/logs
type LogSnapshot struct {
	Logs   string `json:"logs"`
	Status string `json:"status,omitempty"`
}

// ActionResponse is returned by retry and redeploy. Backends differ in
// which field carries the id of the attempt to follow.
type ActionResponse struct {
	ID           string `json:"id"`
	DeploymentID string `json:"deployment_id"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
}

// TargetID returns the deployment to follow after the action, or fallback
// when the backend reused the existing attempt.
func (r ActionResponse) TargetID(fallback string) string {
	if id := strings.TrimSpace(r.DeploymentID); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	return fallback
}

// EnvVar is a key/value pair passed to a new deployment
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DeploymentConfig selects the cloud target and resource sizing
type DeploymentConfig struct {
	Provider string   `json:"provider"`
	Region   string   `json:"region"`
	CPU      string   `json:"cpu"`
	Memory   string   `json:"memory"`
	EnvVars  []EnvVar `json:"env_vars"`
}

// StartDeploymentInput is the payload for POST /deployments/start
type StartDeploymentInput struct {
	ProjectID string           `json:"project_id"`
	Branch    string           `json:"branch"`
	Config    DeploymentConfig `json:"config"`
}

// User is the authenticated account
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	GitHubID  string `json:"github_id,omitempty"`
}

func deploymentPath(id string, suffix string) string {
	return "/api/v1/deployments/" + url.PathEscape(id) + suffix
}

// call runs an authenticated request and decodes the payload into v
func (c *Client) call(ctx context.Context, method, path string, body, v any) error {
	if !c.Authenticated() {
		return ErrUnauthenticated
	}
	return c.Request(ctx, method, path, body).Decode(v)
}

// GetCurrentUser returns the account behind the configured token
func (c *Client) GetCurrentUser(ctx context.Context) (User, error) {
	var u User
	if err := c.call(ctx, http.MethodGet, "/api/v1/auth/me", nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetDeploymentStatus fetches the current status snapshot
func (c *Client) GetDeploymentStatus(ctx context.Context, id string) (StatusSnapshot, error) {
	var s StatusSnapshot
	if err := c.call(ctx, http.MethodGet, deploymentPath(id, "/status"), nil, &s); err != nil {
		return StatusSnapshot{}, err
	}
	return s, nil
}

// GetDeploymentLogs fetches the full newline-joined log snapshot
func (c *Client) GetDeploymentLogs(ctx context.Context, id string) (LogSnapshot, error) {
	var l LogSnapshot
	if err := c.call(ctx, http.MethodGet, deploymentPath(id, "/logs"), nil, &l); err != nil {
		return LogSnapshot{}, err
	}
	return l, nil
}

// StreamDeploymentLogs opens the deployment's event stream
func (c *Client) StreamDeploymentLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	if !c.Authenticated() {
		return nil, fmt.Errorf("%w (%w)", ErrUnauthenticated, resilience.ErrPermanent)
	}
	return c.Stream(ctx, deploymentPath(id, "/logs/stream"))
}

// RetryDeployment asks the backend to run the deployment again
func (c *Client) RetryDeployment(ctx context.Context, id string) (ActionResponse, error) {
	var r ActionResponse
	if err := c.call(ctx, http.MethodPost, deploymentPath(id, "/retry"), nil, &r); err != nil {
		return ActionResponse{}, err
	}
	return r, nil
}

// Redeploy creates a new attempt for the project based on an existing deployment
func (c *Client) Redeploy(ctx context.Context, projectID, deploymentID string) (ActionResponse, error) {
	body := map[string]string{
		"project_id":    projectID,
		"deployment_id": deploymentID,
	}
	var r ActionResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/deployments/redeploy", body, &r); err != nil {
		return ActionResponse{}, err
	}
	return r, nil
}

// DeleteDeployment removes a deployment
func (c *Client) DeleteDeployment(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, deploymentPath(id, ""), nil, nil)
}

// ListDeployments returns deployments, optionally scoped to one project
func (c *Client) ListDeployments(ctx context.Context, projectID string) ([]Deployment, error) {
	path := "/api/v1/deployments/"
	if projectID != "" {
		path += "?project_id=" + url.QueryEscape(projectID)
	}
	var out []Deployment
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartDeployment triggers a new deployment for a project
func (c *Client) StartDeployment(ctx context.Context, input StartDeploymentInput) (Deployment, error) {
	if strings.TrimSpace(input.ProjectID) == "" {
		return Deployment{}, fmt.Errorf("project id is required")
	}
	if input.Config.EnvVars == nil {
		input.Config.EnvVars = []EnvVar{}
	}
	var d Deployment
	if err := c.call(ctx, http.MethodPost, "/api/v1/deployments/start", input, &d); err != nil {
		return Deployment{}, err
	}
	return d, nil
}
