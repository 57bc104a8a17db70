package state

import (
	"time"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
)

// Project is a backend project this machine has deployed or followed
type Project struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Status         deployment.Status `json:"status"`
	LastDeployment string            `json:"lastDeployment,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// DeploymentRecord is a deployment started or followed from this machine
type DeploymentRecord struct {
	ID         string            `json:"id"`
	ProjectID  string            `json:"projectId,omitempty"`
	Branch     string            `json:"branch,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	Region     string            `json:"region,omitempty"`
	Status     deployment.Status `json:"status"`
	PublicURL  string            `json:"publicUrl,omitempty"`
	Error      string            `json:"error,omitempty"`
	User       string            `json:"user,omitempty"`
	RetryOf    string            `json:"retryOf,omitempty"` // deployment this attempt replaced
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt,omitzero"`
	Duration   time.Duration     `json:"duration,omitempty"`
}

// Finished reports whether the record reached a terminal status
func (d *DeploymentRecord) Finished() bool {
	return d.Status.IsTerminal()
}

// Store is the content of the state file
type Store struct {
	Version           int                 `json:"version"`
	Projects          map[string]*Project `json:"projects"`
	Deployments       []*DeploymentRecord `json:"deployments"` // newest first
	CurrentDeployment string              `json:"currentDeployment,omitempty"`
	LastUpdated       time.Time           `json:"lastUpdated"`
}

// HistoryOptions for filtering deployment history
type HistoryOptions struct {
	Limit         int               // Max number of deployments to return
	Status        deployment.Status // Filter by status
	ProjectID     string            // Filter by project
	Since         time.Time         // Only deployments started after this time
	IncludeFailed bool              // Include failed and cancelled deployments
}
