// Package viewstate holds what a log-viewing session shows: the merged
// result of the live stream and the status poller for one deployment.
//
// State is a plain value. Every change is an Action, a pure function from
// the previous State to the next one, applied through a Store.
package viewstate

import (
	"fmt"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
)

// State is the view of one deployment attempt
type State struct {
	DeploymentID string

	IsDeploying bool
	Success     bool
	// Error is set when the deployment itself failed
	Error string

	Logs       []string
	Status     deployment.Status
	IsComplete bool

	IsConnected     bool
	Reconnecting    bool
	Attempt         int
	ConnectionError string
	// StreamGaveUp is set once the stream exhausted its reconnects; the
	// poller is the only source from then on.
	StreamGaveUp bool

	// PolledStatus is the last status seen by the poller, applied or not
	PolledStatus deployment.Status
	PollError    string
	polledError  string

	// Notice is a transient banner for failed user actions
	Notice string

	// openLine marks the last log line as unterminated
	openLine bool
}

// Initial returns the state of a freshly opened session
func Initial(deploymentID string) State {
	return State{
		DeploymentID: deploymentID,
		IsDeploying:  true,
		Logs:         []string{},
	}
}

// Headline summarises the state for display
func (s State) Headline() string {
	switch {
	case s.IsDeploying:
		return "Deploying..."
	case s.Success:
		return "Deployment Successful"
	default:
		return "Deployment Failed"
	}
}

// LineCount returns the number of lines in the buffer
func (s State) LineCount() int {
	return len(s.Logs)
}

// clone copies the log slice so a published State never aliases the next one
func (s State) clone() State {
	logs := make([]string, len(s.Logs))
	copy(logs, s.Logs)
	s.Logs = logs
	return s
}

// withStatus derives IsDeploying, Success, IsComplete and Error from a status
func (s State) withStatus(status deployment.Status, errMsg string) State {
	if status == "" {
		return s
	}
	s.Status = status
	if !status.IsTerminal() {
		s.IsDeploying = true
		s.Success = false
		s.IsComplete = false
		s.Error = ""
		return s
	}
	return s.finish(status, errMsg)
}

// finish marks the deployment as done. Only success counts as a success;
// failed and cancelled both surface as an error.
func (s State) finish(status deployment.Status, errMsg string) State {
	if !status.IsTerminal() {
		status = deployment.StatusFailed
	}
	s.IsDeploying = false
	s.IsComplete = true
	s.Reconnecting = false
	s.Status = status
	s.Success = status == deployment.StatusSuccess
	if s.Success {
		s.Error = ""
		return s
	}
	switch {
	case errMsg != "":
		s.Error = errMsg
	case status == deployment.StatusCancelled:
		s.Error = "deployment cancelled"
	default:
		s.Error = fmt.Sprintf("deployment %s", deployment.StatusFailed)
	}
	return s
}

// LastLineOpen reports whether the last log line may still grow
func (s State) LastLineOpen() bool {
	return s.openLine && len(s.Logs) > 0
}
