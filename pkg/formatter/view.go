package formatter

import (
	"fmt"
	"sync"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/viewstate"
)

// ViewRenderer prints a live deployment view incrementally: each call to
// Render writes only what changed since the previous call.
type ViewRenderer struct {
	out *Output

	mu        sync.Mutex
	id        string
	shown     []string
	status    deployment.Status
	connected bool
	connErr   string
	gaveUp    bool
	notice    string
	finished  bool
}

// NewViewRenderer creates a renderer writing to out
func NewViewRenderer(out *Output) *ViewRenderer {
	return &ViewRenderer{out: out}
}

// Render writes the difference between st and the previously rendered state
func (r *ViewRenderer) Render(st viewstate.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st.DeploymentID != r.id {
		r.id = st.DeploymentID
		r.shown = nil
		r.status = ""
		r.connected, r.connErr, r.gaveUp = false, "", false
		r.notice = ""
		r.finished = false
		r.out.Section("Deployment " + st.DeploymentID)
	}

	r.renderLogs(st)

	if st.Status != r.status && st.Status != "" && !st.Status.IsTerminal() {
		r.out.Info("Status: %s", r.StatusLabel(st.Status))
	}
	r.status = st.Status

	r.renderConnection(st)

	if st.Notice != "" && st.Notice != r.notice {
		r.out.Error("%s", st.Notice)
	}
	r.notice = st.Notice

	if st.IsComplete && !r.finished {
		r.finished = true
		r.out.Divider()
		if st.Success {
			r.out.Success("%s", st.Headline())
		} else {
			r.out.Error("%s: %s", st.Headline(), st.Error)
		}
	}
}

// renderLogs prints lines not yet shown. An unterminated last line is held
// back until it is complete. When the buffer no longer starts with the lines
// already shown, as after a reconnect whose initial event rewrote it, the
// whole buffer is printed again below a divider.
func (r *ViewRenderer) renderLogs(st viewstate.State) {
	n := len(st.Logs)
	if st.LastLineOpen() && !st.IsComplete {
		n--
	}
	if !hasPrefix(st.Logs[:n], r.shown) {
		r.out.Divider()
		r.out.Warning("Log output was replaced by the backend; showing it again")
		r.shown = nil
	}
	for _, line := range st.Logs[len(r.shown):n] {
		fmt.Fprintln(r.out.Writer(), line)
	}
	r.shown = append(r.shown, st.Logs[len(r.shown):n]...)
}

func hasPrefix(lines, prefix []string) bool {
	if len(lines) < len(prefix) {
		return false
	}
	for i, line := range prefix {
		if lines[i] != line {
			return false
		}
	}
	return true
}

func (r *ViewRenderer) renderConnection(st viewstate.State) {
	switch {
	case st.StreamGaveUp && !r.gaveUp:
		r.out.Warning("Live log stream unavailable (%s); following by polling", st.ConnectionError)
	case st.Reconnecting && st.ConnectionError != "" && st.ConnectionError != r.connErr:
		r.out.Warning("Log stream disconnected: %s", st.ConnectionError)
	case st.IsConnected && !r.connected && r.connErr != "":
		r.out.Info("Log stream reconnected")
	}
	r.gaveUp = st.StreamGaveUp
	r.connected = st.IsConnected
	if st.IsConnected {
		r.connErr = ""
	} else if st.ConnectionError != "" {
		r.connErr = st.ConnectionError
	}
}

// StatusLabel returns status coloured by outcome
func (r *ViewRenderer) StatusLabel(status deployment.Status) string {
	return StatusLabel(r.out, status)
}

// StatusLabel colours a status for display on out
func StatusLabel(out *Output, status deployment.Status) string {
	switch status {
	case deployment.StatusSuccess:
		return out.color(ColorGreen, status.String())
	case deployment.StatusFailed, deployment.StatusCancelled:
		return out.color(ColorRed, status.String())
	case deployment.StatusUnknown:
		return out.color(ColorDim, status.String())
	default:
		return out.color(ColorCyan, status.String())
	}
}
