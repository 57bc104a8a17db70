package viewstate

import "github.com/launchpad-dev/launchpad-cli/pkg/deployment"

// Action derives the next State from the previous one without side effects
type Action func(State) State

// Reset starts a fresh view for deploymentID, as after a retry or redeploy
func Reset(deploymentID string) Action {
	return func(State) State {
		return Initial(deploymentID)
	}
}

// StreamConnecting records a connection attempt. Attempt 0 is the first connect.
func StreamConnecting(attempt int) Action {
	return func(s State) State {
		s.Attempt = attempt
		s.Reconnecting = attempt > 0
		return s
	}
}

// StreamConnected marks the stream as the authoritative source
func StreamConnected() Action {
	return func(s State) State {
		s.IsConnected = true
		s.Reconnecting = false
		s.Attempt = 0
		s.ConnectionError = ""
		s.StreamGaveUp = false
		return s
	}
}

// StreamDisconnected records a dropped connection with a reconnect pending
func StreamDisconnected(reason string, attempt int) Action {
	return func(s State) State {
		s.IsConnected = false
		s.ConnectionError = reason
		s.Attempt = attempt
		s.Reconnecting = !s.IsComplete
		return s
	}
}

// StreamGaveUp records that reconnects are exhausted. The last polled
// status, if any, takes over immediately.
func StreamGaveUp(reason string) Action {
	return func(s State) State {
		s.IsConnected = false
		s.Reconnecting = false
		s.ConnectionError = reason
		s.StreamGaveUp = true
		if !s.IsComplete && s.PolledStatus != "" {
			s = s.withStatus(s.PolledStatus, s.polledError)
		}
		return s
	}
}

// StreamClosed records an orderly end of the stream after completion
func StreamClosed() Action {
	return func(s State) State {
		s.IsConnected = false
		s.Reconnecting = false
		return s
	}
}

// StreamStoppedByPoll ends the live view of deploymentID after the stream
// was closed because the poller saw a terminal status. snapshot, when
// haveLogs is set, is the full log fetched after the stream closed.
// Actions for an id that is no longer shown are ignored.
func StreamStoppedByPoll(deploymentID, snapshot string, haveLogs bool) Action {
	return func(s State) State {
		if s.DeploymentID != deploymentID {
			return s
		}
		s.IsConnected = false
		s.Reconnecting = false
		if s.IsComplete {
			return s
		}
		if haveLogs {
			s = s.mergeSnapshot(snapshot)
		}
		if s.PolledStatus.IsTerminal() {
			s = s.finish(s.PolledStatus, s.polledError)
		}
		return s
	}
}

// StreamEventReceived applies one event from the log stream.
// Logs, Status and completion are derived together.
func StreamEventReceived(ev deployment.StreamEvent) Action {
	return func(s State) State {
		if s.IsComplete {
			return s
		}
		switch ev.Kind {
		case deployment.EventInitial:
			s = s.replaceLogs(ev.Logs)
		case deployment.EventUpdate:
			s = s.appendLogs(ev.Logs)
		case deployment.EventFinal:
			if ev.HasLogs {
				s = s.appendLogs(ev.Logs)
			}
		}

		if ev.IsFinal() {
			status := ev.Status
			if status == "" {
				status = s.Status
			}
			return s.finish(status, ev.Error)
		}
		return s.withStatus(ev.Status, ev.Error)
	}
}

// PollStatusReceived applies a status snapshot from the poller.
// While the stream is connected only PolledStatus is recorded; a terminal
// one makes the session close the stream and apply it through StreamStoppedByPoll.
func PollStatusReceived(status deployment.Status, errMsg string) Action {
	return func(s State) State {
		s.PolledStatus = status
		s.polledError = errMsg
		s.PollError = ""
		if s.IsConnected || status == "" {
			return s
		}
		if s.IsComplete && !status.IsTerminal() {
			return s
		}
		return s.withStatus(status, errMsg)
	}
}

// PollLogsReceived re-synchronises the buffer from a full-log snapshot.
// Only lines beyond the current buffer length are appended.
func PollLogsReceived(snapshot string) Action {
	return func(s State) State {
		if s.IsConnected {
			return s
		}
		return s.mergeSnapshot(snapshot)
	}
}

// PollFailed records a failed poll. It does not change the deployment outcome.
func PollFailed(reason string) Action {
	return func(s State) State {
		s.PollError = reason
		return s
	}
}

// ActionFailed shows a transient notice for a failed retry, redeploy or delete
func ActionFailed(message string) Action {
	return func(s State) State {
		s.Notice = message
		return s
	}
}

// ClearNotice dismisses the notice banner
func ClearNotice() Action {
	return func(s State) State {
		s.Notice = ""
		return s
	}
}

func (s State) replaceLogs(chunk string) State {
	lines, open := deployment.SplitLines(chunk)
	s.Logs = append([]string{}, lines...)
	s.openLine = open
	return s
}

func (s State) appendLogs(chunk string) State {
	lines, open := deployment.SplitLines(chunk)
	if len(lines) == 0 {
		return s
	}
	s = s.clone()
	if s.openLine && len(s.Logs) > 0 {
		s.Logs[len(s.Logs)-1] += lines[0]
		lines = lines[1:]
	}
	s.Logs = append(s.Logs, lines...)
	s.openLine = open
	return s
}

func (s State) mergeSnapshot(snapshot string) State {
	lines, open := deployment.SplitLines(snapshot)
	have := len(s.Logs)
	if len(lines) < have {
		return s
	}
	s = s.clone()
	if s.openLine && have > 0 {
		s.Logs[have-1] = lines[have-1]
	}
	s.Logs = append(s.Logs, lines[have:]...)
	s.openLine = open
	return s
}

// MergeSnapshot exposes snapshot re-synchronisation for callers that keep
// their own buffer, such as the one-shot status command.
func MergeSnapshot(logs []string, snapshot string) []string {
	s := State{Logs: logs}
	return s.mergeSnapshot(snapshot).Logs
}
