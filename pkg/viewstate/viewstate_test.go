package viewstate

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
)

func apply(s State, actions ...Action) State {
	for _, a := range actions {
		s = a(s)
	}
	return s
}

func update(logs string) Action {
	return StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventUpdate, Logs: logs, HasLogs: true})
}

func TestInitial(t *testing.T) {
	s := Initial("d-1")
	if !s.IsDeploying || s.Success || s.Error != "" || len(s.Logs) != 0 || s.IsConnected {
		t.Errorf("Initial() = %+v", s)
	}
	if s.Logs == nil {
		t.Error("Initial().Logs is nil, want empty slice")
	}
}

func TestUpdatesConcatenateInOrder(t *testing.T) {
	chunks := []string{"one\n", "two\nthree\n", "fo", "ur\n", "five\n"}
	s := apply(Initial("d-1"), StreamConnected())
	for _, c := range chunks {
		s = update(c)(s)
	}

	want := strings.Split(strings.TrimSuffix(strings.Join(chunks, ""), "\n"), "\n")
	if !reflect.DeepEqual(s.Logs, want) {
		t.Errorf("Logs = %q, want %q", s.Logs, want)
	}
}

func TestSnapshotResyncAppendsOnlyNewLines(t *testing.T) {
	s := Initial("d-1")

	s = PollLogsReceived("a\nb\nc\n")(s)
	if !reflect.DeepEqual(s.Logs, []string{"a", "b", "c"}) {
		t.Fatalf("first snapshot Logs = %q", s.Logs)
	}

	s = PollLogsReceived("a\nb\nc\nd\ne\n")(s)
	if !reflect.DeepEqual(s.Logs, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("second snapshot Logs = %q", s.Logs)
	}

	// a shorter snapshot never drops lines already shown
	s = PollLogsReceived("a\n")(s)
	if len(s.Logs) != 5 {
		t.Errorf("shorter snapshot changed buffer to %q", s.Logs)
	}
}

func TestSnapshotIgnoredWhileStreamConnected(t *testing.T) {
	s := apply(Initial("d-1"), StreamConnected(), update("x\n"))
	s = PollLogsReceived("a\nb\nc\n")(s)
	if !reflect.DeepEqual(s.Logs, []string{"x"}) {
		t.Errorf("Logs = %q, want stream buffer untouched", s.Logs)
	}
}

func TestActionsDoNotAliasPreviousState(t *testing.T) {
	before := apply(Initial("d-1"), update("a\nb"))
	after := update("c\n")(before)

	if !reflect.DeepEqual(before.Logs, []string{"a", "b"}) {
		t.Errorf("previous state mutated: %q", before.Logs)
	}
	if !reflect.DeepEqual(after.Logs, []string{"a", "bc"}) {
		t.Errorf("after.Logs = %q", after.Logs)
	}
}

func TestScenario_PollProgression(t *testing.T) {
	s := Initial("d-1")

	s = PollStatusReceived(deployment.StatusPending, "")(s)
	if !s.IsDeploying || s.Success {
		t.Errorf("after pending: %+v", s)
	}

	s = PollStatusReceived(deployment.StatusBuilding, "")(s)
	if !s.IsDeploying || s.Success {
		t.Errorf("after building: %+v", s)
	}

	s = PollStatusReceived(deployment.StatusSuccess, "")(s)
	if s.IsDeploying || !s.Success || !s.IsComplete {
		t.Errorf("after success: %+v", s)
	}
}

func TestScenario_StreamInitialUpdateCompleted(t *testing.T) {
	s := apply(Initial("d-1"),
		StreamConnecting(0),
		StreamConnected(),
		StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventInitial, Logs: "a\nb\n", HasLogs: true}),
		update("c\n"),
		StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventFinal, Completed: true, Status: deployment.StatusSuccess}),
	)

	if !reflect.DeepEqual(s.Logs, []string{"a", "b", "c"}) {
		t.Errorf("Logs = %q", s.Logs)
	}
	if !s.IsComplete || !s.Success || s.IsDeploying {
		t.Errorf("final state = %+v", s)
	}
}

func TestInitialReplacesBufferAfterReconnect(t *testing.T) {
	s := apply(Initial("d-1"),
		StreamConnected(),
		StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventInitial, Logs: "a\n", HasLogs: true}),
		StreamDisconnected("connection reset", 1),
		StreamConnected(),
		StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventInitial, Logs: "a\nb\n", HasLogs: true}),
	)
	if !reflect.DeepEqual(s.Logs, []string{"a", "b"}) {
		t.Errorf("Logs = %q, want no duplicates", s.Logs)
	}
	if !s.IsConnected || s.ConnectionError != "" || s.Attempt != 0 {
		t.Errorf("connection fields = %+v", s)
	}
}

func TestScenario_ReconnectClearsConnectionError(t *testing.T) {
	initial := func(logs string) Action {
		return StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventInitial, Logs: logs, HasLogs: true})
	}

	s := apply(Initial("d-1"), StreamConnecting(0), StreamDisconnected("connection refused", 1))
	if s.IsConnected || !s.Reconnecting || s.ConnectionError != "connection refused" {
		t.Fatalf("after failed attempt = %+v", s)
	}

	s = apply(s, StreamConnecting(1), StreamConnected(), initial("a\nb\n"), update("c\n"))
	if !s.IsConnected || s.Reconnecting || s.ConnectionError != "" || s.Attempt != 0 {
		t.Errorf("after reconnect = %+v", s)
	}
	if !reflect.DeepEqual(s.Logs, []string{"a", "b", "c"}) {
		t.Errorf("Logs = %q, want no duplicated lines", s.Logs)
	}
}

func TestStreamStoppedByPoll(t *testing.T) {
	connected := apply(Initial("d-1"), StreamConnected(), update("a\n"),
		PollStatusReceived(deployment.StatusFailed, "build exploded"))
	if connected.IsComplete || connected.PolledStatus != deployment.StatusFailed {
		t.Fatalf("terminal poll applied while connected: %+v", connected)
	}

	tests := []struct {
		name     string
		id       string
		snapshot string
		haveLogs bool
		want     []string
		complete bool
	}{
		{"with final snapshot", "d-1", "a\nb\n", true, []string{"a", "b"}, true},
		{"without snapshot", "d-1", "", false, []string{"a"}, true},
		{"other deployment", "d-2", "a\nb\n", true, []string{"a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := StreamStoppedByPoll(tt.id, tt.snapshot, tt.haveLogs)(connected)
			if !reflect.DeepEqual(s.Logs, tt.want) {
				t.Errorf("Logs = %q, want %q", s.Logs, tt.want)
			}
			if s.IsComplete != tt.complete {
				t.Fatalf("IsComplete = %v, want %v", s.IsComplete, tt.complete)
			}
			if !tt.complete {
				return
			}
			if s.IsConnected || s.IsDeploying || s.Success || s.Error != "build exploded" {
				t.Errorf("state = %+v", s)
			}
		})
	}
}

func TestFinalStatusResolution(t *testing.T) {
	tests := []struct {
		name        string
		last        deployment.Status
		final       deployment.StreamEvent
		wantSuccess bool
		wantError   string
	}{
		{"final carries success", deployment.StatusDeploying, deployment.StreamEvent{Kind: deployment.EventFinal, Status: deployment.StatusSuccess}, true, ""},
		{"final falls back to last success", deployment.StatusSuccess, deployment.StreamEvent{Kind: deployment.EventFinal}, true, ""},
		{"final falls back to last failed", deployment.StatusFailed, deployment.StreamEvent{Completed: true, Kind: deployment.EventFinal}, false, "deployment failed"},
		{"final with in-progress status", deployment.StatusBuilding, deployment.StreamEvent{Kind: deployment.EventFinal}, false, "deployment failed"},
		{"cancelled", deployment.StatusBuilding, deployment.StreamEvent{Kind: deployment.EventFinal, Status: deployment.StatusCancelled}, false, "deployment cancelled"},
		{"backend error message", deployment.StatusBuilding, deployment.StreamEvent{Kind: deployment.EventFinal, Status: deployment.StatusFailed, Error: "image build failed"}, false, "image build failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := apply(Initial("d-1"),
				StreamConnected(),
				StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventHeartbeat, Status: tt.last}),
				StreamEventReceived(tt.final),
			)
			if !s.IsComplete || s.IsDeploying {
				t.Fatalf("state not complete: %+v", s)
			}
			if s.Success != tt.wantSuccess || s.Error != tt.wantError {
				t.Errorf("Success = %v, Error = %q; want %v, %q", s.Success, s.Error, tt.wantSuccess, tt.wantError)
			}
		})
	}
}

func TestHeartbeatOnlyUpdatesStatus(t *testing.T) {
	s := apply(Initial("d-1"), StreamConnected(), update("a\n"))
	s = StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventHeartbeat, Status: deployment.StatusDeploying})(s)
	if s.Status != deployment.StatusDeploying || len(s.Logs) != 1 {
		t.Errorf("after heartbeat: %+v", s)
	}
}

func TestStreamTakesPrecedenceOverPoll(t *testing.T) {
	s := apply(Initial("d-1"),
		StreamConnected(),
		StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventHeartbeat, Status: deployment.StatusBuilding}),
		PollStatusReceived(deployment.StatusFailed, ""),
	)
	if s.Status != deployment.StatusBuilding || s.IsComplete {
		t.Errorf("poll overrode connected stream: %+v", s)
	}
	if s.PolledStatus != deployment.StatusFailed {
		t.Errorf("PolledStatus = %q, want failed", s.PolledStatus)
	}

	// once the stream gives up the poller's view applies
	s = StreamGaveUp("too many reconnects")(s)
	if !s.IsComplete || s.Success || s.Error == "" {
		t.Errorf("after give up: %+v", s)
	}
}

func TestLatePollDoesNotReopenCompletedView(t *testing.T) {
	s := apply(Initial("d-1"),
		StreamConnected(),
		StreamEventReceived(deployment.StreamEvent{Kind: deployment.EventFinal, Status: deployment.StatusSuccess}),
		StreamClosed(),
		PollStatusReceived(deployment.StatusBuilding, ""),
	)
	if !s.IsComplete || !s.Success {
		t.Errorf("late poll reopened view: %+v", s)
	}
}

func TestActionFailedLeavesViewUntouched(t *testing.T) {
	before := apply(Initial("d-1"), update("a\n"), PollStatusReceived(deployment.StatusFailed, ""))
	after := ActionFailed("retry failed: HTTP 500")(before)

	if after.Notice != "retry failed: HTTP 500" {
		t.Errorf("Notice = %q", after.Notice)
	}
	after.Notice = ""
	if !reflect.DeepEqual(before, after) {
		t.Errorf("ActionFailed changed state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestReset(t *testing.T) {
	s := apply(Initial("d-1"), update("a\n"), PollStatusReceived(deployment.StatusFailed, "boom"), Reset("d-2"))
	if !reflect.DeepEqual(s, Initial("d-2")) {
		t.Errorf("Reset() = %+v", s)
	}
}

func TestStore_DispatchAndSubscribe(t *testing.T) {
	store := NewStore(Initial("d-1"))

	var (
		mu   sync.Mutex
		seen []int
	)
	unsubscribe := store.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, len(s.Logs))
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		store.Dispatch(update(fmt.Sprintf("line %d\n", i)))
	}
	unsubscribe()
	unsubscribe()
	store.Dispatch(update("ignored by subscriber\n"))

	if !reflect.DeepEqual(seen, []int{1, 2, 3}) {
		t.Errorf("subscriber saw %v, want [1 2 3]", seen)
	}
	if got := store.Snapshot().LineCount(); got != 4 {
		t.Errorf("LineCount() = %d, want 4", got)
	}
}

func TestStore_ConcurrentDispatchKeepsEveryLine(t *testing.T) {
	store := NewStore(Initial("d-1"))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.Dispatch(update(fmt.Sprintf("w%d-%d\n", w, i)))
			}
		}(w)
	}
	wg.Wait()

	if got := store.Snapshot().LineCount(); got != 200 {
		t.Errorf("LineCount() = %d, want 200", got)
	}
}

func TestMergeSnapshot(t *testing.T) {
	got := MergeSnapshot([]string{"a"}, "a\nb\n")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("MergeSnapshot() = %q", got)
	}
}
