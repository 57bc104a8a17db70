package session

import (
	"fmt"
	"time"

	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/viewstate"
)

// streamHandler turns stream callbacks into view actions
type streamHandler struct {
	store *viewstate.Store
}

func (h streamHandler) OnConnecting(attempt int) {
	h.store.Dispatch(viewstate.StreamConnecting(attempt))
}

func (h streamHandler) OnConnected() {
	h.store.Dispatch(viewstate.StreamConnected())
}

func (h streamHandler) OnEvent(ev deployment.StreamEvent) {
	h.store.Dispatch(viewstate.StreamEventReceived(ev))
}

func (h streamHandler) OnDisconnected(err error, attempt int, retryIn time.Duration) {
	reason := fmt.Sprintf("%v (reconnecting in %s)", err, retryIn.Round(time.Millisecond))
	h.store.Dispatch(viewstate.StreamDisconnected(reason, attempt))
}

func (h streamHandler) OnGiveUp(err error) {
	h.store.Dispatch(viewstate.StreamGaveUp(err.Error()))
}

func (h streamHandler) OnCompleted() {
	h.store.Dispatch(viewstate.StreamClosed())
}

// pollHandler turns poll results into view actions
type pollHandler struct {
	store *viewstate.Store
}

func (h pollHandler) OnStatus(snapshot api.StatusSnapshot) {
	h.store.Dispatch(viewstate.PollStatusReceived(snapshot.Phase(), snapshot.Error))
}

func (h pollHandler) OnLogs(logs string) {
	h.store.Dispatch(viewstate.PollLogsReceived(logs))
}

func (h pollHandler) OnError(err error) {
	h.store.Dispatch(viewstate.PollFailed(err.Error()))
}
