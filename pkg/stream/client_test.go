package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/resilience"
)

// scriptedOpener hands out one scripted response per connection attempt.
// Once the script is exhausted every attempt fails.
type scriptedOpener struct {
	mu     sync.Mutex
	script []response
	calls  int
}

type response struct {
	body string
	err  error
	// hold keeps the body open until the reader is closed
	hold bool
}

func (o *scriptedOpener) StreamDeploymentLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if len(o.script) == 0 {
		return nil, errors.New("connection refused")
	}
	r := o.script[0]
	o.script = o.script[1:]
	if r.err != nil {
		return nil, r.err
	}
	if r.hold {
		pr, pw := io.Pipe()
		go func() {
			io.WriteString(pw, r.body)
		}()
		return pr, nil
	}
	return io.NopCloser(strings.NewReader(r.body)), nil
}

func (o *scriptedOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type recorder struct {
	mu        sync.Mutex
	calls     []string
	events    []deployment.StreamEvent
	gaveUp    error
	completed bool
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) OnConnecting(attempt int) { r.add("connecting") }
func (r *recorder) OnConnected()             { r.add("connected") }
func (r *recorder) OnEvent(ev deployment.StreamEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.add("event:" + string(ev.Kind))
}
func (r *recorder) OnDisconnected(err error, attempt int, retryIn time.Duration) {
	r.add("disconnected")
}
func (r *recorder) OnGiveUp(err error) {
	r.mu.Lock()
	r.gaveUp = err
	r.mu.Unlock()
	r.add("gaveup")
}
func (r *recorder) OnCompleted() {
	r.mu.Lock()
	r.completed = true
	r.mu.Unlock()
	r.add("completed")
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func fastPolicy(attempts int) resilience.ReconnectPolicy {
	return resilience.ReconnectPolicy{
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		Multiplier:  2,
		MaxAttempts: attempts,
	}
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream client did not finish")
	}
}

const threeEvents = `data: {"type":"initial","logs":"a\nb\n"}

data: {"type":"update","logs":"c\n"}

data: {"completed":true,"status":"success"}

`

func TestClient_InitialUpdateCompleted(t *testing.T) {
	opener := &scriptedOpener{script: []response{{body: threeEvents}}}
	rec := &recorder{}

	c := New("d-1", opener, rec, WithPolicy(fastPolicy(3)))
	c.Start(context.Background())
	waitDone(t, c)

	want := []string{"connecting", "connected", "event:initial", "event:update", "event:final", "completed"}
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if c.State() != Completed {
		t.Errorf("State() = %v, want completed", c.State())
	}
	if rec.events[2].Status != deployment.StatusSuccess {
		t.Errorf("final status = %q", rec.events[2].Status)
	}
	if opener.Calls() != 1 {
		t.Errorf("opener called %d times, want 1", opener.Calls())
	}
}

func TestClient_ReconnectsAfterFailure(t *testing.T) {
	opener := &scriptedOpener{script: []response{
		{err: errors.New("connection reset")},
		{body: `data: {"type":"initial","logs":"a\n"}` + "\n"},
		{body: `data: {"type":"initial","logs":"a\nb\n"}` + "\n" + `data: {"type":"final","status":"success"}` + "\n"},
	}}
	rec := &recorder{}

	c := New("d-1", opener, rec, WithPolicy(fastPolicy(3)))
	c.Start(context.Background())
	waitDone(t, c)

	want := []string{
		"connecting", "disconnected",
		"connecting", "connected", "event:initial", "disconnected",
		"connecting", "connected", "event:initial", "event:final", "completed",
	}
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v\nwant    %v", got, want)
	}
	if rec.gaveUp != nil {
		t.Errorf("unexpected give up: %v", rec.gaveUp)
	}
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	opener := &scriptedOpener{}
	rec := &recorder{}

	c := New("d-1", opener, rec, WithPolicy(fastPolicy(2)))
	c.Start(context.Background())
	waitDone(t, c)

	if opener.Calls() != 3 {
		t.Errorf("opener called %d times, want 3", opener.Calls())
	}
	if rec.gaveUp == nil {
		t.Fatal("OnGiveUp not called")
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
}

func TestClient_SuccessfulConnectResetsAttempts(t *testing.T) {
	// every connect succeeds then drops, so the attempt budget never runs out
	var script []response
	for i := 0; i < 5; i++ {
		script = append(script, response{body: `data: {"type":"heartbeat","status":"building"}` + "\n"})
	}
	script = append(script, response{body: `data: {"type":"final","status":"failed"}` + "\n"})
	opener := &scriptedOpener{script: script}
	rec := &recorder{}

	c := New("d-1", opener, rec, WithPolicy(fastPolicy(1)))
	c.Start(context.Background())
	waitDone(t, c)

	if !rec.completed {
		t.Errorf("stream gave up: %v", rec.gaveUp)
	}
}

func TestClient_HandshakeStatusDecidesReconnect(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int
	}{
		{"not found", http.StatusNotFound, 1},
		{"unauthorized", http.StatusUnauthorized, 1},
		{"forbidden", http.StatusForbidden, 1},
		{"rate limited", http.StatusTooManyRequests, 6},
		{"unavailable", http.StatusServiceUnavailable, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var script []response
			for i := 0; i < 10; i++ {
				script = append(script, response{err: &api.Error{Status: tt.status}})
			}
			opener := &scriptedOpener{script: script}
			rec := &recorder{}

			c := New("d-1", opener, rec, WithPolicy(fastPolicy(5)))
			c.Start(context.Background())
			waitDone(t, c)

			if opener.Calls() != tt.wantCalls {
				t.Errorf("opener called %d times, want %d", opener.Calls(), tt.wantCalls)
			}
			if rec.gaveUp == nil {
				t.Fatal("OnGiveUp not called")
			}
			var apiErr *api.Error
			if !errors.As(rec.gaveUp, &apiErr) || apiErr.Status != tt.status {
				t.Errorf("give up error = %v", rec.gaveUp)
			}
		})
	}
}

func TestClient_StopConditionEndsReconnects(t *testing.T) {
	opener := &scriptedOpener{}
	rec := &recorder{}

	c := New("d-1", opener, rec, WithPolicy(fastPolicy(5)), WithStopCondition(func() bool { return true }))
	c.Start(context.Background())
	waitDone(t, c)

	if opener.Calls() != 1 {
		t.Errorf("opener called %d times, want 1", opener.Calls())
	}
	if rec.gaveUp != nil {
		t.Errorf("stop condition reported as give up: %v", rec.gaveUp)
	}
}

func TestClient_SkipsMalformedLines(t *testing.T) {
	body := ": comment\n" +
		"event: message\n" +
		"data: not json\n" +
		"data: {\"type\":\"update\"}\n" +
		"data: {\"type\":\"update\",\"logs\":\"ok\\n\"}\n" +
		"data: {\"completed\":true}\n"
	opener := &scriptedOpener{script: []response{{body: body}}}
	rec := &recorder{}

	c := New("d-1", opener, rec)
	c.Start(context.Background())
	waitDone(t, c)

	if len(rec.events) != 2 || rec.events[0].Logs != "ok\n" || !rec.events[1].IsFinal() {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	opener := &scriptedOpener{script: []response{{body: `data: {"type":"initial","logs":"a\n"}` + "\n", hold: true}}}
	rec := &recorder{}

	c := New("d-1", opener, rec, WithPolicy(fastPolicy(3)))
	c.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for c.State() != Connected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	c.Close()
	c.Close()

	if c.State() == Connected {
		t.Errorf("State() = connected after Close")
	}
	calls := opener.Calls()
	time.Sleep(20 * time.Millisecond)
	if opener.Calls() != calls {
		t.Errorf("reconnected after Close")
	}
}

func TestClient_CloseBeforeStart(t *testing.T) {
	c := New("d-1", &scriptedOpener{}, &recorder{})
	c.Close()
	c.Start(context.Background())
	select {
	case <-c.Done():
	default:
		t.Error("Done() not closed")
	}
}
