package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/launchpad-dev/launchpad-cli/pkg/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, append([]Option{WithBreaker(nil)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, srv
}

func TestRequest_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"id":"d-1","status":"building"}`))
	}, WithToken("secret"))

	res := c.Request(context.Background(), http.MethodGet, "/api/v1/deployments/d-1/status", nil)
	if !res.OK() {
		t.Fatalf("Request() error = %q", res.Error)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}

	var snap StatusSnapshot
	if err := res.Decode(&snap); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if snap.ID != "d-1" || snap.Status != "building" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRequest_NoTokenNoHeader(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	})

	c.Request(context.Background(), http.MethodGet, "/x", nil)
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty", gotAuth)
	}
	if c.Authenticated() {
		t.Error("Authenticated() = true without token")
	}
}

func TestRequest_ErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail string", http.StatusBadRequest, `{"detail":"deployment already running"}`, "deployment already running"},
		{"detail list", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"},{"msg":"bad id"}]}`, "field required; bad id"},
		{"error field", http.StatusConflict, `{"error":"conflict"}`, "conflict"},
		{"status line fallback", http.StatusNotFound, `not json`, "HTTP 404: Not Found"},
		{"empty body", http.StatusInternalServerError, ``, "HTTP 500: Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			res := c.Request(context.Background(), http.MethodGet, "/x", nil)
			if res.OK() {
				t.Fatal("Request() succeeded, want error")
			}
			if res.Error != tt.want {
				t.Errorf("Error = %q, want %q", res.Error, tt.want)
			}
			if res.Status != tt.status {
				t.Errorf("Status = %d, want %d", res.Status, tt.status)
			}
		})
	}
}

func TestRequest_NetworkFailureBecomesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(url, WithToken("t"))
	if err != nil {
		t.Fatal(err)
	}
	res := c.Request(context.Background(), http.MethodGet, "/x", nil)
	if res.OK() || res.Error == "" {
		t.Fatalf("Request() = %+v, want network error result", res)
	}
	if res.Status != 0 {
		t.Errorf("Status = %d, want 0 for network failure", res.Status)
	}
}

func TestRequest_BreakerOpensOnServerErrors(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithBreaker(resilience.NewServiceBreaker("test",
		resilience.WithFailureThreshold(2),
		resilience.WithSuccessClassifier(isHealthy),
	)))

	for i := 0; i < 3; i++ {
		c.Request(context.Background(), http.MethodGet, "/x", nil)
	}
	res := c.Request(context.Background(), http.MethodGet, "/x", nil)
	if res.Error != "circuit breaker is open" {
		t.Errorf("Error = %q, want circuit breaker message", res.Error)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestStream_HandshakeFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"not your deployment"}`))
	}, WithToken("t"))

	body, err := c.StreamDeploymentLogs(context.Background(), "d-1")
	if body != nil {
		body.Close()
		t.Fatal("StreamDeploymentLogs() returned a body on 403")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want *Error with 403", err)
	}
	if !IsUnauthorized(err) {
		t.Error("IsUnauthorized() = false for 403")
	}
}

func TestError_PermanentClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
		{0, false},
	}

	for _, tt := range tests {
		err := fmt.Errorf("open stream: %w", &Error{Status: tt.status})
		if got := errors.Is(err, resilience.ErrPermanent); got != tt.permanent {
			t.Errorf("status %d: errors.Is(ErrPermanent) = %v, want %v", tt.status, got, tt.permanent)
		}
		if got := resilience.IsRetryable(err); got == tt.permanent {
			t.Errorf("status %d: IsRetryable() = %v", tt.status, got)
		}
	}
}

func TestStream_ReturnsRawBody(t *testing.T) {
	var accept, path string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		path = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"type\":\"heartbeat\",\"status\":\"building\"}\n\n"))
	}, WithToken("t"))

	body, err := c.StreamDeploymentLogs(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("StreamDeploymentLogs() error = %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if !strings.HasPrefix(string(data), "data: ") {
		t.Errorf("body = %q", data)
	}
	if accept != "text/event-stream" {
		t.Errorf("Accept = %q", accept)
	}
	if path != "/api/v1/deployments/d-1/logs/stream" {
		t.Errorf("path = %q", path)
	}
}

func TestEndpoints_RequireToken(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	if _, err := c.GetDeploymentStatus(context.Background(), "d-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("GetDeploymentStatus() error = %v, want ErrUnauthenticated", err)
	}
	_, err := c.StreamDeploymentLogs(context.Background(), "d-1")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("StreamDeploymentLogs() error = %v, want ErrUnauthenticated", err)
	}
	if resilience.IsRetryable(err) {
		t.Error("missing token reported as retryable")
	}
	if calls != 0 {
		t.Errorf("server saw %d calls without a token", calls)
	}
}

func TestRedeploy_SendsBody(t *testing.T) {
	var gotBody string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		if r.URL.Path != "/api/v1/deployments/redeploy" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"id":"d-2","status":"pending"}`))
	}, WithToken("t"))

	resp, err := c.Redeploy(context.Background(), "p-1", "d-1")
	if err != nil {
		t.Fatalf("Redeploy() error = %v", err)
	}
	if resp.TargetID("d-1") != "d-2" {
		t.Errorf("TargetID() = %q, want d-2", resp.TargetID("d-1"))
	}
	if !strings.Contains(gotBody, `"project_id":"p-1"`) || !strings.Contains(gotBody, `"deployment_id":"d-1"`) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestActionResponse_TargetIDFallback(t *testing.T) {
	if got := (ActionResponse{}).TargetID("d-1"); got != "d-1" {
		t.Errorf("TargetID() = %q, want fallback", got)
	}
	if got := (ActionResponse{ID: "x", DeploymentID: "d-9"}).TargetID("d-1"); got != "d-9" {
		t.Errorf("TargetID() = %q, want deployment_id", got)
	}
}
