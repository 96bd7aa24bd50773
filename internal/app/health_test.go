package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestHTTPServer(checks map[string]Pinger) (*HTTPServer, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewHTTPServer(checks, zerolog.New(&buf)), &buf
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestHTTPServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server, _ := newTestHTTPServer(map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return nil }),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["ok"] != true {
		t.Errorf("expected ok=true, got %v", response["ok"])
	}
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}

	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks to be a map, got %T", response["checks"])
	}
	for _, name := range []string{"database", "redis"} {
		check, ok := checks[name].(map[string]any)
		if !ok {
			t.Fatalf("expected %s check to be a map, got %T", name, checks[name])
		}
		if check["status"] != "ok" {
			t.Errorf("expected %s status=ok, got %v", name, check["status"])
		}
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	server, logs := newTestHTTPServer(map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"redis":    PingFunc(func(context.Context) error { return nil }),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["ok"] != false {
		t.Errorf("expected ok=false, got %v", response["ok"])
	}
	if response["status"] != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", response["status"])
	}

	checks := response["checks"].(map[string]any)
	dbCheck := checks["database"].(map[string]any)
	if dbCheck["status"] != "error" {
		t.Errorf("expected database status=error, got %v", dbCheck["status"])
	}
	if dbCheck["error"] != "connection refused" {
		t.Errorf("expected error message, got %v", dbCheck["error"])
	}
	if redisCheck := checks["redis"].(map[string]any); redisCheck["status"] != "ok" {
		t.Errorf("expected redis status=ok, got %v", redisCheck["status"])
	}
	if !bytes.Contains(logs.Bytes(), []byte("readiness check failed")) {
		t.Errorf("expected failed check to be logged, got %s", logs.String())
	}
}

func TestReadyEndpoint_NoChecks(t *testing.T) {
	server, _ := newTestHTTPServer(nil)

	req := httptest.NewRequest(http.MethodHead, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestHealthEndpoint_RejectsPost(t *testing.T) {
	server, _ := newTestHTTPServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _ := newTestHTTPServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestMiddlewareEchoesRequestID(t *testing.T) {
	server, logs := newTestHTTPServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected X-Request-ID req-123, got %q", got)
	}

	var entry map[string]any
	if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	if entry["request_id"] != "req-123" || entry["path"] != "/api/health" {
		t.Errorf("unexpected log entry: %v", entry)
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("expected logged status 200, got %v", entry["status"])
	}
}

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	server, _ := newTestHTTPServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); len(got) != 16 {
		t.Errorf("expected 16-char generated request id, got %q", got)
	}
}

func TestWriteDomainError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteDomainError(rr, workspaceNotFound(uuid.New()))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["code"] != CodeWorkspaceNotFound {
		t.Errorf("expected code %s, got %v", CodeWorkspaceNotFound, body["code"])
	}

	rr = httptest.NewRecorder()
	WriteDomainError(rr, errors.New("boom"))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
}
