package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mergeboard/internal/hosting"
	"mergeboard/internal/webhook"
)

const pipelineHook = `{
  "object_kind": "pipeline",
  "object_attributes": {
    "id": 31,
    "ref": "%s",
    "sha": "bcbb5ec396a2c0f828686f14fac9b80b780504f2",
    "status": "running",
    "stages": ["build", "test"],
    "created_at": "2016-08-12 15:23:28 UTC"
  },
  "project": {"id": 7, "web_url": "https://gitlab.example.com/acme/app"},
  "builds": [
    {"id": 1, "stage": "build", "name": "compile", "status": "success"},
    {"id": 2, "stage": "test", "name": "unit", "status": "running"}
  ]
}`

const workflowRun = `{
  "action": "completed",
  "workflow_run": {
    "id": 30433642,
    "name": "CI",
    "head_branch": "%s",
    "head_sha": "acb5820ced9479c074f688cc328bf03f341a511d",
    "status": "completed",
    "conclusion": "failure",
    "html_url": "https://github.com/acme/app/actions/runs/30433642",
    "created_at": "2024-03-01T10:00:00Z",
    "updated_at": "2024-03-01T10:05:00Z"
  },
  "repository": {"id": 99, "full_name": "acme/app"}
}`

func gitlabHookRequest(body, token, event string) *http.Request {
	req := httptest.NewRequest("POST", "/webhook/pipeline", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Gitlab-Token", token)
	}
	if event != "" {
		req.Header.Set("X-Gitlab-Event", event)
	}
	return req
}

func hookBody(template, ref string) string {
	return strings.Replace(template, "%s", ref, 1)
}

func decodeMessage(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Response is not JSON: %v (%s)", err, rr.Body.String())
	}
	return response
}

func TestGitLabWebhook_InvalidToken(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	called := 0
	server.Relay.Subscribe(func(hosting.PipelineStatus) { called++ })

	for _, token := range []string{"", "wrong-token", testSecret + "x"} {
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, gitlabHookRequest(hookBody(pipelineHook, "master"), token, "Pipeline Hook"))

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: expected status 401, got %d", token, rr.Code)
		}
		if got := decodeMessage(t, rr)["error"]; got != "Invalid webhook token" {
			t.Errorf("token %q: expected 'Invalid webhook token', got %v", token, got)
		}
	}

	if called != 0 {
		t.Errorf("Expected no subscriber calls, got %d", called)
	}
	if _, ok := server.Relay.Latest(); ok {
		t.Error("Relay must stay empty after rejected webhooks")
	}
}

func TestGitLabWebhook_NonPipelineEvent(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, gitlabHookRequest(`{"object_kind":"push"}`, testSecret, "Push Hook"))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if _, ok := server.Relay.Latest(); ok {
		t.Error("Non-pipeline events must not reach the relay")
	}
}

func TestGitLabWebhook_NonMainBranch(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	called := 0
	server.Relay.Subscribe(func(hosting.PipelineStatus) { called++ })

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, gitlabHookRequest(hookBody(pipelineHook, "feature-x"), testSecret, "Pipeline Hook"))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if got := decodeMessage(t, rr)["message"]; got != "Not a main branch, skipping" {
		t.Errorf("Unexpected message %v", got)
	}
	if called != 0 {
		t.Errorf("Expected no subscriber calls, got %d", called)
	}
	if _, ok := server.Relay.Latest(); ok {
		t.Error("Relay must stay empty for non-main branches")
	}
}

func TestGitLabWebhook_MainBranchPublishes(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	var order []string
	var received hosting.PipelineStatus
	server.Relay.Subscribe(func(s hosting.PipelineStatus) {
		order = append(order, "first")
		received = s
	})
	server.Relay.Subscribe(func(hosting.PipelineStatus) { order = append(order, "second") })

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, gitlabHookRequest(hookBody(pipelineHook, "master"), testSecret, "Pipeline Hook"))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Join(order, ",") != "first,second" {
		t.Errorf("Expected subscribers in registration order, got %v", order)
	}

	if received.ID != 31 || received.Status != hosting.StatusRunning || received.Ref != "master" {
		t.Errorf("Unexpected status %+v", received)
	}
	if received.ProjectID != 7 {
		t.Errorf("Expected project 7, got %d", received.ProjectID)
	}
	if received.WebURL != "https://gitlab.example.com/acme/app/-/pipelines/31" {
		t.Errorf("Unexpected web_url %q", received.WebURL)
	}
	if len(received.Stages) != 2 || received.Stages[1].Status != hosting.StatusRunning {
		t.Errorf("Unexpected stages %+v", received.Stages)
	}

	latest, ok := server.Relay.Latest()
	if !ok || latest.ID != 31 {
		t.Errorf("Expected relay to hold pipeline 31, got %+v (ok=%v)", latest, ok)
	}
}

func TestGitLabWebhook_MalformedPayload(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	for _, body := range []string{`{`, `{}`, `{"object_kind":"pipeline","object_attributes":{"id":0}}`} {
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, gitlabHookRequest(body, testSecret, "Pipeline Hook"))

		if rr.Code != http.StatusOK {
			t.Errorf("body %q: expected status 200, got %d", body, rr.Code)
		}
		if got := decodeMessage(t, rr)["message"]; got != "Malformed payload, skipping" {
			t.Errorf("body %q: unexpected message %v", body, got)
		}
	}

	if _, ok := server.Relay.Latest(); ok {
		t.Error("Malformed payloads must not reach the relay")
	}
}

func TestGitLabWebhook_PayloadTooLarge(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	// Create payload larger than 1MB
	largePayload := make([]byte, MaxPayloadBytes+1)

	req := httptest.NewRequest("POST", "/webhook/pipeline", bytes.NewReader(largePayload))
	req.Header.Set("X-Gitlab-Token", testSecret)
	req.Header.Set("X-Gitlab-Event", "Pipeline Hook")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}

func TestGitLabWebhook_SettingsReload(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	server.Webhook.Update(webhook.Settings{Secret: "rotated-secret", MainBranches: []string{"trunk"}})

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, gitlabHookRequest(hookBody(pipelineHook, "trunk"), testSecret, "Pipeline Hook"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Old secret: expected status 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	server.Router().ServeHTTP(rr, gitlabHookRequest(hookBody(pipelineHook, "trunk"), "rotated-secret", "Pipeline Hook"))
	if rr.Code != http.StatusOK {
		t.Errorf("New secret: expected status 200, got %d", rr.Code)
	}
	if _, ok := server.Relay.Latest(); !ok {
		t.Error("Expected trunk pipeline to be published")
	}
}

func TestGitHubWebhook(t *testing.T) {
	tests := []struct {
		name        string
		branch      string
		event       string
		secret      string
		wantCode    int
		wantPublish bool
	}{
		{"main branch", "main", "workflow_run", testSecret, http.StatusOK, true},
		{"other branch", "feature", "workflow_run", testSecret, http.StatusOK, false},
		{"other event", "main", "push", testSecret, http.StatusOK, false},
		{"bad signature", "main", "workflow_run", "wrong-secret", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _, _ := setupTestServer(t, nil)
			body := []byte(hookBody(workflowRun, tt.branch))

			req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-GitHub-Event", tt.event)
			req.Header.Set("X-Hub-Signature-256", webhook.Sign(body, tt.secret))

			rr := httptest.NewRecorder()
			server.Router().ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
			latest, ok := server.Relay.Latest()
			if ok != tt.wantPublish {
				t.Fatalf("Expected publish=%v, got %v", tt.wantPublish, ok)
			}
			if ok && (latest.Status != hosting.StatusFailed || latest.ProjectID != 99) {
				t.Errorf("Unexpected status %+v", latest)
			}
		})
	}
}

func TestHandleStatus_Empty(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	req := httptest.NewRequest("GET", "/api/pipeline/status", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "{}" {
		t.Errorf("Expected {}, got %s", body)
	}
}

func TestHandleStatus_Latest(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)
	server.Relay.Publish(hosting.PipelineStatus{ID: 1, Status: hosting.StatusRunning, Ref: "main"})
	server.Relay.Publish(hosting.PipelineStatus{ID: 2, Status: hosting.StatusSuccess, Ref: "main"})

	req := httptest.NewRequest("GET", "/api/pipeline/status", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	var status hosting.PipelineStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.ID != 2 || status.Status != hosting.StatusSuccess {
		t.Errorf("Expected pipeline 2 success, got %+v", status)
	}
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)
	server.Relay.Subscribe(func(hosting.PipelineStatus) {})

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	response := decodeMessage(t, rr)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", response["status"])
	}
	if response["provider"] != "gitlab" {
		t.Errorf("Expected provider 'gitlab', got %v", response["provider"])
	}
	if response["subscribers"] != float64(1) {
		t.Errorf("Expected 1 subscriber, got %v", response["subscribers"])
	}
	if response["has_status"] != false {
		t.Errorf("Expected has_status false, got %v", response["has_status"])
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _, _ := setupTestServer(t, nil)

	req := httptest.NewRequest("OPTIONS", "/api/projects", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Expected allowed origin, got %q", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := NewRateLimitMiddleware("test", 2, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "203.0.113.9"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Unexpected status codes %v", codes)
	}

	// Other clients have their own bucket.
	req := httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "198.51.100.4"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected a fresh bucket for another IP, got %d", rr.Code)
	}
}
