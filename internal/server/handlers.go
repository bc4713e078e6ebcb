package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v57/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"mergeboard/internal/hosting"
	"mergeboard/internal/webhook"
)

const (
	MaxPayloadBytes = 1_000_000 // 1 MB

	gitlabTokenHeader     = "X-Gitlab-Token"
	githubSignatureHeader = "X-Hub-Signature-256"
)

// HandleGitLabWebhook handles GitLab pipeline hooks. The token is checked
// before the body is read; once it matches, every outcome except an
// oversized body is a 200 so GitLab does not retry.
func (s *Server) HandleGitLabWebhook(w http.ResponseWriter, r *http.Request) {
	settings := s.Webhook.Load()

	if !webhook.TokenMatches(r.Header.Get(gitlabTokenHeader), settings.Secret) {
		s.Logger.Warn("Rejected pipeline webhook", "reason", "invalid token", "ip", r.RemoteAddr)
		s.respondError(w, http.StatusUnauthorized, "Invalid webhook token")
		return
	}

	if event := gitlab.HookEventType(r); event != gitlab.EventTypePipeline {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-pipeline event"})
		return
	}

	body, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	status, err := webhook.ParseGitLabPipeline(body)
	if err != nil {
		s.Logger.Warn("Malformed pipeline webhook", "error", err)
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Malformed payload, skipping"})
		return
	}

	s.acceptPipeline(w, settings, status)
}

// HandleGitHubWebhook handles GitHub workflow_run deliveries signed with the
// shared secret.
func (s *Server) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	settings := s.Webhook.Load()

	body, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	if !webhook.VerifySignature(body, r.Header.Get(githubSignatureHeader), settings.Secret) {
		s.Logger.Warn("Rejected pipeline webhook", "reason", "invalid signature", "ip", r.RemoteAddr)
		s.respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	if event := github.WebHookType(r); event != webhook.EventWorkflowRun {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-workflow_run event"})
		return
	}

	status, err := webhook.ParseGitHubWorkflowRun(body)
	if err != nil {
		s.Logger.Warn("Malformed workflow_run webhook", "error", err)
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Malformed payload, skipping"})
		return
	}

	s.acceptPipeline(w, settings, status)
}

// readPayload reads at most MaxPayloadBytes. It writes the response itself
// and returns false when the body cannot be used.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	// ContentLength can be -1 if not set; MaxBytesReader covers that case.
	if r.ContentLength > MaxPayloadBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return nil, false
		}
		s.Logger.Warn("Failed to read webhook body", "error", err)
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Unreadable payload, skipping"})
		return nil, false
	}
	return body, true
}

// acceptPipeline applies the branch filter and publishes main-branch
// pipelines to the relay.
func (s *Server) acceptPipeline(w http.ResponseWriter, settings webhook.Settings, status *hosting.PipelineStatus) {
	if !settings.IsMainBranch(status.Ref) {
		s.Logger.Debug("Ignoring pipeline on non-main branch", "ref", status.Ref, "pipeline_id", status.ID)
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not a main branch, skipping"})
		return
	}

	s.Relay.Publish(*status)
	s.Logger.Info("Pipeline status published",
		"project_id", status.ProjectID,
		"pipeline_id", status.ID,
		"status", status.Status,
		"ref", status.Ref,
		"subscribers", s.Relay.Subscribers())

	s.respondJSON(w, http.StatusOK, map[string]any{
		"message":     "Pipeline status published",
		"pipeline_id": status.ID,
	})
}

// HandleStatus returns the latest relayed pipeline status, or {} before the
// first webhook.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.Relay.Latest()
	if !ok {
		s.respondJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.respondJSON(w, http.StatusOK, latest)
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_, hasStatus := s.Relay.Latest()

	response := map[string]any{
		"status":      "ok",
		"provider":    s.Clients.Provider(),
		"subscribers": s.Relay.Subscribers(),
		"has_status":  hasStatus,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	respondJSON(s.Logger, w, statusCode, data)
}

// respondError sends {"error": message}
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	respondError(s.Logger, w, statusCode, message)
}

// respondHostingError maps a hosting failure to its status code and logs it.
func (s *Server) respondHostingError(w http.ResponseWriter, op string, err error) {
	status := hosting.HTTPStatus(err)
	s.Logger.Warn("Hosting request failed", "op", op, "error_kind", hosting.KindOf(err), "status", status, "error", err)
	s.respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  hosting.KindOf(err),
	})
}

func respondJSON(logger *slog.Logger, w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}

func respondError(logger *slog.Logger, w http.ResponseWriter, statusCode int, message string) {
	respondJSON(logger, w, statusCode, map[string]string{"error": message})
}
