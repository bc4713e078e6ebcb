package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"mergeboard/internal/audit"
	"mergeboard/internal/hosting"
	"mergeboard/internal/trigger"
)

// MaxRequestBytes bounds operator request bodies.
const MaxRequestBytes = 64 << 10

type triggerRequest struct {
	Credential string `json:"credential"`
	// GitLabToken is the field name older UI builds send.
	GitLabToken string `json:"gitlabToken"`
}

type mergeRequest struct {
	IDs    []int64  `json:"ids"`
	Labels []string `json:"labels"`
}

// HandleTrigger starts a manual stage on the main branch. Any failure after
// validation is a 500 carrying the error message.
func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectID(w, r)
	if !ok {
		return
	}
	stage := chi.URLParam(r, "stage")

	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	credential := req.Credential
	if credential == "" {
		credential = req.GitLabToken
	}
	if credential == "" {
		credential = operatorCredential(r)
	}

	client, err := s.Clients.ForCredential(credential)
	if err != nil {
		s.Logger.Warn("Stage trigger failed", "project_id", projectID, "stage", stage, "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.Triggers.TriggerStage(r.Context(), client, projectID, stage)
	if err != nil {
		if errors.Is(err, trigger.ErrInvalidStage) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

// HandleListProjects lists the projects the operator credential can see.
func (s *Server) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	client, ok := s.operatorClient(w, r)
	if !ok {
		return
	}

	projects, err := client.ListProjects(r.Context())
	if err != nil {
		s.respondHostingError(w, "list projects", err)
		return
	}
	s.respondJSON(w, http.StatusOK, projects)
}

// HandleListLabels lists the labels of a project.
func (s *Server) HandleListLabels(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectID(w, r)
	if !ok {
		return
	}
	client, ok := s.operatorClient(w, r)
	if !ok {
		return
	}

	labels, err := client.ListLabels(r.Context(), projectID)
	if err != nil {
		s.respondHostingError(w, "list labels", err)
		return
	}
	s.respondJSON(w, http.StatusOK, labels)
}

// HandleListChangeRequests lists open change requests carrying every label
// in ?labels=a,b.
func (s *Server) HandleListChangeRequests(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectID(w, r)
	if !ok {
		return
	}
	client, ok := s.operatorClient(w, r)
	if !ok {
		return
	}

	requests, err := client.ListOpenChangeRequests(r.Context(), projectID, SplitList(r.URL.Query().Get("labels")))
	if err != nil {
		s.respondHostingError(w, "list change requests", err)
		return
	}
	s.respondJSON(w, http.StatusOK, requests)
}

// HandleMerge merges the selected change requests. The selection is resolved
// against a fresh listing with the given label filter; IDs not in it are
// dropped. The response is 200 with per-item outcomes even when some merges
// fail.
func (s *Server) HandleMerge(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectID(w, r)
	if !ok {
		return
	}

	var req mergeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		s.respondError(w, http.StatusBadRequest, "ids must list at least one change request")
		return
	}

	client, ok := s.operatorClient(w, r)
	if !ok {
		return
	}

	listing, err := client.ListOpenChangeRequests(r.Context(), projectID, req.Labels)
	if err != nil {
		s.respondHostingError(w, "list change requests", err)
		return
	}

	result := s.Merges.MergeSelected(r.Context(), client, projectID, listing, req.IDs)
	s.respondJSON(w, http.StatusOK, result)
}

// HandleLatestPipeline fetches the newest main-branch pipeline from the
// hosting service.
func (s *Server) HandleLatestPipeline(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectID(w, r)
	if !ok {
		return
	}
	client, ok := s.operatorClient(w, r)
	if !ok {
		return
	}

	pipeline, err := client.LatestPipeline(r.Context(), projectID)
	if err != nil {
		s.respondHostingError(w, "latest pipeline", err)
		return
	}
	s.respondJSON(w, http.StatusOK, pipeline)
}

// HandleAuditMerges returns recent merge outcomes from the audit journal.
func (s *Server) HandleAuditMerges(w http.ResponseWriter, r *http.Request) {
	projectID, limit, ok := s.auditQuery(w, r)
	if !ok {
		return
	}

	records, err := s.Journal.RecentMerges(r.Context(), projectID, limit)
	if err != nil {
		s.Logger.Error("Failed to read merge journal", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to read audit journal")
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

// HandleAuditTriggers returns recent stage triggers from the audit journal.
func (s *Server) HandleAuditTriggers(w http.ResponseWriter, r *http.Request) {
	projectID, limit, ok := s.auditQuery(w, r)
	if !ok {
		return
	}

	records, err := s.Journal.RecentTriggers(r.Context(), projectID, limit)
	if err != nil {
		s.Logger.Error("Failed to read trigger journal", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to read audit journal")
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

func (s *Server) auditQuery(w http.ResponseWriter, r *http.Request) (projectID int64, limit int, ok bool) {
	if s.Journal == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Audit journal is disabled")
		return 0, 0, false
	}

	query := r.URL.Query()
	if raw := query.Get("project_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid project_id %q", raw))
			return 0, 0, false
		}
		projectID = id
	}

	limit = audit.DefaultLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit %q", raw))
			return 0, 0, false
		}
		limit = n
	}
	return projectID, limit, true
}

// operatorClient builds a hosting client from the request credential,
// answering 401 when there is none.
func (s *Server) operatorClient(w http.ResponseWriter, r *http.Request) (hosting.Client, bool) {
	credential := operatorCredential(r)
	if credential == "" {
		s.respondError(w, http.StatusUnauthorized, "Missing credential")
		return nil, false
	}

	client, err := s.Clients.ForCredential(credential)
	if err != nil {
		s.respondHostingError(w, "create client", err)
		return nil, false
	}
	return client, true
}

func (s *Server) projectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "projectId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid project id %q", raw))
		return 0, false
	}
	return id, true
}

// operatorCredential reads "Authorization: Bearer <token>", then
// PRIVATE-TOKEN.
func operatorCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("PRIVATE-TOKEN"))
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves
// dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
