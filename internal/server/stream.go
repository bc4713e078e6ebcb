package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mergeboard/internal/hosting"
)

const (
	// PipelineUpdateEvent names the server-sent event carrying a status.
	PipelineUpdateEvent = "pipelineUpdate"

	// HeartbeatInterval keeps idle proxies from closing the stream.
	HeartbeatInterval = 25 * time.Second
)

// HandleEvents streams every relayed pipeline status as a server-sent event
// until the viewer disconnects. ?project_id= limits the stream to one
// project. A viewer that falls behind skips to the newest status.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var projectID int64
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid project_id %q", raw))
			return
		}
		projectID = id
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise end the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.Logger.Error("Live channel does not support streaming", "error", err)
		return
	}

	mailbox, sub := s.Relay.SubscribeMailbox(func(status hosting.PipelineStatus) bool {
		return projectID == 0 || status.ProjectID == projectID
	})
	defer sub.Unsubscribe()

	s.Logger.Info("Live channel viewer connected", "project_id", projectID, "subscribers", s.Relay.Subscribers())
	defer s.Logger.Info("Live channel viewer disconnected", "project_id", projectID)

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case status := <-mailbox.C():
			data, err := json.Marshal(status)
			if err != nil {
				s.Logger.Error("Failed to encode pipeline status", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", PipelineUpdateEvent, data); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
