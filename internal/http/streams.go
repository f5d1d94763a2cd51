package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zakisheriff/One-Deploy/internal/service/logs"
	"github.com/zakisheriff/One-Deploy/internal/ws"
)

const (
	defaultLogLimit   = 100
	maxLogLimit       = 1000
	sseHeartbeatEvery = 15 * time.Second
)

// handleProjectLogs returns persisted log lines, or streams new ones as
// server-sent events when the client asks for text/event-stream.
func (r *Router) handleProjectLogs(w http.ResponseWriter, req *http.Request, name string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	project, err := r.deploy.OwnedProject(req.Context(), caller.UserID, name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if strings.Contains(req.Header.Get("Accept"), "text/event-stream") {
		r.streamLogs(w, req, project.ID)
		return
	}

	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	entries, err := r.logs.List(req.Context(), project.ID, limit, offset)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, logs.EntryPayload(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": payload})
}

func (r *Router) streamLogs(w http.ResponseWriter, req *http.Request, projectID string) {
	flusher, ok := w.(http.Flusher)
	if !ok || r.logs.Hub() == nil {
		writeError(w, http.StatusNotImplemented, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, "log", r.logger)
	hub := r.logs.Hub()
	hub.Register(projectID, client)
	defer func() {
		hub.Unregister(projectID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	name := req.URL.Query().Get("project")
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, "project query parameter required")
		return
	}
	project, err := r.deploy.OwnedProject(req.Context(), caller.UserID, name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	hub := r.logs.Hub()
	if hub == nil {
		writeError(w, http.StatusNotImplemented, "streaming unsupported")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(project.ID, client)
	go func() {
		defer func() {
			hub.Unregister(project.ID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
