package logs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"log/slog"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/repository"
	"github.com/zakisheriff/One-Deploy/internal/ws"
)

// Log levels used for deployment progress lines.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Service handles deployment log persistence and streaming.
type Service struct {
	repo   repository.LogRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a log service.
func New(repo repository.LogRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger.With("component", "logs")}
}

// Append stores and broadcasts a log entry.
func (s Service) Append(ctx context.Context, entry domain.ProjectLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if strings.TrimSpace(entry.Level) == "" {
		entry.Level = LevelInfo
	}
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		return err
	}
	s.broadcast(entry)
	return nil
}

// Emit records a progress line without failing the caller; persistence
// errors are logged.
func (s Service) Emit(ctx context.Context, projectID, source, level, message string) {
	if s.repo == nil || projectID == "" {
		return
	}
	entry := domain.ProjectLog{ProjectID: projectID, Source: source, Level: level, Message: message}
	if err := s.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to record deployment log", "project_id", projectID, "error", err)
	}
}

// List returns logs for a project, newest first.
func (s Service) List(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	return s.repo.ListLogsByProject(ctx, projectID, limit, offset)
}

func (s Service) broadcast(entry domain.ProjectLog) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEntry(entry)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(entry.ProjectID, data)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEntry formats a project log for streaming payloads.
func MarshalEntry(entry domain.ProjectLog) ([]byte, error) {
	return json.Marshal(EntryPayload(entry))
}

// EntryPayload is the JSON shape of a log line.
func EntryPayload(entry domain.ProjectLog) map[string]any {
	return map[string]any{
		"id":        entry.ID,
		"projectId": entry.ProjectID,
		"source":    entry.Source,
		"level":     entry.Level,
		"message":   entry.Message,
		"createdAt": entry.CreatedAt.Format(time.RFC3339Nano),
	}
}
