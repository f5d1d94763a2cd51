package domain

import "time"

// ProjectLog represents a deployment progress line for a project.
type ProjectLog struct {
	ID        int64
	ProjectID string
	Source    string
	Level     string
	Message   string
	CreatedAt time.Time
}
