package domain

import (
	"strings"
	"time"
)

// DeploymentStatus enumerates the local deployment lifecycle.
type DeploymentStatus string

const (
	StatusQueued   DeploymentStatus = "QUEUED"
	StatusBuilding DeploymentStatus = "BUILDING"
	StatusReady    DeploymentStatus = "READY"
	StatusError    DeploymentStatus = "ERROR"
	StatusCanceled DeploymentStatus = "CANCELED"
)

// IsTerminal reports whether no further transitions are expected.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case StatusReady, StatusError, StatusCanceled:
		return true
	}
	return false
}

// ParseDeploymentStatus validates a status string against the enumeration.
func ParseDeploymentStatus(value string) (DeploymentStatus, bool) {
	status := DeploymentStatus(strings.ToUpper(strings.TrimSpace(value)))
	switch status {
	case StatusQueued, StatusBuilding, StatusReady, StatusError, StatusCanceled:
		return status, true
	}
	return "", false
}

// Deployment captures a single deployment attempt at the provider.
// VercelID is empty when the provider issued no identifier.
type Deployment struct {
	ID        string
	VercelID  string
	Status    DeploymentStatus
	URL       string
	ProjectID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeploymentStatusUpdate captures mutable fields for a deployment.
// An empty URL leaves the stored value untouched.
type DeploymentStatusUpdate struct {
	DeploymentID string
	Status       DeploymentStatus
	URL          string
}
