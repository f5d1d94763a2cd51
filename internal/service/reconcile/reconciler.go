// Package reconcile converges persisted deployment rows with the provider's
// view of each deployment.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/provider/vercel"
	"github.com/zakisheriff/One-Deploy/internal/repository"
	"github.com/zakisheriff/One-Deploy/internal/service/logs"
)

const logSource = "reconcile"

// Provider fetches a deployment's current state.
type Provider interface {
	GetDeployment(ctx context.Context, id string) (vercel.DeploymentResult, error)
}

// LogEmitter records user-facing progress lines.
type LogEmitter interface {
	Emit(ctx context.Context, projectID, source, level, message string)
}

// Observation is the outcome of one reconciliation tick.
type Observation struct {
	DeploymentID  string                  `json:"deploymentId"`
	VercelID      string                  `json:"vercelDeploymentId"`
	ProjectID     string                  `json:"projectId"`
	ProviderState string                  `json:"providerState,omitempty"`
	Status        domain.DeploymentStatus `json:"status"`
	URL           string                  `json:"url,omitempty"`
	Terminal      bool                    `json:"terminal"`
	Changed       bool                    `json:"changed"`
	Failure       string                  `json:"failure,omitempty"`
}

// Reconciler applies provider state to deployment rows.
type Reconciler struct {
	deployments repository.DeploymentRepository
	projects    repository.ProjectRepository
	provider    Provider
	logs        LogEmitter
	logger      *slog.Logger
}

// New constructs a Reconciler.
func New(deployments repository.DeploymentRepository, projects repository.ProjectRepository, provider Provider, logSvc LogEmitter, logger *slog.Logger) Reconciler {
	return Reconciler{
		deployments: deployments,
		projects:    projects,
		provider:    provider,
		logs:        logSvc,
		logger:      logger.With("component", "reconcile"),
	}
}

// MapReadyState translates a provider readyState into a local status.
// Unknown states are treated as still building.
func MapReadyState(state string) domain.DeploymentStatus {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "QUEUED", "INITIALIZING":
		return domain.StatusQueued
	case "READY":
		return domain.StatusReady
	case "ERROR":
		return domain.StatusError
	case "CANCELED":
		return domain.StatusCanceled
	default:
		return domain.StatusBuilding
	}
}

// NormalizeURL prefixes a bare host with https.
func NormalizeURL(host string) string {
	host = strings.TrimSpace(host)
	if host == "" || strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}

// Tick performs one reconciliation step for the deployment with the given
// provider id. Terminal rows are returned as-is without contacting the
// provider. Transport failures are returned as errors; provider-reported
// failures end the observation without touching the row.
func (r Reconciler) Tick(ctx context.Context, vercelID string) (Observation, error) {
	vercelID = strings.TrimSpace(vercelID)
	if vercelID == "" {
		return Observation{}, fmt.Errorf("%w: deployment id is required", domain.ErrInvalidArgument)
	}
	dep, err := r.deployments.GetDeploymentByVercelID(ctx, vercelID)
	if err != nil {
		return Observation{}, err
	}
	return r.tick(ctx, *dep)
}

// Observe is Tick restricted to deployments of projects the user owns.
func (r Reconciler) Observe(ctx context.Context, userID, vercelID string) (Observation, error) {
	dep, err := r.owned(ctx, userID, vercelID)
	if err != nil {
		return Observation{}, err
	}
	return r.tick(ctx, *dep)
}

func (r Reconciler) tick(ctx context.Context, dep domain.Deployment) (Observation, error) {
	obs := Observation{
		DeploymentID: dep.ID,
		VercelID:     dep.VercelID,
		ProjectID:    dep.ProjectID,
		Status:       dep.Status,
		URL:          dep.URL,
	}
	if dep.Status.IsTerminal() {
		obs.Terminal = true
		return obs, nil
	}

	result, err := r.provider.GetDeployment(ctx, dep.VercelID)
	if err != nil {
		r.logger.Warn("provider fetch failed", "vercel_id", dep.VercelID, "error", err)
		return obs, err
	}
	if result.Failed() {
		obs.Failure = result.Failure.Message
		r.logger.Warn("provider reported deployment failure", "vercel_id", dep.VercelID, "error", result.Failure)
		update := domain.DeploymentStatusUpdate{DeploymentID: dep.ID, Status: domain.StatusError}
		if err := r.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
			r.logger.Error("failed to persist deployment status", "deployment_id", dep.ID, "status", update.Status, "error", err)
			return obs, err
		}
		obs.Status = domain.StatusError
		obs.Changed = true
		obs.Terminal = true
		r.emit(ctx, dep.ProjectID, logs.LevelError, "Deployment failed: "+result.Failure.Message)
		return obs, nil
	}

	state := result.Deployment.ReadyState
	status := MapReadyState(state)
	obs.ProviderState = state
	obs.Terminal = status.IsTerminal()
	if status == dep.Status {
		return obs, nil
	}
	// BUILDING never moves back to QUEUED.
	if dep.Status == domain.StatusBuilding && status == domain.StatusQueued {
		return obs, nil
	}

	update := domain.DeploymentStatusUpdate{DeploymentID: dep.ID, Status: status}
	if status == domain.StatusReady {
		update.URL = NormalizeURL(result.Deployment.URL)
	}
	if err := r.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		r.logger.Error("failed to persist deployment status", "deployment_id", dep.ID, "status", status, "error", err)
		return obs, err
	}
	obs.Status = status
	obs.Changed = true
	if update.URL != "" {
		obs.URL = update.URL
	}
	r.logger.Info("deployment status changed", "deployment_id", dep.ID, "vercel_id", dep.VercelID, "from", dep.Status, "to", status)

	switch status {
	case domain.StatusBuilding:
		r.emit(ctx, dep.ProjectID, logs.LevelInfo, "Building...")
	case domain.StatusReady:
		r.emit(ctx, dep.ProjectID, logs.LevelInfo, "Your site is live at: "+obs.URL)
	case domain.StatusError:
		r.emit(ctx, dep.ProjectID, logs.LevelError, "Deployment failed")
	case domain.StatusCanceled:
		r.emit(ctx, dep.ProjectID, logs.LevelError, "Deployment canceled")
	}
	return obs, nil
}

// UpdateStatus writes a client-reported status for a deployment the user owns.
func (r Reconciler) UpdateStatus(ctx context.Context, userID, vercelID, status, url string) (domain.Deployment, error) {
	parsed, ok := domain.ParseDeploymentStatus(status)
	if !ok {
		return domain.Deployment{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, status)
	}
	dep, err := r.owned(ctx, userID, vercelID)
	if err != nil {
		return domain.Deployment{}, err
	}
	update := domain.DeploymentStatusUpdate{DeploymentID: dep.ID, Status: parsed, URL: strings.TrimSpace(url)}
	if err := r.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		return domain.Deployment{}, err
	}
	dep.Status = parsed
	if update.URL != "" {
		dep.URL = update.URL
	}
	r.logger.Info("deployment status set by client", "deployment_id", dep.ID, "status", parsed, "user_id", userID)
	return *dep, nil
}

func (r Reconciler) owned(ctx context.Context, userID, vercelID string) (*domain.Deployment, error) {
	vercelID = strings.TrimSpace(vercelID)
	if vercelID == "" {
		return nil, fmt.Errorf("%w: deployment id is required", domain.ErrInvalidArgument)
	}
	dep, err := r.deployments.GetDeploymentByVercelID(ctx, vercelID)
	if err != nil {
		return nil, err
	}
	project, err := r.projects.GetProjectByID(ctx, dep.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if project.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return dep, nil
}

func (r Reconciler) emit(ctx context.Context, projectID, level, message string) {
	if r.logs == nil {
		return
	}
	r.logs.Emit(ctx, projectID, logSource, level, message)
}
