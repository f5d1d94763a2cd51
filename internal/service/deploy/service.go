package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/provider/vercel"
	"github.com/zakisheriff/One-Deploy/internal/repository"
	"github.com/zakisheriff/One-Deploy/internal/service/logs"
)

const (
	logSource         = "deploy"
	deploymentHistory = 10
)

// Provider is the subset of the hosting provider API the orchestrator drives.
type Provider interface {
	CreateProject(ctx context.Context, name, repoFullName, framework string) (vercel.Project, error)
	TriggerDeployment(ctx context.Context, projectName string, repoID int64, branch string) (vercel.Deployment, error)
	CreateDeployment(ctx context.Context, projectName, repoFullName, branch, framework string) (vercel.Deployment, error)
	DeleteProject(ctx context.Context, name string) error
	AddDomain(ctx context.Context, projectName, name string) (vercel.Domain, error)
	ListDomains(ctx context.Context, projectName string) []vercel.Domain
	RemoveDomain(ctx context.Context, projectName, name string) error
}

// LogEmitter records user-facing deployment progress.
type LogEmitter interface {
	Emit(ctx context.Context, projectID, source, level, message string)
}

// Service turns deploy intents into consistent (Project, Deployment) pairs.
type Service struct {
	projects         repository.ProjectRepository
	deployments      repository.DeploymentRepository
	users            repository.UserRepository
	provider         Provider
	logs             LogEmitter
	logger           *slog.Logger
	defaultFramework string
	now              func() time.Time
}

// New returns a deployment service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, users repository.UserRepository, provider Provider, logSvc LogEmitter, logger *slog.Logger, defaultFramework string) Service {
	if strings.TrimSpace(defaultFramework) == "" {
		defaultFramework = domain.DefaultFramework
	}
	return Service{
		projects:         projects,
		deployments:      deployments,
		users:            users,
		provider:         provider,
		logs:             logSvc,
		logger:           logger.With("component", "deploy"),
		defaultFramework: defaultFramework,
		now:              time.Now,
	}
}

// DeployInput describes an interactive deploy request.
type DeployInput struct {
	UserID       string
	RepoName     string
	RepoFullName string
	RepoID       int64
	Branch       string
	Framework    string
}

// Result identifies the deployment a deploy call produced.
type Result struct {
	Project            domain.Project
	Deployment         domain.Deployment
	DeploymentID       string
	VercelDeploymentID string
}

// Deploy resolves or creates the project for a repository, triggers a
// deployment by repository id and records it. The caller owns reconciliation.
func (s Service) Deploy(ctx context.Context, in DeployInput) (Result, error) {
	name := domain.CanonicalName(in.RepoName)
	if name == "" {
		return Result{}, fmt.Errorf("%w: repository name is required", domain.ErrInvalidArgument)
	}
	if in.RepoID <= 0 {
		return Result{}, fmt.Errorf("%w: repository id is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return Result{}, domain.ErrUnauthorized
	}
	fullName, err := s.repoFullName(ctx, in)
	if err != nil {
		return Result{}, err
	}
	framework := strings.TrimSpace(in.Framework)
	if framework == "" {
		framework = s.defaultFramework
	}

	project, err := s.resolveProject(ctx, in.UserID, name, fullName, framework)
	if err != nil {
		return Result{}, err
	}

	dep, err := s.provider.TriggerDeployment(ctx, name, in.RepoID, in.Branch)
	if err != nil {
		s.logger.Error("deployment trigger failed", "project", name, "user_id", in.UserID, "error", err)
		s.logs.Emit(ctx, project.ID, logSource, logs.LevelError, "Deployment trigger failed: "+err.Error())
		return Result{}, fmt.Errorf("%w: %w", domain.ErrDeployTriggerFailed, err)
	}
	return s.record(ctx, *project, dep)
}

// RedeployFromPush triggers a deployment by repository full name for a
// project resolved from a push event.
func (s Service) RedeployFromPush(ctx context.Context, project domain.Project, repoFullName, branch string) (Result, error) {
	framework := project.Framework
	if framework == "" {
		framework = s.defaultFramework
	}
	dep, err := s.provider.CreateDeployment(ctx, project.Name, repoFullName, branch, framework)
	if err != nil {
		s.logger.Error("push redeploy failed", "project", project.Name, "repo", repoFullName, "error", err)
		s.logs.Emit(ctx, project.ID, logSource, logs.LevelError, "Push redeploy failed: "+err.Error())
		return Result{}, fmt.Errorf("%w: %w", domain.ErrDeployTriggerFailed, err)
	}
	return s.record(ctx, project, dep)
}

func (s Service) repoFullName(ctx context.Context, in DeployInput) (string, error) {
	if full := strings.TrimSpace(in.RepoFullName); full != "" {
		return full, nil
	}
	user, err := s.users.GetUserByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.ErrUnauthorized
		}
		return "", err
	}
	return user.Login + "/" + strings.TrimSpace(in.RepoName), nil
}

// resolveProject looks the project up and creates it when absent. Remote
// creation is best-effort; the unique constraint decides concurrent inserts.
func (s Service) resolveProject(ctx context.Context, userID, name, fullName, framework string) (*domain.Project, error) {
	existing, err := s.projects.GetProjectByUserAndName(ctx, userID, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if _, err := s.provider.CreateProject(ctx, name, fullName, framework); err != nil {
		if errors.Is(err, domain.ErrProviderConflict) {
			s.logger.Info("project already exists at provider", "project", name)
		} else {
			s.logger.Warn("remote project creation failed, continuing", "project", name, "error", err)
		}
	}

	now := s.now().UTC()
	project := &domain.Project{
		ID:         uuid.NewString(),
		Name:       name,
		GithubRepo: fullName,
		Framework:  framework,
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Info("project created concurrently, reusing", "project", name, "user_id", userID)
			return s.projects.GetProjectByUserAndName(ctx, userID, name)
		}
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "project", name, "user_id", userID)
	return project, nil
}

// record persists the deployment the provider accepted: QUEUED when an id was
// issued, ERROR otherwise.
func (s Service) record(ctx context.Context, project domain.Project, dep vercel.Deployment) (Result, error) {
	now := s.now().UTC()
	status := domain.StatusQueued
	if dep.ID == "" {
		status = domain.StatusError
	}
	deployment := domain.Deployment{
		ID:        uuid.NewString(),
		VercelID:  dep.ID,
		Status:    status,
		URL:       dep.URL,
		ProjectID: project.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, &deployment); err != nil {
		s.logger.Error("failed to record deployment", "project_id", project.ID, "vercel_id", dep.ID, "error", err)
		return Result{}, err
	}
	if err := s.projects.TouchProject(ctx, project.ID, now); err != nil {
		s.logger.Warn("failed to touch project", "project_id", project.ID, "error", err)
	} else {
		project.UpdatedAt = now
	}

	if status == domain.StatusQueued {
		s.logs.Emit(ctx, project.ID, logSource, logs.LevelInfo, "Deployment queued")
	} else {
		s.logs.Emit(ctx, project.ID, logSource, logs.LevelError, "Provider returned no deployment id")
	}
	s.logger.Info("deployment recorded", "deployment_id", deployment.ID, "vercel_id", dep.ID, "status", status, "project_id", project.ID)
	return Result{
		Project:            project,
		Deployment:         deployment,
		DeploymentID:       deployment.ID,
		VercelDeploymentID: dep.ID,
	}, nil
}

// Delete removes the project at the provider first, then locally. Missing
// projects on either side are not errors, but a name owned by another user
// is refused with ErrForbidden.
func (s Service) Delete(ctx context.Context, userID, name string) error {
	canonical := domain.CanonicalName(name)
	if canonical == "" {
		return fmt.Errorf("%w: project name is required", domain.ErrInvalidArgument)
	}
	project, err := s.projects.GetProjectByUserAndName(ctx, userID, canonical)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		project = nil
		owner, err := s.projects.GetProjectByName(ctx, canonical)
		switch {
		case err == nil && owner.UserID != userID:
			s.logger.Warn("refusing to delete project owned by another user", "project", canonical, "user_id", userID)
			return fmt.Errorf("%w: project %s belongs to another user", domain.ErrForbidden, canonical)
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return err
		}
	}

	if err := s.provider.DeleteProject(ctx, canonical); err != nil {
		s.logger.Error("remote project deletion failed", "project", canonical, "error", err)
		return err
	}
	if project == nil {
		s.logger.Info("project not tracked locally, nothing to delete", "project", canonical, "user_id", userID)
		return nil
	}
	if err := s.deployments.DeleteDeploymentsByProject(ctx, project.ID); err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, project.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.logger.Info("project deleted", "project_id", project.ID, "project", canonical, "user_id", userID)
	return nil
}

// ListProjects returns a user's projects with their latest deployment.
func (s Service) ListProjects(ctx context.Context, userID string) ([]domain.ProjectSummary, error) {
	projects, err := s.projects.ListProjectsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.ProjectSummary, 0, len(projects))
	for _, p := range projects {
		summary := domain.ProjectSummary{Project: p}
		recent, err := s.deployments.ListDeploymentsByProject(ctx, p.ID, 1)
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			summary.LatestDeployment = &recent[0]
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ListDeployments returns a project's most recent deployments. An unknown
// project yields a nil project and no deployments.
func (s Service) ListDeployments(ctx context.Context, userID, name string) (*domain.Project, []domain.Deployment, error) {
	project, err := s.projects.GetProjectByUserAndName(ctx, userID, domain.CanonicalName(name))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, []domain.Deployment{}, nil
		}
		return nil, nil, err
	}
	deployments, err := s.deployments.ListDeploymentsByProject(ctx, project.ID, deploymentHistory)
	if err != nil {
		return nil, nil, err
	}
	return project, deployments, nil
}

// OwnedProject returns the named project when the user owns it.
func (s Service) OwnedProject(ctx context.Context, userID, name string) (*domain.Project, error) {
	return s.projects.GetProjectByUserAndName(ctx, userID, domain.CanonicalName(name))
}

// AddDomain attaches a domain to a project the user owns.
func (s Service) AddDomain(ctx context.Context, userID, projectName, name string) (domain.ProjectDomain, error) {
	project, host, err := s.domainTarget(ctx, userID, projectName, name)
	if err != nil {
		return domain.ProjectDomain{}, err
	}
	added, err := s.provider.AddDomain(ctx, project.Name, host)
	if err != nil {
		s.logger.Warn("add domain failed", "project", project.Name, "domain", host, "error", err)
		return domain.ProjectDomain{}, err
	}
	return toProjectDomain(added), nil
}

// ListDomains returns a project's domains; provider failures yield none.
func (s Service) ListDomains(ctx context.Context, userID, projectName string) ([]domain.ProjectDomain, error) {
	project, err := s.OwnedProject(ctx, userID, projectName)
	if err != nil {
		return nil, err
	}
	listed := s.provider.ListDomains(ctx, project.Name)
	out := make([]domain.ProjectDomain, 0, len(listed))
	for _, d := range listed {
		out = append(out, toProjectDomain(d))
	}
	return out, nil
}

// RemoveDomain detaches a domain from a project the user owns.
func (s Service) RemoveDomain(ctx context.Context, userID, projectName, name string) error {
	project, host, err := s.domainTarget(ctx, userID, projectName, name)
	if err != nil {
		return err
	}
	if err := s.provider.RemoveDomain(ctx, project.Name, host); err != nil {
		s.logger.Warn("remove domain failed", "project", project.Name, "domain", host, "error", err)
		return err
	}
	return nil
}

func (s Service) domainTarget(ctx context.Context, userID, projectName, name string) (*domain.Project, string, error) {
	host := strings.ToLower(strings.TrimSpace(name))
	if host == "" {
		return nil, "", fmt.Errorf("%w: domain is required", domain.ErrInvalidArgument)
	}
	project, err := s.OwnedProject(ctx, userID, projectName)
	if err != nil {
		return nil, "", err
	}
	return project, host, nil
}

func toProjectDomain(d vercel.Domain) domain.ProjectDomain {
	return domain.ProjectDomain{Name: d.Name, ApexName: d.ApexName, Verified: d.Verified, CreatedAt: d.CreatedAt}
}
