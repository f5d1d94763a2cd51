package repository

import (
	"context"
	"time"

	"github.com/zakisheriff/One-Deploy/internal/domain"
)

// UserRepository persists users signed in through GitHub.
type UserRepository interface {
	// UpsertUserByGithubID inserts or refreshes a user keyed by GitHub id and
	// fills in the stored identifier.
	UpsertUserByGithubID(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// AccountRepository stores linked provider credentials.
type AccountRepository interface {
	UpsertAccount(ctx context.Context, account domain.Account) error
	GetAccount(ctx context.Context, userID, provider string) (*domain.Account, error)
}

// ProjectRepository persists projects. CreateProject returns ErrConflict when
// the (user, name) pair already exists.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByUserAndName(ctx context.Context, userID, name string) (*domain.Project, error)
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectByGithubRepo(ctx context.Context, fullName string) (*domain.Project, error)
	// GetProjectByName finds any user's project with the canonical name.
	GetProjectByName(ctx context.Context, name string) (*domain.Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error)
	TouchProject(ctx context.Context, projectID string, at time.Time) error
	DeleteProject(ctx context.Context, projectID string) error
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	GetDeploymentByVercelID(ctx context.Context, vercelID string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	ListDeploymentsWithStatusUpdatedBefore(ctx context.Context, status domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error)
	DeleteDeploymentsByProject(ctx context.Context, projectID string) error
}

// LogRepository handles log persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, log domain.ProjectLog) error
	ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error)
}
