//go:build integration

// Integration tests run against a disposable PostgreSQL container:
//
//	go test -tags=integration ./internal/repository/postgres/...
package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/zakisheriff/One-Deploy/internal/app/migrate"
	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/repository"
	"github.com/zakisheriff/One-Deploy/internal/repository/postgres"
)

func newRepository(t *testing.T) *postgres.Repository {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("onedeploy"),
		tcpostgres.WithUsername("onedeploy"),
		tcpostgres.WithPassword("onedeploy"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	runner, err := migrate.New(pool, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(runner.Close)
	require.NoError(t, runner.Ensure(ctx))

	return postgres.New(pool)
}

func seedUser(t *testing.T, repo *postgres.Repository, githubID int64) domain.User {
	t.Helper()
	now := time.Now().UTC()
	user := domain.User{ID: uuid.NewString(), GithubID: githubID, Login: "octo", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.UpsertUserByGithubID(context.Background(), &user))
	return user
}

func TestRepositoryProjectLifecycle(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo, 7)

	again := domain.User{ID: uuid.NewString(), GithubID: 7, Login: "octo-renamed"}
	require.NoError(t, repo.UpsertUserByGithubID(ctx, &again))
	assert.Equal(t, user.ID, again.ID)

	now := time.Now().UTC()
	project := domain.Project{ID: uuid.NewString(), Name: "my-site", GithubRepo: "octo/My-Site", UserID: user.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateProject(ctx, &project))

	dup := project
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, repo.CreateProject(ctx, &dup), repository.ErrConflict)

	found, err := repo.GetProjectByGithubRepo(ctx, "OCTO/my-site")
	require.NoError(t, err)
	assert.Equal(t, project.ID, found.ID)
	assert.Empty(t, found.Framework)

	byName, err := repo.GetProjectByName(ctx, "my-site")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.UserID)
	_, err = repo.GetProjectByName(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	deployment := domain.Deployment{ID: uuid.NewString(), VercelID: "dep_1", Status: domain.StatusQueued, ProjectID: project.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateDeployment(ctx, &deployment))
	require.NoError(t, repo.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.StatusReady,
		URL:          "https://my-site.example.app",
	}))
	require.NoError(t, repo.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{DeploymentID: deployment.ID, Status: domain.StatusReady}))

	stored, err := repo.GetDeploymentByVercelID(ctx, "dep_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, stored.Status)
	assert.Equal(t, "https://my-site.example.app", stored.URL)

	require.NoError(t, repo.AppendLog(ctx, domain.ProjectLog{ProjectID: project.ID, Source: "deploy", Level: "info", Message: "queued", CreatedAt: now}))
	require.NoError(t, repo.AppendLog(ctx, domain.ProjectLog{ProjectID: project.ID, Source: "deploy", Level: "info", Message: "live", CreatedAt: now}))
	logs, err := repo.ListLogsByProject(ctx, project.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "live", logs[0].Message)

	require.NoError(t, repo.DeleteDeploymentsByProject(ctx, project.ID))
	require.NoError(t, repo.DeleteProject(ctx, project.ID))
	_, err = repo.GetProjectByUserAndName(ctx, user.ID, "my-site")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteProject(ctx, project.ID), repository.ErrNotFound)
}

func TestRepositoryRejectsUnknownStatus(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo, 9)
	now := time.Now().UTC()
	project := domain.Project{ID: uuid.NewString(), Name: "site", GithubRepo: "octo/site", UserID: user.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateProject(ctx, &project))

	bad := domain.Deployment{ID: uuid.NewString(), Status: "DONE", ProjectID: project.ID, CreatedAt: now, UpdatedAt: now}
	assert.ErrorIs(t, repo.CreateDeployment(ctx, &bad), repository.ErrInvalidArgument)

	stale := domain.Deployment{ID: uuid.NewString(), VercelID: "dep_old", Status: domain.StatusBuilding, ProjectID: project.ID, CreatedAt: now, UpdatedAt: now.Add(-time.Hour)}
	require.NoError(t, repo.CreateDeployment(ctx, &stale))
	rows, err := repo.ListDeploymentsWithStatusUpdatedBefore(ctx, domain.StatusBuilding, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "dep_old", rows[0].VercelID)
}
