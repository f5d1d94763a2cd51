package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/provider/vercel"
	"github.com/zakisheriff/One-Deploy/internal/repository/repotest"
)

type fakeProvider struct {
	mu             sync.Mutex
	createErr      error
	createdNames   []string
	triggerResult  vercel.Deployment
	triggerErr     error
	triggers       int
	pushResult     vercel.Deployment
	deleteErr      error
	deleted        []string
	domains        []vercel.Domain
	removedDomains []string
}

func (f *fakeProvider) CreateProject(_ context.Context, name, _, _ string) (vercel.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdNames = append(f.createdNames, name)
	return vercel.Project{Name: name}, f.createErr
}

func (f *fakeProvider) TriggerDeployment(context.Context, string, int64, string) (vercel.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	return f.triggerResult, f.triggerErr
}

func (f *fakeProvider) CreateDeployment(context.Context, string, string, string, string) (vercel.Deployment, error) {
	return f.pushResult, nil
}

func (f *fakeProvider) DeleteProject(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeProvider) AddDomain(_ context.Context, _, name string) (vercel.Domain, error) {
	return vercel.Domain{Name: name, ApexName: name}, nil
}

func (f *fakeProvider) ListDomains(context.Context, string) []vercel.Domain {
	return f.domains
}

func (f *fakeProvider) RemoveDomain(_ context.Context, _, name string) error {
	f.removedDomains = append(f.removedDomains, name)
	return nil
}

type noopLogs struct {
	mu       sync.Mutex
	messages []string
}

func (n *noopLogs) Emit(_ context.Context, _, _, _, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

type fixture struct {
	svc      Service
	store    *repotest.Store
	provider *fakeProvider
	logs     *noopLogs
	userID   string
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()
	store := repotest.New()
	user := &domain.User{GithubID: 7, Login: "octo"}
	require.NoError(t, store.UpsertUserByGithubID(context.Background(), user))

	f := &fixture{
		store:    store,
		provider: &fakeProvider{triggerResult: vercel.Deployment{ID: "dep_1", URL: "my-site-xyz.provider.app"}},
		logs:     &noopLogs{},
		userID:   user.ID,
	}
	for _, opt := range opts {
		opt(f)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(store, store, store, f.provider, f.logs, logger, "")
	return f
}

func (f *fixture) input() DeployInput {
	return DeployInput{UserID: f.userID, RepoName: "My-Site", RepoFullName: "octo/My-Site", RepoID: 4242, Branch: "main"}
}

func TestDeployCreatesProjectAndQueuedDeployment(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Deploy(context.Background(), f.input())
	require.NoError(t, err)

	assert.Equal(t, "dep_1", result.VercelDeploymentID)
	assert.NotEmpty(t, result.DeploymentID)
	assert.Equal(t, "my-site", result.Project.Name)
	assert.Equal(t, domain.DefaultFramework, result.Project.Framework)

	projects := f.store.Projects()
	require.Len(t, projects, 1)
	assert.Equal(t, "my-site", projects[0].Name)
	assert.Equal(t, "octo/My-Site", projects[0].GithubRepo)

	deployments := f.store.Deployments()
	require.Len(t, deployments, 1)
	assert.Equal(t, domain.StatusQueued, deployments[0].Status)
	assert.Equal(t, "my-site-xyz.provider.app", deployments[0].URL)
	assert.Equal(t, projects[0].ID, deployments[0].ProjectID)
	assert.Contains(t, f.logs.messages, "Deployment queued")
}

func TestDeployReusesExistingProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)

	f.provider.triggerResult = vercel.Deployment{ID: "dep_2"}
	second, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)

	assert.Equal(t, first.Project.ID, second.Project.ID)
	assert.Len(t, f.store.Projects(), 1)
	assert.Len(t, f.store.Deployments(), 2)
	assert.Equal(t, []string{"my-site"}, f.provider.createdNames)
	assert.True(t, !second.Project.UpdatedAt.Before(first.Project.UpdatedAt))
}

func TestDeploySwallowsRemoteConflict(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.provider.createErr = &vercel.ProviderError{Status: 409, Code: "project_already_exists", Message: "exists"}
	})

	result, err := f.svc.Deploy(context.Background(), f.input())
	require.NoError(t, err)
	assert.Equal(t, "dep_1", result.VercelDeploymentID)
	assert.Len(t, f.store.Projects(), 1)
}

func TestDeployContinuesAfterRemoteCreateFailure(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.provider.createErr = errors.New("boom")
	})

	_, err := f.svc.Deploy(context.Background(), f.input())
	require.NoError(t, err)
	assert.Len(t, f.store.Projects(), 1)
}

func TestDeployWithoutProviderIDRecordsError(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.provider.triggerResult = vercel.Deployment{}
	})

	_, err := f.svc.Deploy(context.Background(), f.input())
	require.NoError(t, err)

	deployments := f.store.Deployments()
	require.Len(t, deployments, 1)
	assert.Equal(t, domain.StatusError, deployments[0].Status)
}

func TestDeployTriggerFailureWritesNoDeployment(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.provider.triggerErr = &vercel.ProviderError{Status: 400, Message: "Repository not linked"}
	})

	_, err := f.svc.Deploy(context.Background(), f.input())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeployTriggerFailed)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "Repository not linked")

	assert.Empty(t, f.store.Deployments())
	assert.Len(t, f.store.Projects(), 1)
}

func TestDeployValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input()
	in.RepoName = "  "
	_, err := f.svc.Deploy(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	in = f.input()
	in.RepoID = 0
	_, err = f.svc.Deploy(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, f.provider.triggers)
}

func TestDeployDerivesFullNameFromLogin(t *testing.T) {
	f := newFixture(t)
	in := f.input()
	in.RepoFullName = ""

	result, err := f.svc.Deploy(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "octo/My-Site", result.Project.GithubRepo)
}

func TestDeployConcurrentCreateReusesWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var once sync.Once
	f.store.BeforeCreateProject = func(p *domain.Project) {
		once.Do(func() {
			winner := &domain.Project{
				ID:        "winner",
				Name:      p.Name,
				UserID:    p.UserID,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			f.store.BeforeCreateProject = nil
			require.NoError(t, f.store.CreateProject(ctx, winner))
		})
	}

	result, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)
	assert.Equal(t, "winner", result.Project.ID)
	assert.Len(t, f.store.Projects(), 1)

	deployments := f.store.Deployments()
	require.Len(t, deployments, 1)
	assert.Equal(t, "winner", deployments[0].ProjectID)
}

func TestDeleteRemovesRemoteThenLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.userID, "My-Site"))
	assert.Equal(t, []string{"my-site"}, f.provider.deleted)
	assert.Empty(t, f.store.Projects())
	assert.Empty(t, f.store.Deployments())

	require.NoError(t, f.svc.Delete(ctx, f.userID, "my-site"))
}

func TestDeleteRefusesProjectOwnedByAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)

	other := &domain.User{GithubID: 8, Login: "mallory"}
	require.NoError(t, f.store.UpsertUserByGithubID(ctx, other))

	err = f.svc.Delete(ctx, other.ID, "my-site")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, f.provider.deleted)
	assert.Len(t, f.store.Projects(), 1)
	assert.Len(t, f.store.Deployments(), 1)
}

func TestDeleteUntrackedNameStillDeletesRemote(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Delete(context.Background(), f.userID, "orphan"))
	assert.Equal(t, []string{"orphan"}, f.provider.deleted)
}

func TestDeleteRemoteFailureLeavesLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)

	f.provider.deleteErr = &vercel.ProviderError{Status: 403, Message: "Not authorized"}
	err = f.svc.Delete(ctx, f.userID, "my-site")
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Len(t, f.store.Projects(), 1)
	assert.Len(t, f.store.Deployments(), 1)
}

func TestListProjectsIncludesLatestDeployment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)

	summaries, err := f.svc.ListProjects(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LatestDeployment)
	assert.Equal(t, "dep_1", summaries[0].LatestDeployment.VercelID)

	empty, err := f.svc.ListProjects(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListDeploymentsUnknownProjectIsEmpty(t *testing.T) {
	f := newFixture(t)

	project, deployments, err := f.svc.ListDeployments(context.Background(), f.userID, "ghost")
	require.NoError(t, err)
	assert.Nil(t, project)
	assert.Empty(t, deployments)
}

func TestDomainOperationsRequireOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)

	added, err := f.svc.AddDomain(ctx, f.userID, "my-site", " Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "example.com", added.Name)

	_, err = f.svc.AddDomain(ctx, "intruder", "my-site", "example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.AddDomain(ctx, f.userID, "my-site", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, f.svc.RemoveDomain(ctx, f.userID, "my-site", "example.com"))
	assert.Equal(t, []string{"example.com"}, f.provider.removedDomains)
}

func TestRedeployFromPushRecordsDeployment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Deploy(ctx, f.input())
	require.NoError(t, err)

	f.provider.pushResult = vercel.Deployment{ID: "dep_push"}
	result, err := f.svc.RedeployFromPush(ctx, first.Project, "octo/My-Site", "main")
	require.NoError(t, err)
	assert.Equal(t, "dep_push", result.VercelDeploymentID)
	assert.Len(t, f.store.Deployments(), 2)
}
