// Package repotest provides an in-memory implementation of the repository
// interfaces for service and handler tests.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/repository"
)

var (
	_ repository.UserRepository       = (*Store)(nil)
	_ repository.AccountRepository    = (*Store)(nil)
	_ repository.ProjectRepository    = (*Store)(nil)
	_ repository.DeploymentRepository = (*Store)(nil)
	_ repository.LogRepository        = (*Store)(nil)
)

// Store keeps every entity in maps guarded by a single mutex. It enforces the
// same uniqueness rules as the SQL schema.
type Store struct {
	mu          sync.Mutex
	users       map[string]domain.User
	accounts    map[string]domain.Account
	projects    map[string]domain.Project
	deployments map[string]domain.Deployment
	logs        []domain.ProjectLog
	nextLogID   int64

	// StatusWrites counts UpdateDeploymentStatus calls.
	StatusWrites int
	// BeforeCreateProject runs before a project insert, outside the lock.
	BeforeCreateProject func(project *domain.Project)
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[string]domain.User),
		accounts:    make(map[string]domain.Account),
		projects:    make(map[string]domain.Project),
		deployments: make(map[string]domain.Deployment),
	}
}

func accountKey(userID, provider string) string {
	return userID + "/" + provider
}

func (s *Store) UpsertUserByGithubID(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.users {
		if existing.GithubID == user.GithubID {
			user.ID = id
			user.CreatedAt = existing.CreatedAt
			s.users[id] = *user
			return nil
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *Store) UpsertAccount(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[account.UserID]; !ok {
		return repository.ErrNotFound
	}
	s.accounts[accountKey(account.UserID, account.Provider)] = account
	return nil
}

func (s *Store) GetAccount(_ context.Context, userID, provider string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountKey(userID, provider)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s *Store) CreateProject(_ context.Context, project *domain.Project) error {
	if hook := s.BeforeCreateProject; hook != nil {
		hook(project)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projects {
		if existing.UserID == project.UserID && existing.Name == project.Name {
			return repository.ErrConflict
		}
	}
	s.projects[project.ID] = *project
	return nil
}

func (s *Store) GetProjectByUserAndName(_ context.Context, userID, name string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.UserID == userID && p.Name == name {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProjectByGithubRepo(_ context.Context, fullName string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var match *domain.Project
	for _, p := range s.projects {
		if !strings.EqualFold(p.GithubRepo, fullName) {
			continue
		}
		if match == nil || p.UpdatedAt.After(match.UpdatedAt) {
			match = &p
		}
	}
	if match == nil {
		return nil, repository.ErrNotFound
	}
	return match, nil
}

func (s *Store) GetProjectByName(_ context.Context, name string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var match *domain.Project
	for _, p := range s.projects {
		if p.Name != name {
			continue
		}
		if match == nil || p.UpdatedAt.After(match.UpdatedAt) {
			match = &p
		}
	}
	if match == nil {
		return nil, repository.ErrNotFound
	}
	return match, nil
}

func (s *Store) ListProjectsByUser(_ context.Context, userID string) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	projects := make([]domain.Project, 0)
	for _, p := range s.projects {
		if p.UserID == userID {
			projects = append(projects, p)
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].UpdatedAt.After(projects[j].UpdatedAt) })
	return projects, nil
}

func (s *Store) TouchProject(_ context.Context, projectID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return repository.ErrNotFound
	}
	p.UpdatedAt = at
	s.projects[projectID] = p
	return nil
}

func (s *Store) DeleteProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return repository.ErrNotFound
	}
	for _, d := range s.deployments {
		if d.ProjectID == projectID {
			// mirrors the foreign key: children must go first
			return repository.ErrConflict
		}
	}
	delete(s.projects, projectID)
	return nil
}

func (s *Store) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[deployment.ProjectID]; !ok {
		return repository.ErrNotFound
	}
	if deployment.VercelID != "" {
		for _, d := range s.deployments {
			if d.VercelID == deployment.VercelID {
				return repository.ErrConflict
			}
		}
	}
	s.deployments[deployment.ID] = *deployment
	return nil
}

func (s *Store) UpdateDeploymentStatus(_ context.Context, update domain.DeploymentStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusWrites++
	d, ok := s.deployments[update.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = update.Status
	if update.URL != "" {
		d.URL = update.URL
	}
	d.UpdatedAt = time.Now().UTC()
	s.deployments[d.ID] = d
	return nil
}

func (s *Store) GetDeploymentByVercelID(_ context.Context, vercelID string) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deployments {
		if vercelID != "" && d.VercelID == vercelID {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListDeploymentsByProject(_ context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deployments := make([]domain.Deployment, 0)
	for _, d := range s.deployments {
		if d.ProjectID == projectID {
			deployments = append(deployments, d)
		}
	}
	sort.Slice(deployments, func(i, j int) bool { return deployments[i].CreatedAt.After(deployments[j].CreatedAt) })
	if limit > 0 && len(deployments) > limit {
		deployments = deployments[:limit]
	}
	return deployments, nil
}

func (s *Store) ListDeploymentsWithStatusUpdatedBefore(_ context.Context, status domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deployments := make([]domain.Deployment, 0)
	for _, d := range s.deployments {
		if d.Status == status && d.UpdatedAt.Before(updatedBefore) {
			deployments = append(deployments, d)
		}
	}
	sort.Slice(deployments, func(i, j int) bool { return deployments[i].UpdatedAt.Before(deployments[j].UpdatedAt) })
	return deployments, nil
}

func (s *Store) DeleteDeploymentsByProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.deployments {
		if d.ProjectID == projectID {
			delete(s.deployments, id)
		}
	}
	return nil
}

func (s *Store) AppendLog(_ context.Context, log domain.ProjectLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	log.ID = s.nextLogID
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) ListLogsByProject(_ context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := make([]domain.ProjectLog, 0)
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].ProjectID == projectID {
			logs = append(logs, s.logs[i])
		}
	}
	if offset >= len(logs) {
		return []domain.ProjectLog{}, nil
	}
	logs = logs[offset:]
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// Projects returns a snapshot of every stored project.
func (s *Store) Projects() []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out
}

// Deployments returns a snapshot of every stored deployment.
func (s *Store) Deployments() []domain.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PutDeployment stores a deployment directly, bypassing validation.
func (s *Store) PutDeployment(d domain.Deployment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[d.ID] = d
}

// Logs returns every stored log line in insertion order.
func (s *Store) Logs() []domain.ProjectLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ProjectLog(nil), s.logs...)
}
