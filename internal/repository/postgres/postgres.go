package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.AccountRepository    = (*Repository)(nil)
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.LogRepository        = (*Repository)(nil)
)

const (
	projectColumns    = `id, name, github_repo, COALESCE(framework, ''), user_id, created_at, updated_at`
	deploymentColumns = `id, COALESCE(vercel_id, ''), status, COALESCE(url, ''), project_id, created_at, updated_at`
)

// UpsertUserByGithubID inserts a user or refreshes its profile fields.
func (r *Repository) UpsertUserByGithubID(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, github_id, login, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (github_id) DO UPDATE
			SET login = EXCLUDED.login,
				name = EXCLUDED.name,
				email = EXCLUDED.email,
				updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`
	row := r.pool.QueryRow(ctx, query, user.ID, user.GithubID, user.Login, user.Name, user.Email, user.CreatedAt, user.UpdatedAt)
	return translate(row.Scan(&user.ID, &user.CreatedAt))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, github_id, login, name, email, created_at, updated_at FROM users WHERE id = $1`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.GithubID, &u.Login, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// UpsertAccount stores the encrypted credential for a provider.
func (r *Repository) UpsertAccount(ctx context.Context, account domain.Account) error {
	const query = `INSERT INTO accounts (user_id, provider, access_token, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, provider) DO UPDATE
			SET access_token = EXCLUDED.access_token,
				scope = EXCLUDED.scope,
				updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, account.UserID, account.Provider, account.AccessToken, account.Scope, account.CreatedAt, account.UpdatedAt)
	return translate(err)
}

// GetAccount fetches the linked credential of a user.
func (r *Repository) GetAccount(ctx context.Context, userID, provider string) (*domain.Account, error) {
	const query = `SELECT user_id, provider, access_token, scope, created_at, updated_at
		FROM accounts WHERE user_id = $1 AND provider = $2`
	var a domain.Account
	err := r.pool.QueryRow(ctx, query, userID, provider).Scan(&a.UserID, &a.Provider, &a.AccessToken, &a.Scope, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// CreateProject inserts a project. The (user_id, name) unique constraint
// surfaces as repository.ErrConflict.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, github_repo, framework, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.GithubRepo, emptyToNil(project.Framework), project.UserID, project.CreatedAt, project.UpdatedAt)
	return translate(err)
}

// GetProjectByUserAndName fetches the project a user owns under a canonical name.
func (r *Repository) GetProjectByUserAndName(ctx context.Context, userID, name string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 AND name = $2`
	return scanProject(r.pool.QueryRow(ctx, query, userID, name))
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// GetProjectByGithubRepo looks a project up by repository full name across all users.
func (r *Repository) GetProjectByGithubRepo(ctx context.Context, fullName string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE LOWER(github_repo) = LOWER($1)
		ORDER BY updated_at DESC
		LIMIT 1`
	return scanProject(r.pool.QueryRow(ctx, query, fullName))
}

// GetProjectByName looks a project up by canonical name across all users.
func (r *Repository) GetProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE name = $1
		ORDER BY updated_at DESC
		LIMIT 1`
	return scanProject(r.pool.QueryRow(ctx, query, name))
}

// ListProjectsByUser returns a user's projects, most recently updated first.
func (r *Repository) ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 ORDER BY updated_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}

// TouchProject bumps updated_at on redeploy.
func (r *Repository) TouchProject(ctx context.Context, projectID string, at time.Time) error {
	const query = `UPDATE projects SET updated_at = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, at)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project row.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateDeployment records a new deployment.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, vercel_id, status, url, project_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		emptyToNil(deployment.VercelID),
		string(deployment.Status),
		emptyToNil(deployment.URL),
		deployment.ProjectID,
		deployment.CreatedAt,
		deployment.UpdatedAt,
	)
	return translate(err)
}

// UpdateDeploymentStatus writes a status transition and, when provided, the url.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments
		SET status = $2,
			url = COALESCE($3, url),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, update.DeploymentID, string(update.Status), emptyToNil(update.URL))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByVercelID fetches a deployment by provider identifier.
func (r *Repository) GetDeploymentByVercelID(ctx context.Context, vercelID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE vercel_id = $1`
	return scanDeployment(r.pool.QueryRow(ctx, query, vercelID))
}

// ListDeploymentsByProject fetches recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// ListDeploymentsWithStatusUpdatedBefore returns deployments stuck in a status.
func (r *Repository) ListDeploymentsWithStatusUpdatedBefore(ctx context.Context, status domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`
	rows, err := r.pool.Query(ctx, query, string(status), updatedBefore)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// DeleteDeploymentsByProject removes every deployment of a project.
func (r *Repository) DeleteDeploymentsByProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM deployments WHERE project_id = $1`
	_, err := r.pool.Exec(ctx, query, projectID)
	return translate(err)
}

// AppendLog stores a project log line.
func (r *Repository) AppendLog(ctx context.Context, log domain.ProjectLog) error {
	const query = `INSERT INTO project_logs (project_id, source, level, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, log.ProjectID, log.Source, log.Level, log.Message, log.CreatedAt)
	return translate(err)
}

// ListLogsByProject fetches logs for a project, newest first.
func (r *Repository) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	const query = `SELECT id, project_id, source, level, message, created_at
		FROM project_logs WHERE project_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	logs := make([]domain.ProjectLog, 0)
	for rows.Next() {
		var l domain.ProjectLog
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Source, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.GithubRepo, &p.Framework, &p.UserID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	var status string
	if err := row.Scan(&d.ID, &d.VercelID, &status, &d.URL, &d.ProjectID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	d.Status = domain.DeploymentStatus(status)
	return &d, nil
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// translate maps driver errors onto repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		case "22P02", "23514":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}
