package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is used when no API address is configured.
const DefaultBaseURL = "http://localhost:4000"

// Client provides typed access to the One-Deploy API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Retryable reports whether the failure came from an upstream outage rather
// than from the request itself.
func (e APIError) Retryable() bool {
	return e.Status == http.StatusBadGateway || e.Status == http.StatusServiceUnavailable || e.Status == http.StatusGatewayTimeout
}

// IsRetryable reports whether err is worth retrying on the next poll.
func IsRetryable(err error) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// User reflects API user payloads.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Tokens is the session token issued by the API.
type Tokens struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// Session is returned by the login endpoints.
type Session struct {
	User   User   `json:"user"`
	Tokens Tokens `json:"tokens"`
}

// LoginWithToken exchanges a GitHub personal access token for a session.
func (c *Client) LoginWithToken(ctx context.Context, githubToken string) (Session, error) {
	var resp Session
	if err := c.do(ctx, http.MethodPost, "/auth/token", map[string]string{"token": githubToken}, &resp); err != nil {
		return Session{}, err
	}
	return resp, nil
}

// Repo is a GitHub repository visible to the user.
type Repo struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	Private       bool      `json:"private"`
	HTMLURL       string    `json:"htmlUrl"`
	Description   string    `json:"description"`
	Language      string    `json:"language"`
	UpdatedAt     time.Time `json:"updatedAt"`
	DefaultBranch string    `json:"defaultBranch"`
}

// ListRepos returns repositories from the linked GitHub account.
func (c *Client) ListRepos(ctx context.Context) ([]Repo, error) {
	var resp struct {
		Repos []Repo `json:"repos"`
	}
	if err := c.do(ctx, http.MethodGet, "/github/repos", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Repos, nil
}

// Deployment is one deployment attempt.
type Deployment struct {
	ID                 string    `json:"id"`
	VercelDeploymentID string    `json:"vercelDeploymentId"`
	Status             string    `json:"status"`
	URL                string    `json:"url"`
	ProjectID          string    `json:"projectId"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Project describes a tracked deployment target.
type Project struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	GithubRepo       string      `json:"githubRepo"`
	Framework        string      `json:"framework"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	LatestDeployment *Deployment `json:"latestDeployment"`
}

// DeployInput selects the repository to deploy.
type DeployInput struct {
	RepoName      string `json:"repoName"`
	RepoFullName  string `json:"repoFullName,omitempty"`
	RepoID        int64  `json:"repoId"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
	Framework     string `json:"framework,omitempty"`
}

// DeployResult is returned when a deployment is queued.
type DeployResult struct {
	Success            bool    `json:"success"`
	DeploymentID       string  `json:"deploymentId"`
	VercelDeploymentID string  `json:"vercelDeploymentId"`
	Project            Project `json:"project"`
}

// Deploy creates the project if needed and triggers a deployment.
func (c *Client) Deploy(ctx context.Context, input DeployInput) (DeployResult, error) {
	var resp DeployResult
	if err := c.do(ctx, http.MethodPost, "/projects/deploy", input, &resp); err != nil {
		return DeployResult{}, err
	}
	return resp, nil
}

// ListProjects returns the caller's projects with their latest deployment.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// DeleteProject removes the project remotely and locally.
func (c *Client) DeleteProject(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(name), nil, nil)
}

// ListDeployments returns recent deployments for a project. Project is nil
// when the name is not tracked.
func (c *Client) ListDeployments(ctx context.Context, name string) (*Project, []Deployment, error) {
	var resp struct {
		Project     *Project     `json:"project"`
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(name)+"/deployments", nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Project, resp.Deployments, nil
}

// Observation is one reconciliation step for a deployment.
type Observation struct {
	DeploymentID       string `json:"deploymentId"`
	VercelDeploymentID string `json:"vercelDeploymentId"`
	ProjectID          string `json:"projectId"`
	ProviderState      string `json:"providerState"`
	Status             string `json:"status"`
	URL                string `json:"url"`
	Terminal           bool   `json:"terminal"`
	Changed            bool   `json:"changed"`
	Failure            string `json:"failure"`
}

// Observe asks the API to reconcile a deployment against the provider.
func (c *Client) Observe(ctx context.Context, vercelID string) (Observation, error) {
	var obs Observation
	if err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(vercelID), nil, &obs); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

// UpdateStatus overrides the recorded status of a deployment.
func (c *Client) UpdateStatus(ctx context.Context, vercelID, status, deployURL string) (Deployment, error) {
	body := map[string]string{"status": status}
	if deployURL != "" {
		body["url"] = deployURL
	}
	var dep Deployment
	if err := c.do(ctx, http.MethodPatch, "/deployments/"+url.PathEscape(vercelID)+"/status", body, &dep); err != nil {
		return Deployment{}, err
	}
	return dep, nil
}

// Domain is a custom domain attached to a project.
type Domain struct {
	Name      string     `json:"name"`
	ApexName  string     `json:"apexName"`
	Verified  bool       `json:"verified"`
	CreatedAt *time.Time `json:"createdAt"`
}

// ListDomains returns the project's domains.
func (c *Client) ListDomains(ctx context.Context, project string) ([]Domain, error) {
	var resp struct {
		Domains []Domain `json:"domains"`
	}
	if err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(project)+"/domains", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Domains, nil
}

// AddDomain attaches a domain to the project.
func (c *Client) AddDomain(ctx context.Context, project, name string) (Domain, error) {
	var d Domain
	path := "/projects/" + url.PathEscape(project) + "/domains"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"domain": name}, &d); err != nil {
		return Domain{}, err
	}
	return d, nil
}

// RemoveDomain detaches a domain from the project.
func (c *Client) RemoveDomain(ctx context.Context, project, name string) error {
	path := "/projects/" + url.PathEscape(project) + "/domains/" + url.PathEscape(name)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// LogEntry models a project log line.
type LogEntry struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"projectId"`
	Source    string    `json:"source"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// FetchLogs returns recent log lines for the project, newest first.
func (c *Client) FetchLogs(ctx context.Context, project string, limit int) ([]LogEntry, error) {
	path := "/projects/" + url.PathEscape(project) + "/logs"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}
