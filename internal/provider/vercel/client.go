// Package vercel wraps the hosting provider's REST API. The client is
// stateless: no retries, no caching, and provider errors are surfaced verbatim.
package vercel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zakisheriff/One-Deploy/internal/domain"
)

const (
	defaultBaseURL = "https://api.vercel.com"
	codeConflict   = "project_already_exists"
)

// Client talks to the provider with a bearer token.
type Client struct {
	baseURL    string
	token      string
	teamID     string
	httpClient *http.Client
	logger     *slog.Logger
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

// WithBaseURL points the client at another API host.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTeamID scopes every call to a provider team.
func WithTeamID(teamID string) Option {
	return func(c *Client) {
		c.teamID = strings.TrimSpace(teamID)
	}
}

// New constructs a Client.
func New(token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "vercel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Project is the provider's view of a project. ID is empty when the project
// already existed and the provider returned no body.
type Project struct {
	ID   string
	Name string
}

// Deployment is the provider's deployment payload.
type Deployment struct {
	ID         string
	URL        string
	ReadyState string
}

// DeploymentResult is the outcome of fetching a deployment: exactly one of
// Deployment or Failure is set.
type DeploymentResult struct {
	Deployment *Deployment
	Failure    *ProviderError
}

// Failed reports whether the provider returned an error payload.
func (r DeploymentResult) Failed() bool {
	return r.Failure != nil
}

// Domain is a custom domain record.
type Domain struct {
	Name      string
	ApexName  string
	Verified  bool
	CreatedAt time.Time
}

// ProviderError carries a structured provider failure.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vercel %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("vercel %d: %s", e.Status, e.Message)
}

// Is matches the provider sentinels of the domain taxonomy.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case domain.ErrProviderError:
		return true
	case domain.ErrProviderConflict:
		return e.Code == codeConflict || e.Status == http.StatusConflict
	}
	return false
}

// CreateProject registers a project linked to a GitHub repository.
// An existing project yields ErrProviderConflict.
func (c *Client) CreateProject(ctx context.Context, name, repoFullName, framework string) (Project, error) {
	body := map[string]any{
		"name": name,
		"gitRepository": map[string]string{
			"type": "github",
			"repo": repoFullName,
		},
	}
	if framework != "" {
		body["framework"] = framework
	}
	var payload struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodPost, "/v9/projects", nil, body, &payload); err != nil {
		return Project{Name: name}, err
	}
	if payload.Name == "" {
		payload.Name = name
	}
	return Project{ID: payload.ID, Name: payload.Name}, nil
}

// TriggerDeployment starts a deployment from a repository id.
func (c *Client) TriggerDeployment(ctx context.Context, projectName string, repoID int64, branch string) (Deployment, error) {
	body := map[string]any{
		"name": projectName,
		"gitSource": map[string]string{
			"type":   "github",
			"repoId": strconv.FormatInt(repoID, 10),
			"ref":    branchOrDefault(branch),
		},
	}
	return c.createDeployment(ctx, body)
}

// CreateDeployment starts a deployment from a repository full name.
func (c *Client) CreateDeployment(ctx context.Context, projectName, repoFullName, branch, framework string) (Deployment, error) {
	body := map[string]any{
		"name": projectName,
		"gitSource": map[string]string{
			"type": "github",
			"repo": repoFullName,
			"ref":  branchOrDefault(branch),
		},
	}
	if framework != "" {
		body["projectSettings"] = map[string]string{"framework": framework}
	}
	return c.createDeployment(ctx, body)
}

func (c *Client) createDeployment(ctx context.Context, body map[string]any) (Deployment, error) {
	query := url.Values{"skipAutoDetectionConfirmation": []string{"1"}}
	var payload deploymentPayload
	if err := c.do(ctx, http.MethodPost, "/v13/deployments", query, body, &payload); err != nil {
		return Deployment{}, err
	}
	return payload.toDeployment(), nil
}

// GetDeployment fetches the current state of a deployment. Provider-reported
// errors land in DeploymentResult.Failure; only transport failures are returned.
func (c *Client) GetDeployment(ctx context.Context, id string) (DeploymentResult, error) {
	var payload deploymentPayload
	err := c.do(ctx, http.MethodGet, "/v13/deployments/"+url.PathEscape(id), nil, nil, &payload)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			return DeploymentResult{Failure: perr}, nil
		}
		return DeploymentResult{}, err
	}
	dep := payload.toDeployment()
	return DeploymentResult{Deployment: &dep}, nil
}

// DeleteProject removes a project. A missing project counts as deleted.
func (c *Client) DeleteProject(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/v9/projects/"+url.PathEscape(name), nil, nil, nil)
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Status == http.StatusNotFound {
		c.logger.Info("project already absent at provider", "project", name)
		return nil
	}
	return err
}

// AddDomain attaches a custom domain to a project.
func (c *Client) AddDomain(ctx context.Context, projectName, name string) (Domain, error) {
	var payload domainPayload
	path := "/v10/projects/" + url.PathEscape(projectName) + "/domains"
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"name": name}, &payload); err != nil {
		return Domain{}, err
	}
	return payload.toDomain(), nil
}

// ListDomains returns a project's domains. Reads are best-effort: any failure
// is logged and yields an empty list.
func (c *Client) ListDomains(ctx context.Context, projectName string) []Domain {
	var payload struct {
		Domains []domainPayload `json:"domains"`
	}
	path := "/v9/projects/" + url.PathEscape(projectName) + "/domains"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &payload); err != nil {
		c.logger.Warn("list domains failed", "project", projectName, "error", err)
		return []Domain{}
	}
	domains := make([]Domain, 0, len(payload.Domains))
	for _, d := range payload.Domains {
		domains = append(domains, d.toDomain())
	}
	return domains
}

// RemoveDomain detaches a custom domain from a project.
func (c *Client) RemoveDomain(ctx context.Context, projectName, name string) error {
	path := "/v9/projects/" + url.PathEscape(projectName) + "/domains/" + url.PathEscape(name)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

type deploymentPayload struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
	Status     string `json:"status"`
}

func (p deploymentPayload) toDeployment() Deployment {
	state := p.ReadyState
	if state == "" {
		state = p.Status
	}
	return Deployment{ID: p.ID, URL: p.URL, ReadyState: state}
}

type domainPayload struct {
	Name      string `json:"name"`
	ApexName  string `json:"apexName"`
	Verified  bool   `json:"verified"`
	CreatedAt int64  `json:"createdAt"`
}

func (p domainPayload) toDomain() Domain {
	d := Domain{Name: p.Name, ApexName: p.ApexName, Verified: p.Verified}
	if p.CreatedAt > 0 {
		d.CreatedAt = time.UnixMilli(p.CreatedAt).UTC()
	}
	return d
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, v any) error {
	if query == nil {
		query = url.Values{}
	}
	if c.teamID != "" {
		query.Set("teamId", c.teamID)
	}
	endpoint := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrUpstreamUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if v == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}

// decodeError classifies a non-2xx response. Structured 4xx bodies become a
// ProviderError; 5xx or unparseable bodies mean the upstream is unavailable.
func decodeError(status int, data []byte) error {
	var payload struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: provider returned %d", domain.ErrUpstreamUnavailable, status)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		if status == http.StatusNotFound {
			return &ProviderError{Status: status, Message: http.StatusText(status)}
		}
		return fmt.Errorf("%w: provider returned %d with unreadable body", domain.ErrUpstreamUnavailable, status)
	}
	perr := &ProviderError{Status: status, Message: payload.Message}
	if payload.Error != nil {
		perr.Code = payload.Error.Code
		if payload.Error.Message != "" {
			perr.Message = payload.Error.Message
		}
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(status)
	}
	return perr
}

func branchOrDefault(branch string) string {
	if b := strings.TrimSpace(branch); b != "" {
		return b
	}
	return "main"
}
