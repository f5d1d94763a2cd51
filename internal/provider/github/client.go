// Package github lists repositories and resolves identities with a user's
// GitHub access token.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/zakisheriff/One-Deploy/internal/domain"
)

const pageSize = 100

// Identity is the GitHub account behind a token.
type Identity struct {
	ID    int64
	Login string
	Name  string
	Email string
}

// Client wraps go-github. It holds no per-user state.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
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

// WithBaseURL points the client at another API host, such as a test server.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(base)
		if trimmed == "" {
			return
		}
		if !strings.HasSuffix(trimmed, "/") {
			trimmed += "/"
		}
		if parsed, err := url.Parse(trimmed); err == nil {
			c.baseURL = parsed
		}
	}
}

// New constructs a Client.
func New(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) forToken(token string) *gh.Client {
	client := gh.NewClient(c.httpClient).WithAuthToken(token)
	if c.baseURL != nil {
		client.BaseURL = c.baseURL
	}
	return client
}

// ListRepositories returns every repository the token can see, most recently
// updated first, capped at one page.
func (c *Client) ListRepositories(ctx context.Context, token string) ([]domain.SourceRepo, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrMissingCredential
	}
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Visibility:  "all",
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}
	repos, _, err := c.forToken(token).Repositories.ListByAuthenticatedUser(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list repositories: %v", domain.ErrUpstreamUnavailable, err)
	}
	out := make([]domain.SourceRepo, 0, len(repos))
	for _, r := range repos {
		out = append(out, domain.SourceRepo{
			ID:            r.GetID(),
			Name:          r.GetName(),
			FullName:      r.GetFullName(),
			Private:       r.GetPrivate(),
			HTMLURL:       r.GetHTMLURL(),
			Description:   r.GetDescription(),
			Language:      r.GetLanguage(),
			UpdatedAt:     r.GetUpdatedAt().Time,
			DefaultBranch: r.GetDefaultBranch(),
		})
	}
	return out, nil
}

// CurrentUser resolves the account that owns the token.
func (c *Client) CurrentUser(ctx context.Context, token string) (Identity, error) {
	user, _, err := c.forToken(token).Users.Get(ctx, "")
	if err != nil {
		return Identity{}, fmt.Errorf("%w: fetch user: %v", domain.ErrUpstreamUnavailable, err)
	}
	return Identity{
		ID:    user.GetID(),
		Login: user.GetLogin(),
		Name:  user.GetName(),
		Email: user.GetEmail(),
	}, nil
}
