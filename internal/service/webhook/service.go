// Package webhook turns GitHub push deliveries into redeployments.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	gh "github.com/google/go-github/v66/github"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/repository"
	"github.com/zakisheriff/One-Deploy/internal/service/deploy"
)

const (
	// SignatureHeader carries the HMAC of the raw delivery body.
	SignatureHeader = "X-Hub-Signature-256"
	// EventHeader names the delivery's event type.
	EventHeader = "X-GitHub-Event"

	signaturePrefix = "sha256="
	defaultBranch   = "main"
)

// Deployer redeploys a project from a repository push.
type Deployer interface {
	RedeployFromPush(ctx context.Context, project domain.Project, repoFullName, branch string) (deploy.Result, error)
}

// CredentialSource resolves a user's linked GitHub token.
type CredentialSource interface {
	GitHubToken(ctx context.Context, userID string) (string, error)
}

// Result describes how a delivery was handled.
type Result struct {
	Message            string `json:"message"`
	DeploymentID       string `json:"deploymentId,omitempty"`
	VercelDeploymentID string `json:"vercelDeploymentId,omitempty"`
}

// Service validates and dispatches webhook deliveries.
type Service struct {
	secret      []byte
	projects    repository.ProjectRepository
	credentials CredentialSource
	deployer    Deployer
	logger      *slog.Logger
}

// New constructs a webhook service. An empty secret disables signature checks.
func New(secret string, projects repository.ProjectRepository, credentials CredentialSource, deployer Deployer, logger *slog.Logger) Service {
	return Service{
		secret:      []byte(strings.TrimSpace(secret)),
		projects:    projects,
		credentials: credentials,
		deployer:    deployer,
		logger:      logger.With("component", "webhook"),
	}
}

// Sign returns the header value GitHub would send for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks the delivery signature when a secret is configured.
func (s Service) ValidateSignature(payload []byte, provided string) error {
	if len(s.secret) == 0 {
		return nil
	}
	if provided == "" {
		return fmt.Errorf("%w: missing %s header", domain.ErrInvalidSignature, SignatureHeader)
	}
	if !hmac.Equal([]byte(provided), []byte(Sign(s.secret, payload))) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Handle processes one delivery. Ignored events yield a Result with no
// deployment; every valid push on the default branch of a tracked repository
// produces exactly one deployment row.
func (s Service) Handle(ctx context.Context, event, signature string, body []byte) (Result, error) {
	if err := s.ValidateSignature(body, signature); err != nil {
		s.logger.Warn("rejected webhook delivery", "event", event, "error", err)
		return Result{}, err
	}
	if event != "push" {
		return Result{Message: fmt.Sprintf("Ignoring %s event", event)}, nil
	}

	parsed, err := gh.ParseWebHook(event, body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: parse push payload: %v", domain.ErrInvalidArgument, err)
	}
	push, ok := parsed.(*gh.PushEvent)
	if !ok || push.GetRepo() == nil {
		return Result{}, fmt.Errorf("%w: push payload has no repository", domain.ErrInvalidArgument)
	}

	repo := push.GetRepo()
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = defaultBranch
	}
	if push.GetRef() != "refs/heads/"+branch {
		return Result{Message: "Ignoring non-default branch push"}, nil
	}

	fullName := repo.GetFullName()
	project, err := s.projects.GetProjectByGithubRepo(ctx, fullName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("push for untracked repository", "repo", fullName)
			return Result{}, fmt.Errorf("%w: no matching project found", domain.ErrNotFound)
		}
		return Result{}, err
	}

	if _, err := s.credentials.GitHubToken(ctx, project.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, domain.ErrMissingCredential) {
			return Result{}, domain.ErrMissingCredential
		}
		return Result{}, err
	}

	result, err := s.deployer.RedeployFromPush(ctx, *project, fullName, branch)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("push redeploy triggered", "repo", fullName, "project_id", project.ID, "vercel_id", result.VercelDeploymentID)
	return Result{
		Message:            "Deployment triggered",
		DeploymentID:       result.DeploymentID,
		VercelDeploymentID: result.VercelDeploymentID,
	}, nil
}
