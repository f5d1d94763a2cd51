package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/provider/github"
	"github.com/zakisheriff/One-Deploy/internal/repository"
	"github.com/zakisheriff/One-Deploy/pkg/config"
	"github.com/zakisheriff/One-Deploy/pkg/crypto"
	jwtpkg "github.com/zakisheriff/One-Deploy/pkg/jwt"
)

// Scopes requested from GitHub at sign-in.
var Scopes = []string{"repo", "read:user", "user:email"}

// Identity resolves GitHub accounts and their repositories.
type Identity interface {
	CurrentUser(ctx context.Context, token string) (github.Identity, error)
	ListRepositories(ctx context.Context, token string) ([]domain.SourceRepo, error)
}

// Exchanger runs the OAuth authorization code flow. *oauth2.Config satisfies it.
type Exchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// NewOAuthConfig builds the GitHub OAuth client configuration.
func NewOAuthConfig(cfg config.APIConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		Scopes:       Scopes,
		Endpoint:     githuboauth.Endpoint,
	}
}

// Service handles GitHub sign-in, session tokens and linked credentials.
type Service struct {
	users    repository.UserRepository
	accounts repository.AccountRepository
	identity Identity
	oauth    Exchanger
	logger   *slog.Logger
	cfg      config.APIConfig
	sessions jwtpkg.Signer
}

// New constructs a Service.
func New(users repository.UserRepository, accounts repository.AccountRepository, identity Identity, oauth Exchanger, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, accounts: accounts, identity: identity, oauth: oauth, logger: logger.With("component", "auth"), cfg: cfg, sessions: jwtpkg.NewSigner(cfg.JWTSecret, cfg.AccessTokenTTL)}
}

// TokenPair contains the issued session token.
type TokenPair struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// NewState returns an unguessable OAuth state value.
func NewState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// LoginURL returns the GitHub authorization URL for state.
func (s Service) LoginURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Callback completes sign-in: it exchanges the code, upserts the user, stores
// the encrypted GitHub token and issues a session token.
func (s Service) Callback(ctx context.Context, code string) (*domain.User, TokenPair, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, TokenPair{}, fmt.Errorf("%w: authorization code is required", domain.ErrInvalidArgument)
	}
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("oauth code exchange failed", "error", err)
		return nil, TokenPair{}, fmt.Errorf("%w: code exchange failed", domain.ErrUnauthorized)
	}
	scope, _ := token.Extra("scope").(string)
	return s.link(ctx, token.AccessToken, scope)
}

// LoginWithToken signs in with a GitHub personal access token.
func (s Service) LoginWithToken(ctx context.Context, githubToken string) (*domain.User, TokenPair, error) {
	githubToken = strings.TrimSpace(githubToken)
	if githubToken == "" {
		return nil, TokenPair{}, fmt.Errorf("%w: token is required", domain.ErrInvalidArgument)
	}
	return s.link(ctx, githubToken, "")
}

func (s Service) link(ctx context.Context, githubToken, scope string) (*domain.User, TokenPair, error) {
	ident, err := s.identity.CurrentUser(ctx, githubToken)
	if err != nil {
		return nil, TokenPair{}, err
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:        uuid.NewString(),
		GithubID:  ident.ID,
		Login:     ident.Login,
		Name:      ident.Name,
		Email:     ident.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.UpsertUserByGithubID(ctx, user); err != nil {
		return nil, TokenPair{}, err
	}

	ciphertext, err := crypto.EncryptString(s.cfg.CredentialEncryptionKey, githubToken)
	if err != nil {
		return nil, TokenPair{}, err
	}
	account := domain.Account{
		UserID:      user.ID,
		Provider:    domain.ProviderGitHub,
		AccessToken: ciphertext,
		Scope:       scope,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.accounts.UpsertAccount(ctx, account); err != nil {
		return nil, TokenPair{}, err
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user signed in", "user_id", user.ID, "login", user.Login)
	return user, tokens, nil
}

// Authorize validates a bearer token and returns the associated user and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.SessionClaims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, fmt.Errorf("%w: token required", domain.ErrUnauthorized)
	}
	claims, err := s.sessions.Verify(trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: unknown user", domain.ErrUnauthorized)
		}
		return nil, nil, err
	}
	return user, claims, nil
}

// GitHubToken returns the user's decrypted GitHub access token.
func (s Service) GitHubToken(ctx context.Context, userID string) (string, error) {
	account, err := s.accounts.GetAccount(ctx, userID, domain.ProviderGitHub)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.ErrMissingCredential
		}
		return "", err
	}
	if len(account.AccessToken) == 0 {
		return "", domain.ErrMissingCredential
	}
	token, err := crypto.DecryptToString(s.cfg.CredentialEncryptionKey, account.AccessToken)
	if err != nil {
		s.logger.Error("failed to decrypt linked credential", "user_id", userID, "error", err)
		return "", domain.ErrMissingCredential
	}
	return token, nil
}

// Repositories lists the repositories visible to the user's linked token.
func (s Service) Repositories(ctx context.Context, userID string) ([]domain.SourceRepo, error) {
	token, err := s.GitHubToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.identity.ListRepositories(ctx, token)
}

func (s Service) issueTokens(user *domain.User) (TokenPair, error) {
	access, _, err := s.sessions.Issue(user.ID, user.Login)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
