package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/provider/github"
	"github.com/zakisheriff/One-Deploy/internal/repository/repotest"
	"github.com/zakisheriff/One-Deploy/pkg/config"
)

type fakeIdentity struct {
	identity github.Identity
	repos    []domain.SourceRepo
	tokens   []string
}

func (f *fakeIdentity) CurrentUser(_ context.Context, token string) (github.Identity, error) {
	f.tokens = append(f.tokens, token)
	return f.identity, nil
}

func (f *fakeIdentity) ListRepositories(_ context.Context, token string) ([]domain.SourceRepo, error) {
	f.tokens = append(f.tokens, token)
	return f.repos, nil
}

type fakeExchanger struct {
	err error
}

func (f fakeExchanger) AuthCodeURL(state string, _ ...oauth2.AuthCodeOption) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (f fakeExchanger) Exchange(_ context.Context, code string, _ ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	token := &oauth2.Token{AccessToken: "gho_" + code}
	return token.WithExtra(map[string]any{"scope": "repo,read:user"}), nil
}

func newTestService(opts ...func(*Service)) (Service, *repotest.Store, *fakeIdentity) {
	store := repotest.New()
	identity := &fakeIdentity{
		identity: github.Identity{ID: 7, Login: "octo", Name: "Octo Cat", Email: "octo@example.com"},
		repos:    []domain.SourceRepo{{ID: 1, Name: "my-site", FullName: "octo/my-site"}},
	}
	cfg := config.APIConfig{JWTSecret: "test-secret", CredentialEncryptionKey: "enc-key", AccessTokenTTL: time.Hour}
	svc := New(store, store, identity, fakeExchanger{}, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	for _, opt := range opts {
		opt(&svc)
	}
	return svc, store, identity
}

func TestCallbackLinksAccountAndIssuesToken(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	user, tokens, err := svc.Callback(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "octo", user.Login)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, time.Hour, tokens.ExpiresIn)

	account, err := store.GetAccount(ctx, user.ID, domain.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, "repo,read:user", account.Scope)
	assert.NotContains(t, string(account.AccessToken), "gho_abc")

	token, err := svc.GitHubToken(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", token)

	authed, claims, err := svc.Authorize(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
	assert.Equal(t, "octo", claims.Login)
}

func TestCallbackIsIdempotentPerGithubUser(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, _, err := svc.Callback(ctx, "one")
	require.NoError(t, err)
	second, _, err := svc.Callback(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	token, err := svc.GitHubToken(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "gho_two", token)
}

func TestCallbackRejectsBadCode(t *testing.T) {
	svc, _, _ := newTestService(func(s *Service) {
		s.oauth = fakeExchanger{err: errors.New("bad_verification_code")}
	})

	_, _, err := svc.Callback(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = svc.Callback(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAuthorizeRejectsInvalidTokens(t *testing.T) {
	svc, _, _ := newTestService()

	_, _, err := svc.Authorize(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = svc.Authorize(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGitHubTokenMissingAccount(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.GitHubToken(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrMissingCredential)

	_, err = svc.Repositories(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
}

func TestRepositoriesUsesLinkedToken(t *testing.T) {
	svc, _, identity := newTestService()
	ctx := context.Background()

	user, _, err := svc.LoginWithToken(ctx, "ghp_personal")
	require.NoError(t, err)

	repos, err := svc.Repositories(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "ghp_personal", identity.tokens[len(identity.tokens)-1])
}

func TestLoginURLAndState(t *testing.T) {
	svc, _, _ := newTestService()

	state, err := NewState()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(state), 40)
	assert.True(t, strings.HasSuffix(svc.LoginURL(state), state))

	cfg := NewOAuthConfig(config.APIConfig{GitHubClientID: "cid", GitHubRedirectURL: "http://localhost/cb"})
	assert.Contains(t, cfg.AuthCodeURL("xyz"), "client_id=cid")
	assert.Equal(t, Scopes, cfg.Scopes)
}
