package domain

import "time"

// ProviderGitHub names the source-control account provider.
const ProviderGitHub = "github"

// User represents a person signed in through GitHub.
type User struct {
	ID        string
	GithubID  int64
	Login     string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account links a user to an external provider credential.
// AccessToken holds ciphertext, never the raw token.
type Account struct {
	UserID      string
	Provider    string
	AccessToken []byte
	Scope       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SourceRepo is a repository visible to a user's GitHub token.
type SourceRepo struct {
	ID            int64
	Name          string
	FullName      string
	Private       bool
	HTMLURL       string
	Description   string
	Language      string
	UpdatedAt     time.Time
	DefaultBranch string
}
