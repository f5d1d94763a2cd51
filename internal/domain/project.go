package domain

import (
	"strings"
	"time"
)

// DefaultFramework is applied when a deploy request names none.
const DefaultFramework = "nextjs"

// Project maps a user's source repository to a provider-hosted project.
type Project struct {
	ID         string
	Name       string
	GithubRepo string
	Framework  string
	UserID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProjectSummary pairs a project with its most recent deployment, if any.
type ProjectSummary struct {
	Project          Project
	LatestDeployment *Deployment
}

// CanonicalName derives the provider project name from a repository name.
func CanonicalName(repoName string) string {
	return strings.ToLower(strings.TrimSpace(repoName))
}

// ProjectDomain is a custom domain attached to a provider project.
type ProjectDomain struct {
	Name      string
	ApexName  string
	Verified  bool
	CreatedAt time.Time
}
