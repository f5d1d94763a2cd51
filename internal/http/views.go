package httpx

import (
	"time"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/service/auth"
)

type userView struct {
	ID    string `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type tokenView struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func sessionView(user *domain.User, tokens auth.TokenPair) map[string]any {
	return map[string]any{
		"user": userView{ID: user.ID, Login: user.Login, Name: user.Name, Email: user.Email},
		"tokens": tokenView{
			AccessToken: tokens.AccessToken,
			ExpiresIn:   int64(tokens.ExpiresIn / time.Second),
		},
	}
}

type repoView struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	Private       bool      `json:"private"`
	HTMLURL       string    `json:"htmlUrl"`
	Description   string    `json:"description,omitempty"`
	Language      string    `json:"language,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
	DefaultBranch string    `json:"defaultBranch"`
}

func toRepoView(r domain.SourceRepo) repoView {
	return repoView{
		ID:            r.ID,
		Name:          r.Name,
		FullName:      r.FullName,
		Private:       r.Private,
		HTMLURL:       r.HTMLURL,
		Description:   r.Description,
		Language:      r.Language,
		UpdatedAt:     r.UpdatedAt,
		DefaultBranch: r.DefaultBranch,
	}
}

type deploymentView struct {
	ID                 string    `json:"id"`
	VercelDeploymentID string    `json:"vercelDeploymentId"`
	Status             string    `json:"status"`
	URL                string    `json:"url,omitempty"`
	ProjectID          string    `json:"projectId"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func toDeploymentView(d domain.Deployment) deploymentView {
	return deploymentView{
		ID:                 d.ID,
		VercelDeploymentID: d.VercelID,
		Status:             string(d.Status),
		URL:                d.URL,
		ProjectID:          d.ProjectID,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

type projectView struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	GithubRepo       string          `json:"githubRepo"`
	Framework        string          `json:"framework"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	LatestDeployment *deploymentView `json:"latestDeployment,omitempty"`
}

func toProjectView(p domain.Project, latest *domain.Deployment) projectView {
	view := projectView{
		ID:         p.ID,
		Name:       p.Name,
		GithubRepo: p.GithubRepo,
		Framework:  p.Framework,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	if latest != nil {
		d := toDeploymentView(*latest)
		view.LatestDeployment = &d
	}
	return view
}

type domainView struct {
	Name      string     `json:"name"`
	ApexName  string     `json:"apexName,omitempty"`
	Verified  bool       `json:"verified"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func toDomainView(d domain.ProjectDomain) domainView {
	view := domainView{Name: d.Name, ApexName: d.ApexName, Verified: d.Verified}
	if !d.CreatedAt.IsZero() {
		created := d.CreatedAt
		view.CreatedAt = &created
	}
	return view
}
