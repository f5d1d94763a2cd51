package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zakisheriff/One-Deploy/internal/service/deploy"
)

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	summaries, err := r.deploy.ListProjects(req.Context(), caller.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	views := make([]projectView, 0, len(summaries))
	for _, s := range summaries {
		views = append(views, toProjectView(s.Project, s.LatestDeployment))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": views})
}

// handleProjectSubroutes dispatches /projects/deploy and /projects/{name}/...
func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/projects/"), "/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 1 && parts[0] == "deploy" && req.Method == http.MethodPost {
		r.handleDeploy(w, req)
		return
	}
	name := parts[0]
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		r.handleDeleteProject(w, req, name)
	case len(parts) == 2 && parts[1] == "deployments":
		r.handleProjectDeployments(w, req, name)
	case parts[1] == "domains" && len(parts) <= 3:
		host := ""
		if len(parts) == 3 {
			host = parts[2]
		}
		r.handleProjectDomains(w, req, name, host)
	case len(parts) == 2 && parts[1] == "logs":
		r.handleProjectLogs(w, req, name)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	decision := r.limiter.Allow("/projects/deploy|user:"+caller.UserID, rateLimitDeploy, rateWindowDefault)
	applyRateHeaders(w, rateLimitDeploy, decision)
	if !decision.allowed {
		r.recordRateLimitHit("/projects/deploy", "user")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var payload struct {
		RepoName      string `json:"repoName"`
		RepoFullName  string `json:"repoFullName"`
		RepoID        int64  `json:"repoId"`
		DefaultBranch string `json:"defaultBranch"`
		Framework     string `json:"framework"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.deploy.Deploy(req.Context(), deploy.DeployInput{
		UserID:       caller.UserID,
		RepoName:     payload.RepoName,
		RepoFullName: payload.RepoFullName,
		RepoID:       payload.RepoID,
		Branch:       payload.DefaultBranch,
		Framework:    payload.Framework,
	})
	r.recordDeployment("api", err)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"deploymentId":       result.DeploymentID,
		"vercelDeploymentId": result.VercelDeploymentID,
		"project":            toProjectView(result.Project, &result.Deployment),
	})
}

func (r *Router) handleDeleteProject(w http.ResponseWriter, req *http.Request, name string) {
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	if err := r.deploy.Delete(req.Context(), caller.UserID, name); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (r *Router) handleProjectDeployments(w http.ResponseWriter, req *http.Request, name string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	project, deployments, err := r.deploy.ListDeployments(req.Context(), caller.UserID, name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	views := make([]deploymentView, 0, len(deployments))
	for _, d := range deployments {
		views = append(views, toDeploymentView(d))
	}
	response := map[string]any{"deployments": views, "project": nil}
	if project != nil {
		response["project"] = toProjectView(*project, nil)
	}
	writeJSON(w, http.StatusOK, response)
}

func (r *Router) handleProjectDomains(w http.ResponseWriter, req *http.Request, name, host string) {
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	ctx := req.Context()
	switch req.Method {
	case http.MethodGet:
		domains, err := r.deploy.ListDomains(ctx, caller.UserID, name)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		views := make([]domainView, 0, len(domains))
		for _, d := range domains {
			views = append(views, toDomainView(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": views})
	case http.MethodPost:
		var payload struct {
			Domain string `json:"domain"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		added, err := r.deploy.AddDomain(ctx, caller.UserID, name, payload.Domain)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, toDomainView(added))
	case http.MethodDelete:
		if host == "" {
			host = req.URL.Query().Get("domain")
		}
		if err := r.deploy.RemoveDomain(ctx, caller.UserID, name, host); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		r.methodNotAllowed(w)
	}
}

// handleDeploymentSubroutes serves /deployments/{id} and /deployments/{id}/status.
func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/deployments/"), "/")
	parts := strings.Split(trimmed, "/")
	if trimmed == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "status") {
		r.notFound(w)
		return
	}
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	vercelID := parts[0]

	if len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		obs, err := r.reconcile.Observe(req.Context(), caller.UserID, vercelID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, obs)
		return
	}

	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Status string `json:"status"`
		URL    string `json:"url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dep, err := r.reconcile.UpdateStatus(req.Context(), caller.UserID, vercelID, payload.Status, payload.URL)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentView(dep))
}
