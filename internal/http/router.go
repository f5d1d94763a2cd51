package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zakisheriff/One-Deploy/internal/service/auth"
	"github.com/zakisheriff/One-Deploy/internal/service/deploy"
	"github.com/zakisheriff/One-Deploy/internal/service/logs"
	"github.com/zakisheriff/One-Deploy/internal/service/reconcile"
	"github.com/zakisheriff/One-Deploy/internal/service/webhook"
)

// Deps are the services the router dispatches to.
type Deps struct {
	Logger    *slog.Logger
	Auth      auth.Service
	Deploy    deploy.Service
	Reconcile reconcile.Reconciler
	Logs      logs.Service
	Webhook   webhook.Service
	Limiter   RateLimiter
	DBHealth  func(context.Context) error
	// SecureCookies marks the OAuth state cookie Secure.
	SecureCookies bool
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	auth          auth.Service
	deploy        deploy.Service
	reconcile     reconcile.Reconciler
	logs          logs.Service
	webhook       webhook.Service
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	dbHealth      func(context.Context) error
	secureCookies bool
	metrics       *metrics
}

const (
	rateWindowDefault   = time.Minute
	rateWindowRealtime  = 30 * time.Second
	rateLimitLogin      = 12
	rateLimitDeploy     = 20
	rateLimitUserWrite  = 60
	rateLimitUserRead   = 120
	rateLimitWebsocket  = 30
	rateLimitWebhook    = 300
	healthCheckTimeout  = 2 * time.Second
	maxWebhookBodyBytes = 5 << 20
	oauthStateCookie    = "onedeploy_oauth_state"
	oauthStateTTL       = 10 * time.Minute
)

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		auth:      deps.Auth,
		deploy:    deps.Deploy,
		reconcile: deps.Reconcile,
		logs:      deps.Logs,
		webhook:   deps.Webhook,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       deps.Limiter,
		dbHealth:      deps.DBHealth,
		secureCookies: deps.SecureCookies,
		metrics:       newMetrics(),
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", r.metrics.handler())
	r.mux.HandleFunc("/auth/github/login", r.audit("/auth/github/login", r.withRateLimit("/auth/github/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleGitHubLogin)))
	r.mux.HandleFunc("/auth/github/callback", r.audit("/auth/github/callback", r.withRateLimit("/auth/github/callback", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleGitHubCallback)))
	r.mux.HandleFunc("/auth/token", r.audit("/auth/token", r.withRateLimit("/auth/token", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleTokenLogin)))
	r.mux.HandleFunc("/github/repos", r.audit("/github/repos", r.handlerAuthRate("/github/repos", rateLimitUserRead, rateWindowDefault, r.handleRepos)))
	r.mux.HandleFunc("/projects", r.audit("/projects", r.handlerAuthRate("/projects", rateLimitUserRead, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("/projects/{name}", r.handlerAuthRate("/projects/{name}", rateLimitUserWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/deployments/", r.audit("/deployments/{id}", r.handlerAuthRate("/deployments/{id}", rateLimitUserRead, rateWindowDefault, r.handleDeploymentSubroutes)))
	r.mux.HandleFunc("/ws/logs", r.audit("/ws/logs", r.handlerAuthRate("/ws/logs", rateLimitWebsocket, rateWindowRealtime, r.handleLogsWS)))
	r.mux.HandleFunc("/webhooks/github", r.audit("/webhooks/github", r.withRateLimit("/webhooks/github", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleGitHubWebhook)))
}

func (r *Router) handleGitHubLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	state, err := auth.NewState()
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/github",
		MaxAge:   int(oauthStateTTL / time.Second),
		HttpOnly: true,
		Secure:   r.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, req, r.auth.LoginURL(state), http.StatusFound)
}

func (r *Router) handleGitHubCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	if msg := query.Get("error"); msg != "" {
		writeError(w, http.StatusUnauthorized, "github authorization failed: "+msg)
		return
	}
	cookie, err := req.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/auth/github", MaxAge: -1})

	user, tokens, err := r.auth.Callback(req.Context(), query.Get("code"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(user, tokens))
}

func (r *Router) handleTokenLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.LoginWithToken(req.Context(), payload.Token)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(user, tokens))
}

func (r *Router) handleRepos(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.requireSession(w, req)
	if !ok {
		return
	}
	repos, err := r.auth.Repositories(req.Context(), caller.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	views := make([]repoView, 0, len(repos))
	for _, repo := range repos {
		views = append(views, toRepoView(repo))
	}
	writeJSON(w, http.StatusOK, map[string]any{"repos": views})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// requireSession returns the session placed by authenticated.
func (r *Router) requireSession(w http.ResponseWriter, req *http.Request) (session, bool) {
	caller, ok := sessionFrom(req.Context())
	if !ok {
		r.logger.Error("session missing from context", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
	}
	return caller, ok
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if caller, ok := sessionFrom(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", caller.UserID)
			if caller.Login != "" {
				fields = append(fields, "login", caller.Login)
			}
		} else if strings.HasPrefix(req.URL.Path, "/webhooks/") {
			actor = "github"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
