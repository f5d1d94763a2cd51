package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// session identifies the caller of an authenticated request.
type session struct {
	UserID string
	Login  string
}

type sessionKey struct{}

var (
	errNoCredentials   = errors.New("no bearer token presented")
	errMalformedBearer = errors.New("malformed authorization header")
)

func withSession(ctx context.Context, s session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) (session, bool) {
	s, ok := ctx.Value(sessionKey{}).(session)
	return s, ok && s.UserID != ""
}

// authenticated rejects requests without a valid session token and hands the
// session to next through the request context. The audit recorder receives
// the same context so access logs carry the user.
func (r *Router) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := tokenFromRequest(req)
		if err != nil {
			r.logger.Warn("request not authenticated", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, claims, err := r.auth.Authorize(req.Context(), token)
		if err != nil {
			r.logger.Warn("session token rejected", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		ctx := withSession(req.Context(), session{UserID: user.ID, Login: claims.Login})
		if rec, ok := w.(*statusRecorder); ok {
			rec.ctx = ctx
		}
		next(w, req.WithContext(ctx))
	}
}

// tokenFromRequest reads the bearer token. Websocket upgrades from browsers
// cannot set headers, so /ws/ paths may pass access_token in the query.
func tokenFromRequest(req *http.Request) (string, error) {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if header == "" {
		if strings.HasPrefix(req.URL.Path, "/ws/") {
			if token := strings.TrimSpace(req.URL.Query().Get("access_token")); token != "" {
				return token, nil
			}
		}
		return "", errNoCredentials
	}
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", errMalformedBearer
	}
	return token, nil
}
