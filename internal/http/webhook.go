package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/service/webhook"
)

func (r *Router) handleGitHubWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	event := req.Header.Get(webhook.EventHeader)
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.recordWebhook(event, http.StatusRequestEntityTooLarge)
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		r.recordWebhook(event, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	result, err := r.webhook.Handle(req.Context(), event, req.Header.Get(webhook.SignatureHeader), body)
	if err != nil {
		r.recordWebhook(event, statusFor(err))
		if errors.Is(err, domain.ErrDeployTriggerFailed) {
			r.recordDeployment("webhook", err)
		}
		r.writeServiceError(w, req, err)
		return
	}
	if result.DeploymentID != "" {
		r.recordDeployment("webhook", nil)
	}
	r.recordWebhook(event, http.StatusOK)
	writeJSON(w, http.StatusOK, result)
}
