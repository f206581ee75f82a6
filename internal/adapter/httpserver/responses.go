// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the broker over a JSON REST API: prompt submission and polling
// for clients, check-in/pop and result submission for workers, plus the user
// ledger and kudos transfer endpoints.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/ai-text-broker/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrNoEligibleWorker):
		code = http.StatusServiceUnavailable
		codeStr = "NO_ELIGIBLE_WORKER"
	case errors.Is(err, domain.ErrInsufficientKudos):
		code = http.StatusBadRequest
		codeStr = "INSUFFICIENT_KUDOS"
	case errors.Is(err, domain.ErrUnknownUser):
		code = http.StatusBadRequest
		codeStr = "UNKNOWN_USER"
	case errors.Is(err, domain.ErrAnonymousForbidden):
		code = http.StatusForbidden
		codeStr = "ANONYMOUS_FORBIDDEN"
	case errors.Is(err, domain.ErrSelfTransfer):
		code = http.StatusBadRequest
		codeStr = "SELF_TRANSFER"
	case errors.Is(err, domain.ErrStaleDispatch):
		code = http.StatusNotFound
		codeStr = "STALE_DISPATCH"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
