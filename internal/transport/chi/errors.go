package chi

import (
	"context"
	"errors"
	"net/http"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// statusClientClosedRequest is written when the caller went away mid-request.
const statusClientClosedRequest = 499

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		// before validation: a quarantine may wrap invalid input
		sentinelHandler(domain.ErrQuarantined, http.StatusUnprocessableEntity, codeQuarantined),
		validationHandler,
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrSearchUnavailable, http.StatusServiceUnavailable, codeSearchUnavailable),
		sentinelHandler(context.Canceled, statusClientClosedRequest, codeCanceled),
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// The client sees the sentinel text only.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// validationHandler exposes the full message of invalid input: it describes the request.
func validationHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrInvalidInput) {
		return false
	}
	writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
	return true
}
