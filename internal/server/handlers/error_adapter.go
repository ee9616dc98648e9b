package handlers

import (
	"errors"
	"net/http"

	"github.com/3leaps/jobprobe/internal/server/jobs"
	"github.com/3leaps/jobprobe/internal/server/middleware"
)

// HTTPErrorResponder writes an error to the client.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = defaultErrorResponder

// SetHTTPErrorResponder replaces the error responder. Nil restores the
// default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		fn = defaultErrorResponder
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default error responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// badRequest marks client input errors.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	var br *badRequest
	switch {
	case errors.As(err, &br), errors.Is(err, jobs.ErrUnknownModel):
		middleware.WriteError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, jobs.ErrJobNotFound):
		middleware.WriteError(w, r, http.StatusNotFound, middleware.CodeNotFound, err.Error(), nil)
	default:
		middleware.WriteError(w, r, http.StatusInternalServerError, middleware.CodeInternal, err.Error(), nil)
	}
}
