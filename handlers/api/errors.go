// Package api holds helpers shared by the HTTP handlers.
package api

import (
	"errors"
	"net/http"

	"cowrite-server/core"
	"cowrite-server/middleware"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// StatusFor maps a domain error to an HTTP status. Permission failures of
// anonymous callers become 401 so clients know to sign in.
func StatusFor(r *http.Request, err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPermissionDenied):
		if middleware.IdentityFrom(r.Context()).Anonymous() {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RenderError writes err as a JSON error body. Server-side failures are
// logged and their details withheld.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(r, err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
		}).WithError(err).Error("Request failed")
		message = http.StatusText(status)
	}

	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}

// BadRequest renders a 400 with message.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]string{"error": message})
}
