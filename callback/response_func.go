package callback

import (
	"net/http"

	"github.com/openidc/rp/oidc"
	"github.com/openidc/rp/session"
)

// SuccessResponseFunc renders the response for a completed authentication
// flow. It receives the established session and the URL the browser
// originally asked for before being sent to the provider.
type SuccessResponseFunc func(w http.ResponseWriter, r *http.Request, s *session.Session, originalURL string)

// ErrorResponseFunc renders the response for a failed flow. The error is
// always classified; oidc.KindOf distinguishes protocol, validation,
// network, cache and configuration failures.
type ErrorResponseFunc func(w http.ResponseWriter, r *http.Request, err error)

// DefaultSuccessResponse restores the original request with a 303 redirect.
// A 303 always re-issues as a GET; callers that must replay a non-GET
// original request need their own SuccessResponseFunc.
func DefaultSuccessResponse(w http.ResponseWriter, r *http.Request, _ *session.Session, originalURL string) {
	http.Redirect(w, r, originalURL, http.StatusSeeOther)
}

// DefaultErrorResponse maps the error's classification onto an HTTP status
// and writes the error text. A failed flow is never rendered as
// authenticated.
func DefaultErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch oidc.KindOf(err) {
	case oidc.ErrParameterViolation, oidc.ErrProtocolViolation:
		status = http.StatusBadRequest
	case oidc.ErrIntegrityViolation:
		status = http.StatusUnauthorized
	case oidc.ErrNetworkViolation:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}
