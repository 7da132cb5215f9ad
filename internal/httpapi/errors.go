package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/oauthlink"
	"neon.nuty.works/internal/obs"
)

// errorPayload is the body of every non-2xx JSON response.
type errorPayload struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind string) {
	writeJSON(w, code, errorPayload{
		Message:   kind,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// errorKind maps a domain error to its status and wire kind.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "authentication_failed"
	case errors.Is(err, auth.ErrTokenMissing):
		return http.StatusUnauthorized, "token_missing"
	case errors.Is(err, auth.ErrTokenMalformed):
		return http.StatusUnauthorized, "token_malformed"
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, "token_invalid"
	case errors.Is(err, auth.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, oauthlink.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, oauthlink.ErrProviderUnavailable):
		return http.StatusInternalServerError, "provider_unavailable"
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

// writeDomainError renders err. Server-side failures are logged and never echoed to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := errorKind(err)
	payload := errorPayload{
		Message:   kind,
		RequestID: RequestIDFromContext(r.Context()),
	}
	if code >= http.StatusInternalServerError {
		obs.Error("request failed", err, map[string]any{
			"request_id": payload.RequestID,
			"path":       r.URL.Path,
			"kind":       kind,
		})
	}
	if errors.Is(err, auth.ErrInvalidInput) {
		payload.Detail = strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": ")
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeBadBody(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, http.StatusBadRequest, errorPayload{
		Message:   "invalid_request",
		Detail:    err.Error(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
}
