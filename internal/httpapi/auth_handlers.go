package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"neon.nuty.works/internal/audit"
	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/obs"
)

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
	Persist  bool   `json:"persist"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req auth.NewIdentity
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}

	ident, err := a.auth.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	a.record(r.Context(), audit.EventRegistered, map[string]any{
		"identity_id": ident.ID,
		"handle":      ident.Handle,
	})
	writeJSON(w, http.StatusCreated, ident)
}

func (a *API) handleCheckHandle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	handle := strings.TrimSpace(r.URL.Query().Get("handle"))
	if handle == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{
			Message:   "invalid_input",
			Detail:    "handle is required",
			RequestID: RequestIDFromContext(r.Context()),
		})
		return
	}
	exists, err := a.auth.HandleExists(r.Context(), handle)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}

	tok, ident, err := a.auth.Login(r.Context(), req.Handle, req.Password, req.Persist)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			obs.ObserveLogin("failure")
			a.record(r.Context(), audit.EventLoginFailed, map[string]any{
				"handle":    strings.TrimSpace(req.Handle),
				"remote_ip": a.proxies.ClientIP(r),
			})
		} else {
			obs.ObserveLogin("error")
		}
		writeDomainError(w, r, err)
		return
	}

	obs.ObserveLogin("success")
	ctx := auth.ContextWithIdentity(r.Context(), ident)
	a.record(ctx, audit.EventLogin, map[string]any{
		"selector": tok.Selector,
		"persist":  req.Persist,
	})
	a.setSessionCookie(w, tok)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ident := currentIdentity(r)
	if err := a.auth.Logout(r.Context(), ident.ID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.record(r.Context(), audit.EventLogout, nil)
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	ident := currentIdentity(r)

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ident)

	case http.MethodPatch:
		var upd auth.ProfileUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			writeBadBody(w, r, err)
			return
		}
		updated, err := a.auth.UpdateProfile(r.Context(), ident.ID, upd)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if upd.Nickname != nil || upd.Email != nil {
			a.record(r.Context(), audit.EventProfileUpdated, map[string]any{
				"nickname": upd.Nickname != nil,
				"email":    upd.Email != nil,
			})
		}
		if upd.NewPassword != nil {
			// every session, including this one, is gone
			a.record(r.Context(), audit.EventPasswordRotated, nil)
			a.clearSessionCookie(w)
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		if err := a.auth.DeleteAccount(r.Context(), ident.ID); err != nil {
			writeDomainError(w, r, err)
			return
		}
		a.record(r.Context(), audit.EventAccountDeleted, map[string]any{"handle": ident.Handle})
		a.clearSessionCookie(w)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}
