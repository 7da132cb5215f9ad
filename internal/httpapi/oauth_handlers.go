package httpapi

import (
	"errors"
	"net/http"

	"neon.nuty.works/internal/audit"
	"neon.nuty.works/internal/oauthlink"
	"neon.nuty.works/internal/obs"
)

func (a *API) handleLinkStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ident := currentIdentity(r)
	target, err := a.link.Initiate(r.Context(), ident.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.record(r.Context(), audit.EventLinkStarted, nil)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// handleLinkCallback is reached by the provider redirect, so it is not behind a session.
// The attempt alone ties the callback to an identity.
func (a *API) handleLinkCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	res, err := a.link.Callback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, oauthlink.ErrInvalidRequest):
			result = "invalid_request"
		case errors.Is(err, oauthlink.ErrProviderUnavailable):
			result = "provider_unavailable"
		}
		obs.ObserveLink(result)
		a.record(r.Context(), audit.EventLinkFailed, map[string]any{"reason": result})
		writeDomainError(w, r, err)
		return
	}

	obs.ObserveLink("success")
	a.record(r.Context(), audit.EventLinked, map[string]any{
		"identity_id": res.IdentityID,
		"handle":      res.Handle,
		"circles":     res.Circles,
	})
	http.Redirect(w, r, a.landing, http.StatusTemporaryRedirect)
}
