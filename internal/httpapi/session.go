package httpapi

import (
	"errors"
	"net/http"
	"time"

	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/obs"
)

const (
	cookieName = "token"

	// Max-Age for persistent sessions; browsers cap cookie lifetime at 400 days.
	persistentCookieAge = 400 * 24 * time.Hour
)

func (a *API) setSessionCookie(w http.ResponseWriter, tok auth.SessionToken) {
	c := &http.Cookie{
		Name:     cookieName,
		Value:    tok.Token,
		Path:     "/",
		Domain:   a.cookie.Domain,
		Secure:   a.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if tok.ExpiresAt != nil {
		c.Expires = *tok.ExpiresAt
	} else {
		c.MaxAge = int(persistentCookieAge.Seconds())
	}
	http.SetCookie(w, c)
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		Domain:   a.cookie.Domain,
		Secure:   a.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// withSession resolves the token cookie into an identity on the request context.
func (a *API) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var token string
		if c, err := r.Cookie(cookieName); err == nil {
			token = c.Value
		}

		ident, err := a.auth.Validate(r.Context(), token)
		if err != nil {
			obs.ObserveValidation(validationResult(err))
			if errors.Is(err, auth.ErrTokenInvalid) {
				a.clearSessionCookie(w)
			}
			writeDomainError(w, r, err)
			return
		}
		obs.ObserveValidation("ok")

		next(w, r.WithContext(auth.ContextWithIdentity(r.Context(), ident)))
	}
}

func validationResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return "missing"
	case errors.Is(err, auth.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, auth.ErrTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}

func currentIdentity(r *http.Request) auth.Identity {
	ident, _ := auth.IdentityFromContext(r.Context())
	return ident
}
