package httpapi

import (
	"net/http"
	"strconv"

	"neon.nuty.works/internal/audit"
	"neon.nuty.works/internal/auth"
)

type setRoleRequest struct {
	Role string `json:"role"`
}

// handleUserCircle grants or revokes a manual ownership edge.
func (a *API) handleUserCircle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
		return
	}
	if err := auth.CheckModerator(currentIdentity(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	circleID, ok := pathID(w, r, "circle_id")
	if !ok {
		return
	}

	var (
		err   error
		event string
	)
	if r.Method == http.MethodPut {
		err = a.auth.GrantCircle(r.Context(), userID, circleID)
		event = audit.EventCircleGranted
	} else {
		err = a.auth.RevokeCircle(r.Context(), userID, circleID)
		event = audit.EventCircleRevoked
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.record(r.Context(), event, map[string]any{
		"target_id": userID,
		"circle_id": circleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if err := auth.CheckAdmin(currentIdentity(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.auth.SetRole(r.Context(), userID, role); err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.record(r.Context(), audit.EventRoleChanged, map[string]any{
		"target_id": userID,
		"role":      string(role),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleCirclePermission answers whether the caller may modify the circle.
func (a *API) handleCirclePermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	circleID, ok := pathID(w, r, "circle_id")
	if !ok {
		return
	}
	if err := auth.CheckPermission(currentIdentity(r), circleID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorPayload{
			Message:   "invalid_input",
			Detail:    name + " must be a positive integer",
			RequestID: RequestIDFromContext(r.Context()),
		})
		return 0, false
	}
	return id, true
}
