package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tessera.social/internal/audit"
	"tessera.social/internal/auth"
	"tessera.social/internal/httpx"
	"tessera.social/internal/ids"
)

type updateRoleRequest struct {
	Role string `json:"role"`
}

type suspendRequest struct {
	// Duration in hours; omitted or zero suspends permanently.
	Duration *float64 `json:"duration,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// maxSuspensionHours keeps durations representable as time.Duration.
const maxSuspensionHours = 24 * 365 * 100

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	actor, err := currentIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	targetID, err := pathUserID(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	updated, err := a.svc.UpdateRole(r.Context(), actor, targetID, req.Role)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleUpdate, map[string]any{
		"target_id": targetID,
		"role":      updated.Role.String(),
	})
	httpx.WriteJSON(w, http.StatusOK, userResponse{User: updated})
}

func (a *API) handleSuspend(w http.ResponseWriter, r *http.Request) {
	actor, err := currentIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	targetID, err := pathUserID(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	// an empty body suspends permanently
	var req suspendRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(w, r, err)
		return
	}
	duration, err := suspensionDuration(req.Duration)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	updated, err := a.svc.Suspend(r.Context(), actor, targetID, duration, req.Reason)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	fields := map[string]any{
		"target_id": targetID,
		"permanent": updated.SuspendedUntil == nil,
	}
	if updated.SuspendedUntil != nil {
		fields["until"] = updated.SuspendedUntil.Format(time.RFC3339)
	}
	_ = audit.LogEvent(r.Context(), audit.EventSuspend, fields)
	httpx.WriteJSON(w, http.StatusOK, userResponse{User: updated})
}

func (a *API) handleUnsuspend(w http.ResponseWriter, r *http.Request) {
	actor, err := currentIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	targetID, err := pathUserID(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	updated, err := a.svc.Unsuspend(r.Context(), actor, targetID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUnsuspend, map[string]any{
		"target_id": targetID,
	})
	httpx.WriteJSON(w, http.StatusOK, userResponse{User: updated})
}

// pathUserID returns the {id} route parameter, rejecting anything that is
// not a well-formed user id before the store is consulted.
func pathUserID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if !ids.Valid(id) {
		return "", fmt.Errorf("%w: malformed user id %q", auth.ErrValidation, id)
	}
	return id, nil
}

func suspensionDuration(hours *float64) (time.Duration, error) {
	if hours == nil {
		return 0, nil
	}
	h := *hours
	if math.IsNaN(h) || h < 0 || h > maxSuspensionHours {
		return 0, fmt.Errorf("%w: duration must be between 0 and %d hours", auth.ErrValidation, maxSuspensionHours)
	}
	return time.Duration(h * float64(time.Hour)), nil
}
