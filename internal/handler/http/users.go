package http

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	user, err := h.repo.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// getUser returns the profile with live presence folded in. Presence is only
// disclosed to users sharing a conversation with the subject.
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.repo.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := toUserResponse(user)

	if id != p.UserID {
		peers, err := h.repo.PeersOf(r.Context(), p.UserID)
		if err == nil && containsID(peers, id) {
			snap := h.presence.Snapshot(r.Context(), []uuid.UUID{id})
			if len(snap) == 1 {
				resp.Status = snap[0].Status
				resp.Custom = snap[0].Custom
			}
		} else {
			resp.Status = model.StatusUnknown
			resp.Custom = nil
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	req, err := decodeBody[struct {
		Status model.PresenceStatus `json:"status"`
		Custom *model.CustomStatus  `json:"custom,omitempty"`
	}](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.presence.SetStatus(r.Context(), p.UserID, req.Status, req.Custom); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func containsID(ids []uuid.UUID, target uuid.UUID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
