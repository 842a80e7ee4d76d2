package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	convs, err := h.repo.ListConversations(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

type createConversationRequest struct {
	Kind         model.ConversationKind `json:"kind"`
	Name         string                 `json:"name"`
	Participants []uuid.UUID            `json:"participantIds"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	req, err := decodeBody[createConversationRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Kind != model.ConversationGroup {
		writeError(w, model.NewError(model.CodeBadRequest, "use /conversations/direct for direct conversations"))
		return
	}
	if len(req.Participants) == 0 {
		writeError(w, model.NewError(model.CodeBadRequest, "participants required"))
		return
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:           uuid.New(),
		Kind:         model.ConversationGroup,
		Name:         req.Name,
		CreatedAt:    now,
		LastActivity: now,
		Participants: []model.Participant{{UserID: p.UserID, IsAdmin: true, JoinedAt: now}},
	}
	for _, id := range req.Participants {
		if id == p.UserID {
			continue
		}
		conv.Participants = append(conv.Participants, model.Participant{UserID: id, JoinedAt: now})
	}

	if err := h.repo.CreateConversation(r.Context(), conv); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// createDirectConversation is idempotent: the existing direct conversation
// between the pair is returned when one exists.
func (h *Handler) createDirectConversation(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	req, err := decodeBody[struct {
		UserID uuid.UUID `json:"userId"`
	}](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == p.UserID || req.UserID == uuid.Nil {
		writeError(w, model.NewError(model.CodeBadRequest, "invalid peer"))
		return
	}
	if _, err := h.repo.GetUser(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}

	if existing, err := h.repo.FindDirectConversation(r.Context(), p.UserID, req.UserID); err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:           uuid.New(),
		Kind:         model.ConversationDirect,
		CreatedAt:    now,
		LastActivity: now,
		Participants: []model.Participant{
			{UserID: p.UserID, JoinedAt: now},
			{UserID: req.UserID, JoinedAt: now},
		},
	}
	if err := h.repo.CreateConversation(r.Context(), conv); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// memberConversation loads the conversation and enforces membership.
func (h *Handler) memberConversation(r *http.Request) (*model.Conversation, error) {
	p := principalFrom(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		return nil, err
	}
	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(p.UserID) {
		// Hide existence from non-members.
		return nil, model.ErrNotFound
	}
	return conv, nil
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.memberConversation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) renameConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.memberConversation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := decodeBody[struct {
		Name string `json:"name"`
	}](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.RenameConversation(r.Context(), conv.ID, req.Name); err != nil {
		writeError(w, err)
		return
	}
	h.router.InvalidateConversation(conv.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addParticipant(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	conv, err := h.memberConversation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if conv.Kind != model.ConversationGroup {
		writeError(w, model.NewError(model.CodeBadRequest, "direct conversations have a fixed pair"))
		return
	}
	if !h.isAdmin(conv, p.UserID) {
		writeError(w, model.ErrForbidden)
		return
	}
	req, err := decodeBody[struct {
		UserID uuid.UUID `json:"userId"`
	}](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.repo.GetUser(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.AddParticipant(r.Context(), conv.ID, req.UserID, false); err != nil {
		writeError(w, err)
		return
	}
	h.router.InvalidateConversation(conv.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	conv, err := h.memberConversation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := pathUUID(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}
	// Members may leave; removing others requires admin.
	if target != p.UserID && !h.isAdmin(conv, p.UserID) {
		writeError(w, model.ErrForbidden)
		return
	}
	if conv.Kind != model.ConversationGroup {
		writeError(w, model.NewError(model.CodeBadRequest, "direct conversations have a fixed pair"))
		return
	}
	if err := h.repo.RemoveParticipant(r.Context(), conv.ID, target); err != nil {
		writeError(w, err)
		return
	}
	h.router.InvalidateConversation(conv.ID)
	w.WriteHeader(http.StatusNoContent)
}

// conversationPresence snapshots the other participants' availability.
func (h *Handler) conversationPresence(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	conv, err := h.memberConversation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap := h.presence.Snapshot(r.Context(), conv.ParticipantIDs(p.UserID))
	writeJSON(w, http.StatusOK, map[string]any{"presence": snap})
}

func (h *Handler) isAdmin(conv *model.Conversation, userID uuid.UUID) bool {
	for _, part := range conv.Participants {
		if part.UserID == userID {
			return part.IsAdmin
		}
	}
	return false
}
