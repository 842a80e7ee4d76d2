package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// listMessages pages history backwards from ?before (unix millis, default
// now). Tombstoned messages come back with empty content so clients can
// render the gap.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := h.memberConversation(r)
	if err != nil {
		writeError(w, err)
		return
	}

	before := time.Now().UTC()
	if raw := r.URL.Query().Get("before"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, model.NewError(model.CodeBadRequest, "invalid before"))
			return
		}
		before = time.UnixMilli(ms).UTC()
	}
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, model.NewError(model.CodeBadRequest, "invalid limit"))
			return
		}
		limit = min(n, maxPageSize)
	}

	msgs, err := h.repo.ListMessages(r.Context(), conv.ID, before, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type postMessageRequest struct {
	ID                  uuid.UUID  `json:"id"`
	Content             string     `json:"content"`
	MediaID             *uuid.UUID `json:"mediaId,omitempty"`
	ParentID            *uuid.UUID `json:"parentId,omitempty"`
	ReadReceiptsEnabled *bool      `json:"readReceiptsEnabled,omitempty"`
}

// postMessage is the REST send path. It shares the accept pipeline with the
// websocket frame, so replaying the same client-chosen id is a no-op.
func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	convID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := decodeBody[postMessageRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}

	receipts := true
	if req.ReadReceiptsEnabled != nil {
		receipts = *req.ReadReceiptsEnabled
	}
	m := &model.Message{
		ID:                  req.ID,
		ConversationID:      convID,
		SenderID:            p.UserID,
		Content:             req.Content,
		MediaID:             req.MediaID,
		ParentID:            req.ParentID,
		ReadReceiptsEnabled: receipts,
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	duplicate, err := h.router.SendMessage(r.Context(), p.UserID, m)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, m)
}

// markConversationRead advances every unread message up to the watermark and
// fans the resulting receipts back to their senders.
func (h *Handler) markConversationRead(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	conv, err := h.memberConversation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := decodeBody[struct {
		UpTo int64 `json:"upTo"`
	}](r)
	if err != nil {
		writeError(w, err)
		return
	}
	upTo := time.Now().UTC()
	if req.UpTo > 0 {
		upTo = time.UnixMilli(req.UpTo).UTC()
	}

	events, err := h.tracker.MarkConversationRead(r.Context(), conv.ID, p.UserID, upTo)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, ev := range events {
		h.router.DispatchToUser(r.Context(), ev)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.router.DeleteMessage(r.Context(), p.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listReactions(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := h.repo.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := h.repo.GetConversation(r.Context(), m.ConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !conv.HasParticipant(p.UserID) {
		writeError(w, model.ErrNotFound)
		return
	}

	reactions, err := h.repo.ListReactions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reactions": reactions})
}
