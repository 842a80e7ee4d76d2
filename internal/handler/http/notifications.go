package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

type quietHoursBody struct {
	Enabled bool `json:"enabled"`
	Start   int  `json:"start"`
	End     int  `json:"end"`
}

type notificationSettingsBody struct {
	Enabled            map[model.NotificationKind]bool `json:"enabled"`
	Quiet              quietHoursBody                  `json:"quietHours"`
	MutedConversations []uuid.UUID                     `json:"mutedConversations"`
}

func toSettingsBody(s *model.NotificationSettings) *notificationSettingsBody {
	body := &notificationSettingsBody{
		Enabled: s.Enabled,
		Quiet: quietHoursBody{
			Enabled: s.Quiet.Enabled,
			Start:   s.Quiet.Start,
			End:     s.Quiet.End,
		},
		MutedConversations: make([]uuid.UUID, 0, len(s.MutedConversations)),
	}
	for id := range s.MutedConversations {
		body.MutedConversations = append(body.MutedConversations, id)
	}
	return body
}

// getNotificationSettings returns stored preferences, or the permissive
// defaults for users who never saved any.
func (h *Handler) getNotificationSettings(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	s, err := h.repo.GetNotificationSettings(r.Context(), p.UserID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			writeError(w, err)
			return
		}
		s = &model.NotificationSettings{UserID: p.UserID}
	}
	writeJSON(w, http.StatusOK, toSettingsBody(s))
}

func (h *Handler) putNotificationSettings(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	req, err := decodeBody[notificationSettingsBody](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Quiet.Start < 0 || req.Quiet.Start >= 24*60 || req.Quiet.End < 0 || req.Quiet.End >= 24*60 {
		writeError(w, model.NewError(model.CodeBadRequest, "quiet hours out of range"))
		return
	}

	s := &model.NotificationSettings{
		UserID:  p.UserID,
		Enabled: req.Enabled,
		Quiet: model.QuietHours{
			Enabled: req.Quiet.Enabled,
			Start:   req.Quiet.Start,
			End:     req.Quiet.End,
		},
		MutedConversations: make(map[uuid.UUID]bool, len(req.MutedConversations)),
	}
	for _, id := range req.MutedConversations {
		s.MutedConversations[id] = true
	}
	if err := h.repo.SaveNotificationSettings(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsBody(s))
}

type subscribeRequest struct {
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys"`
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	req, err := decodeBody[subscribeRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Endpoint == "" {
		writeError(w, model.NewError(model.CodeBadRequest, "endpoint required"))
		return
	}

	sub := &model.PushSubscription{
		ID:        uuid.New(),
		UserID:    p.UserID,
		Endpoint:  req.Endpoint,
		Keys:      req.Keys,
		UserAgent: r.UserAgent(),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.SavePushSubscription(r.Context(), sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": sub.ID})
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	req, err := decodeBody[struct {
		Endpoint string `json:"endpoint"`
	}](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.DeletePushSubscriptionByEndpoint(r.Context(), p.UserID, req.Endpoint); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) vapidPublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.cfg.Push.VAPIDPublicKey})
}
