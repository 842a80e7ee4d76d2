package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/chatmesh/internal/auth"
	"github.com/chatmesh/chatmesh/internal/domain/model"
)

type registerRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	IdentityKey []byte `json:"identityKey,omitempty"`
}

type userResponse struct {
	ID          uuid.UUID            `json:"id"`
	Handle      string               `json:"handle"`
	DisplayName string               `json:"displayName"`
	Status      model.PresenceStatus `json:"status"`
	Custom      *model.CustomStatus  `json:"custom,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
}

func toUserResponse(u *model.User) *userResponse {
	return &userResponse{
		ID:          u.ID,
		Handle:      u.Handle,
		DisplayName: u.DisplayName,
		Status:      u.Status,
		Custom:      u.Custom,
		CreatedAt:   u.CreatedAt,
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[registerRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Handle == "" || len(req.Password) < 8 {
		writeError(w, model.NewError(model.CodeBadRequest, "handle required and password must be at least 8 characters"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	user := &model.User{
		ID:          uuid.New(),
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		IdentityKey: req.IdentityKey,
		Status:      model.StatusOffline,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.repo.CreateUser(r.Context(), user, hash); err != nil {
		writeError(w, err)
		return
	}

	pair, err := h.auth.Issue(auth.Principal{UserID: user.ID, Handle: user.Handle})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   toUserResponse(user),
		"tokens": pair,
	})
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[loginRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}

	user, hash, err := h.repo.GetUserByHandle(r.Context(), req.Handle)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		// Uniform failure: do not reveal whether the handle exists.
		writeError(w, model.NewError(model.CodeUnauthorized, "invalid credentials"))
		return
	}

	pair, err := h.auth.Issue(auth.Principal{UserID: user.ID, Handle: user.Handle})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   toUserResponse(user),
		"tokens": pair,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[refreshRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := h.auth.Refresh(req.RefreshToken)
	if err != nil {
		writeError(w, model.NewError(model.CodeUnauthorized, "invalid refresh token"))
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// logout is stateless: tokens expire on their own. The endpoint exists so
// clients have a uniform teardown call.
func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
