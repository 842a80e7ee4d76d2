// Package http is the REST companion to the websocket edge: account and
// session endpoints, conversation and history management, notification
// preferences. Realtime traffic never flows through here.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/auth"
	"github.com/chatmesh/chatmesh/internal/delivery"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/gateway"
	"github.com/chatmesh/chatmesh/internal/metrics"
	"github.com/chatmesh/chatmesh/internal/presence"
	"github.com/chatmesh/chatmesh/internal/router"
	"github.com/chatmesh/chatmesh/internal/store"
)

type Handler struct {
	cfg      *config.Config
	repo     store.Repository
	auth     *auth.Authenticator
	presence *presence.Registry
	router   *router.Router
	tracker  *delivery.Tracker
	gateway  *gateway.Gateway
	log      *slog.Logger
}

func NewHandler(
	cfg *config.Config,
	repo store.Repository,
	authn *auth.Authenticator,
	pres *presence.Registry,
	r *router.Router,
	tracker *delivery.Tracker,
	gw *gateway.Gateway,
	log *slog.Logger,
) *Handler {
	return &Handler{
		cfg:      cfg,
		repo:     repo,
		auth:     authn,
		presence: pres,
		router:   r,
		tracker:  tracker,
		gateway:  gw,
		log:      log.With("component", "http"),
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)
	r.Use(h.metricsMiddleware)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Post("/auth/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware)

			r.Post("/auth/logout", h.logout)

			r.Get("/users/me", h.currentUser)
			r.Get("/users/{id}", h.getUser)
			r.Put("/users/me/status", h.setStatus)

			r.Get("/conversations", h.listConversations)
			r.Post("/conversations", h.createConversation)
			r.Post("/conversations/direct", h.createDirectConversation)
			r.Get("/conversations/{id}", h.getConversation)
			r.Put("/conversations/{id}", h.renameConversation)
			r.Post("/conversations/{id}/participants", h.addParticipant)
			r.Delete("/conversations/{id}/participants/{userId}", h.removeParticipant)
			r.Get("/conversations/{id}/presence", h.conversationPresence)

			r.Get("/conversations/{id}/messages", h.listMessages)
			r.Post("/conversations/{id}/messages", h.postMessage)
			r.Post("/conversations/{id}/read", h.markConversationRead)
			r.Delete("/messages/{id}", h.deleteMessage)
			r.Get("/messages/{id}/reactions", h.listReactions)

			r.Get("/notifications/settings", h.getNotificationSettings)
			r.Put("/notifications/settings", h.putNotificationSettings)
			r.Post("/notifications/subscribe", h.subscribe)
			r.Delete("/notifications/subscribe", h.unsubscribe)
			r.Get("/notifications/vapid-public-key", h.vapidPublicKey)
		})
	})

	r.Get("/ws", h.gateway.ServeWS)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type principalKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			writeError(w, model.NewError(model.CodeUnauthorized, "missing bearer token"))
			return
		}
		principal, err := h.auth.VerifyAccess(header[7:])
		if err != nil {
			writeError(w, model.NewError(model.CodeUnauthorized, "invalid token"))
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(r *http.Request) *auth.Principal {
	p, _ := r.Context().Value(principalKey{}).(*auth.Principal)
	return p
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool)
	for _, o := range h.cfg.HTTP.ClientOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, pattern, strconv.Itoa(ww.Status()),
		).Observe(time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := model.CodeOf(err)
	msg := err.Error()
	var apiErr *model.Error
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	writeJSON(w, httpStatus(code), map[string]any{
		"error": map[string]string{"code": string(code), "message": msg},
	})
}

func httpStatus(code model.ErrorCode) int {
	switch code {
	case model.CodeBadRequest:
		return http.StatusBadRequest
	case model.CodeUnauthorized:
		return http.StatusUnauthorized
	case model.CodeForbidden:
		return http.StatusForbidden
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeConflict:
		return http.StatusConflict
	case model.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody[T any](r *http.Request) (*T, error) {
	out := new(T)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return nil, model.WrapError(model.CodeBadRequest, "malformed request body", err)
	}
	return out, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, model.NewError(model.CodeBadRequest, "invalid "+name)
	}
	return id, nil
}
