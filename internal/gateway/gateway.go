// Package gateway owns the websocket edge: handshake authentication, the
// per-session read and write pumps, inbound frame dispatch into the core and
// the offline-queue replay on connect.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/auth"
	"github.com/chatmesh/chatmesh/internal/delivery"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
	"github.com/chatmesh/chatmesh/internal/metrics"
	"github.com/chatmesh/chatmesh/internal/offline"
	"github.com/chatmesh/chatmesh/internal/presence"
	"github.com/chatmesh/chatmesh/internal/router"
	"github.com/chatmesh/chatmesh/internal/signalpipe"
)

const (
	pingInterval = 5 * time.Second
	pongWait     = 3 * pingInterval
	writeWait    = 5 * time.Second

	maxFrameBytes = 128 << 10
)

type Gateway struct {
	hub      registry.Hubber
	presence *presence.Registry
	router   *router.Router
	pipeline *signalpipe.Pipeline
	tracker  *delivery.Tracker
	offline  *offline.Queue
	auth     *auth.Authenticator
	log      *slog.Logger

	sessionBuffer int
	sendTimeout   time.Duration
	upgrader      websocket.Upgrader
}

func NewGateway(
	cfg *config.Config,
	hub registry.Hubber,
	pres *presence.Registry,
	r *router.Router,
	pipe *signalpipe.Pipeline,
	tracker *delivery.Tracker,
	off *offline.Queue,
	authn *auth.Authenticator,
	log *slog.Logger,
) *Gateway {
	origins := cfg.HTTP.ClientOrigins
	return &Gateway{
		hub:           hub,
		presence:      pres,
		router:        r,
		pipeline:      pipe,
		tracker:       tracker,
		offline:       off,
		auth:          authn,
		log:           log.With("component", "gateway"),
		sessionBuffer: cfg.Gateway.SessionBuffer,
		sendTimeout:   cfg.Gateway.SendTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

// ServeWS authenticates the handshake and runs the session until either
// side closes. The bearer token travels in the Authorization header or, for
// browser websocket clients that cannot set headers, the token query param.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	principal, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	g.runSession(r, ws, principal.UserID)
}

func (g *Gateway) authenticate(r *http.Request) (*auth.Principal, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		token = h[7:]
	}
	return g.auth.VerifyAccess(token)
}

func (g *Gateway) runSession(r *http.Request, ws *websocket.Conn, userID uuid.UUID) {
	meta := registry.ConnectMetadata{
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	conn := registry.NewConnector(r.Context(), userID, meta, g.sessionBuffer)
	sessionID := conn.GetID()
	log := g.log.With("user_id", userID, "session_id", sessionID)

	g.hub.Register(conn)
	metrics.SessionsActive.Inc()
	g.presence.SessionOpened(r.Context(), userID, sessionID)

	defer func() {
		// Presence first (grace timer starts), then hub detach, then the
		// connector; Unregister must precede Close.
		g.presence.SessionClosed(context.Background(), userID, sessionID)
		g.hub.Unregister(userID, sessionID)
		conn.Close()
		metrics.SessionsActive.Dec()
		log.Info("session closed", "dropped_frames", conn.Dropped())
	}()

	log.Info("session opened")

	conn.Send(event.New(userID, event.KindConnected, &event.ConnectedPayload{
		SessionID:  sessionID,
		ServerTime: time.Now().UnixMilli(),
	}), g.sendTimeout)

	go g.writePump(ws, conn, log)
	g.drainOffline(r.Context(), userID, log)
	g.readPump(r.Context(), ws, conn, userID, log)
}

// drainOffline replays queued events through the user's cell so the
// duplicate window also guards against a live dispatch racing the drain.
func (g *Gateway) drainOffline(ctx context.Context, userID uuid.UUID, log *slog.Logger) {
	err := g.offline.Drain(ctx, userID, func(ev *event.Event) bool {
		if !g.hub.Broadcast(ev) {
			return false
		}
		if ev.GetKind() == event.KindMessage {
			var payload event.MessagePayload
			if event.DecodePayload(ev, &payload) {
				if statusEv, err := g.tracker.MarkSent(ctx, payload.MessageID, userID, payload.SenderID); err == nil && statusEv != nil {
					g.router.DispatchToUser(ctx, statusEv)
				}
			}
		}
		return true
	})
	if err != nil {
		log.Error("offline drain failed", "error", err)
	}
}

// writePump owns the socket's write side: mailbox drain plus keepalive.
func (g *Gateway) writePump(ws *websocket.Conn, conn registry.Connector, log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer ws.Close()

	for {
		select {
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session terminated"),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-conn.Recv():
			if !ok {
				return
			}
			data, err := marshalEvent(ev)
			if err != nil {
				log.Error("event marshal failed", "kind", ev.GetKind(), "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn("ws write failed", "error", err)
				return
			}
		}
	}
}

// readPump decodes inbound frames and dispatches them in arrival order.
func (g *Gateway) readPump(ctx context.Context, ws *websocket.Conn, conn registry.Connector, userID uuid.UUID, log *slog.Logger) {
	limiter := g.pipeline.SessionLimiter()

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-conn.Done():
			return
		default:
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("ws read failed", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := DecodeFrame(data)
		if err != nil {
			g.sendError(conn, model.CodeBadRequest, err.Error())
			continue
		}

		g.handleFrame(ctx, conn, userID, frame, limiter)
	}
}

func (g *Gateway) sendError(conn registry.Connector, code model.ErrorCode, msg string) {
	conn.Send(event.New(conn.GetUserID(), event.KindError, &event.ErrorPayload{
		Code:    code,
		Message: msg,
	}), g.sendTimeout)
}

func (g *Gateway) sendFailure(conn registry.Connector, err error) {
	g.sendError(conn, model.CodeOf(err), err.Error())
}
