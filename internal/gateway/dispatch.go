package gateway

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/domain/registry"
	"github.com/chatmesh/chatmesh/internal/metrics"
)

// ephemeralFrame reports whether the frame competes for the per-session
// ephemeral allowance. Messages and receipts are never rate limited here.
func ephemeralFrame(t string) bool {
	switch t {
	case FrameTyping, FrameTypingStopped, FrameJoinConv, FrameLeaveConv, FrameActivity:
		return true
	}
	return false
}

func (g *Gateway) handleFrame(ctx context.Context, conn registry.Connector, userID uuid.UUID, frame *Frame, limiter *rate.Limiter) {
	if ephemeralFrame(frame.Type) && !limiter.Allow() {
		metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
		return
	}

	switch frame.Type {
	case FrameMessage:
		g.onMessage(ctx, conn, userID, frame)

	case FrameMessageDelete:
		p, err := decodeInto[MessageDeleteFrame](frame)
		if err != nil {
			g.sendFailure(conn, err)
			return
		}
		if err := g.router.DeleteMessage(ctx, userID, p.MessageID); err != nil {
			g.sendFailure(conn, err)
		}

	case FrameTyping:
		p, err := decodeInto[TypingFrame](frame)
		if err != nil {
			return
		}
		g.presence.Touch(ctx, userID)
		g.pipeline.Typing(ctx, userID, p.ConversationID, true)

	case FrameTypingStopped:
		p, err := decodeInto[TypingFrame](frame)
		if err != nil {
			return
		}
		g.pipeline.Typing(ctx, userID, p.ConversationID, false)

	case FrameReadReceipt:
		p, err := decodeInto[ReceiptFrame](frame)
		if err != nil {
			g.sendFailure(conn, err)
			return
		}
		if err := g.pipeline.MarkRead(ctx, p.MessageID, userID); err != nil {
			g.sendFailure(conn, err)
		}

	case FrameDelivered:
		p, err := decodeInto[ReceiptFrame](frame)
		if err != nil {
			g.sendFailure(conn, err)
			return
		}
		if err := g.pipeline.MarkDelivered(ctx, p.MessageID, userID); err != nil {
			g.sendFailure(conn, err)
		}

	case FrameMarkConvRead:
		p, err := decodeInto[MarkConvReadFrame](frame)
		if err != nil {
			g.sendFailure(conn, err)
			return
		}
		events, err := g.tracker.MarkConversationRead(ctx, p.ConversationID, userID, p.Watermark())
		if err != nil {
			g.sendFailure(conn, err)
			return
		}
		for _, ev := range events {
			g.router.DispatchToUser(ctx, ev)
		}

	case FrameJoinConv:
		p, err := decodeInto[ConvPresenceFrame](frame)
		if err != nil {
			return
		}
		g.presence.Touch(ctx, userID)
		g.pipeline.ConversationPresence(ctx, userID, p.ConversationID, true)

	case FrameLeaveConv:
		p, err := decodeInto[ConvPresenceFrame](frame)
		if err != nil {
			return
		}
		g.pipeline.ConversationPresence(ctx, userID, p.ConversationID, false)

	case FrameStatus:
		p, err := decodeInto[StatusFrame](frame)
		if err != nil {
			g.sendFailure(conn, err)
			return
		}
		if err := g.presence.SetStatus(ctx, userID, p.Status, p.Custom); err != nil {
			g.sendFailure(conn, err)
		}

	case FrameActivity:
		g.presence.Touch(ctx, userID)

	case FrameReactionAdd, FrameReactionDel:
		p, err := decodeInto[ReactionFrame](frame)
		if err != nil {
			g.sendFailure(conn, err)
			return
		}
		g.pipeline.Reaction(ctx, userID, p.MessageID, p.Emoji, frame.Type == FrameReactionAdd)

	case FramePing:
		conn.Send(event.New(userID, event.KindPong, nil), g.sendTimeout)

	default:
		g.sendError(conn, model.CodeBadRequest, "unknown frame type: "+frame.Type)
	}
}

// onMessage runs the accept path: persist, ack the sender, fan out. A
// replayed client id is re-acked without a second fan-out.
func (g *Gateway) onMessage(ctx context.Context, conn registry.Connector, userID uuid.UUID, frame *Frame) {
	p, err := decodeInto[MessageFrame](frame)
	if err != nil {
		g.sendFailure(conn, err)
		return
	}

	m := p.ToModel()
	duplicate, err := g.router.SendMessage(ctx, userID, m)
	if err != nil {
		conn.Send(event.New(userID, event.KindMessageFailed, &event.MessagePayload{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			SenderID:       userID,
		}), g.sendTimeout)
		g.sendFailure(conn, err)
		return
	}

	g.presence.Touch(ctx, userID)
	if !duplicate {
		g.pipeline.MessageSent(userID, m.ConversationID)
	}

	ack := event.New(userID, event.KindMessageSent, event.NewMessagePayload(m)).
		WithConversation(m.ConversationID)
	conn.Send(ack, g.sendTimeout)
}
