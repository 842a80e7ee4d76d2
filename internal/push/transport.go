package push

import (
	"context"
	"log/slog"

	"github.com/chatmesh/chatmesh/internal/domain/model"
)

// LogTransport is the dev-mode transport: it records what would have been
// pushed. Deployments wire a real web-push implementation behind Transport.
type LogTransport struct {
	log *slog.Logger
}

func NewLogTransport(log *slog.Logger) *LogTransport {
	return &LogTransport{log: log.With("component", "push_transport")}
}

func (t *LogTransport) Send(_ context.Context, sub *model.PushSubscription, intent *model.PushIntent) error {
	t.log.Info("push intent",
		"endpoint", sub.Endpoint,
		"user_id", intent.UserID,
		"kind", intent.Kind,
		"conversation_id", intent.ConversationID,
	)
	return nil
}
