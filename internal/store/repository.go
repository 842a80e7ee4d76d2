package store

import (
	"context"
	"time"

	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/google/uuid"
)

// ReadPromotion is one message advanced to read by a coalesced
// mark-conversation-read, carrying the sender the receipt goes back to.
type ReadPromotion struct {
	MessageID uuid.UUID
	SenderID  uuid.UUID
	// ReceiptsEnabled gates whether the sender may learn about this read.
	ReceiptsEnabled bool
}

// OfflineItem is one row of a recipient's durable FIFO.
type OfflineItem struct {
	ID             int64
	UserID         uuid.UUID
	Kind           string
	ConversationID uuid.UUID
	MessageID      *uuid.UUID
	Payload        []byte
	CreatedAt      time.Time
}

// IsMessage reports whether the item may never be dropped on overflow.
func (it *OfflineItem) IsMessage() bool {
	return it.Kind == "message"
}

// Repository is the persistence contract the core consumes. Store (pgx)
// implements it for production; Memory for dev mode and tests.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Users
	CreateUser(ctx context.Context, u *model.User, passwordHash string) error
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetUserByHandle(ctx context.Context, handle string) (*model.User, string, error)
	UpdateUserStatus(ctx context.Context, id uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Conversations
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*model.Conversation, error)
	PeersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	RenameConversation(ctx context.Context, id uuid.UUID, name string) error
	AddParticipant(ctx context.Context, convID, userID uuid.UUID, isAdmin bool) error
	RemoveParticipant(ctx context.Context, convID, userID uuid.UUID) error
	TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error

	// Messages
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error)
	ListMessages(ctx context.Context, convID uuid.UUID, before time.Time, limit int) ([]*model.Message, error)
	MarkMessageDeleted(ctx context.Context, id uuid.UUID, at time.Time) error

	// Reactions
	AddReaction(ctx context.Context, r *model.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID uuid.UUID) ([]*model.Reaction, error)

	// Read status
	MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error)
	MarkConversationRead(ctx context.Context, convID, userID uuid.UUID, upTo time.Time) ([]ReadPromotion, error)
	UnreadCount(ctx context.Context, convID, userID uuid.UUID) (int, error)

	// Delivery state. AdvanceDelivery is the cross-node arbiter: the upsert
	// only wins when the new state outranks the stored one.
	AdvanceDelivery(ctx context.Context, messageID, userID uuid.UUID, state model.DeliveryState, at time.Time) (bool, error)
	GetDelivery(ctx context.Context, messageID, userID uuid.UUID) (*model.DeliveryRecord, error)

	// Offline queue
	EnqueueOffline(ctx context.Context, it *OfflineItem) error
	OfflineCounts(ctx context.Context, userID uuid.UUID) (messages, others int, err error)
	ListOffline(ctx context.Context, userID uuid.UUID, limit int) ([]*OfflineItem, error)
	DeleteOffline(ctx context.Context, ids []int64) error
	DropOldestEphemeral(ctx context.Context, userID uuid.UUID, n int) (int, error)

	// Push subscriptions and notification bookkeeping
	SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, id uuid.UUID) error
	DeletePushSubscriptionByEndpoint(ctx context.Context, userID uuid.UUID, endpoint string) error
	ListPushSubscriptions(ctx context.Context, userID uuid.UUID) ([]*model.PushSubscription, error)
	GetNotificationSettings(ctx context.Context, userID uuid.UUID) (*model.NotificationSettings, error)
	SaveNotificationSettings(ctx context.Context, s *model.NotificationSettings) error
	RecordNotification(ctx context.Context, intent *model.PushIntent, outcome string) error
	RecordStatusChange(ctx context.Context, userID uuid.UUID, status model.PresenceStatus, custom *model.CustomStatus) error
}

var _ Repository = (*Store)(nil)
