// Package push turns events that missed every live session into web-push
// intents and hands them to the configured transport.
package push

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/chatmesh/chatmesh/config"
	"github.com/chatmesh/chatmesh/internal/domain/event"
	"github.com/chatmesh/chatmesh/internal/domain/model"
	"github.com/chatmesh/chatmesh/internal/metrics"
	"github.com/chatmesh/chatmesh/internal/store"
)

// ErrEndpointGone marks a permanently dead subscription endpoint; the
// dispatcher evicts it instead of retrying.
var ErrEndpointGone = errors.New("push: endpoint gone")

// Transport delivers one intent to one endpoint. The web-push encryption
// handshake lives behind this seam.
type Transport interface {
	Send(ctx context.Context, sub *model.PushSubscription, intent *model.PushIntent) error
}

type Dispatcher struct {
	repo      store.Repository
	transport Transport
	log       *slog.Logger

	timeout    time.Duration
	maxRetries int
	breaker    *gobreaker.CircuitBreaker
}

func NewDispatcher(cfg config.PushConfig, repo store.Repository, transport Transport, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		transport:  transport,
		log:        log.With("component", "push"),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "push-transport",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		}),
	}
}

// Notify classifies the event and, when it qualifies, fans an intent out to
// every registered endpoint of the recipient. The work runs inline on the
// dispatch path's offline branch; transports bound their own latency.
func (d *Dispatcher) Notify(ctx context.Context, ev *event.Event) {
	if !event.Pushable(ev.GetKind()) {
		return
	}

	intent := d.intentFor(ev)
	if intent == nil {
		return
	}

	settings, err := d.repo.GetNotificationSettings(ctx, intent.UserID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		d.log.Warn("settings lookup failed, defaulting to allow",
			"user_id", intent.UserID, "error", err)
		settings = nil
	}
	if !settings.Allows(intent.Kind, intent.ConversationID, time.Now(), intent.Urgent) {
		d.record(ctx, intent, "suppressed")
		metrics.PushDispatches.WithLabelValues("suppressed").Inc()
		return
	}

	subs, err := d.repo.ListPushSubscriptions(ctx, intent.UserID)
	if err != nil {
		d.log.Error("subscription lookup failed", "user_id", intent.UserID, "error", err)
		return
	}
	if len(subs) == 0 {
		d.record(ctx, intent, "no_subscription")
		return
	}

	// Endpoints are independent; one dead or slow endpoint must not hold up
	// the rest of the user's devices.
	var failed atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, sub := range subs {
		g.Go(func() error {
			if err := d.send(ctx, sub, intent); err != nil {
				if errors.Is(err, ErrEndpointGone) {
					if delErr := d.repo.DeletePushSubscription(ctx, sub.ID); delErr != nil {
						d.log.Warn("endpoint eviction failed", "subscription_id", sub.ID, "error", delErr)
					} else {
						d.log.Info("dead endpoint evicted", "subscription_id", sub.ID)
					}
					metrics.PushDispatches.WithLabelValues("evicted").Inc()
					return nil
				}
				d.log.Warn("push send failed", "subscription_id", sub.ID, "error", err)
				metrics.PushDispatches.WithLabelValues("failed").Inc()
				failed.Store(true)
				return nil
			}
			metrics.PushDispatches.WithLabelValues("sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	outcome := "sent"
	if failed.Load() {
		outcome = "failed"
	}
	d.record(ctx, intent, outcome)
}

// send retries transient failures with exponential backoff behind the
// shared circuit breaker. Endpoint-gone short-circuits the retry loop.
func (d *Dispatcher) send(ctx context.Context, sub *model.PushSubscription, intent *model.PushIntent) error {
	op := func() error {
		_, err := d.breaker.Execute(func() (any, error) {
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			return nil, d.transport.Send(sendCtx, sub, intent)
		})
		if errors.Is(err, ErrEndpointGone) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.maxRetries)),
		ctx,
	)
	return backoff.Retry(op, policy)
}

func (d *Dispatcher) intentFor(ev *event.Event) *model.PushIntent {
	intent := &model.PushIntent{
		ID:        uuid.New(),
		UserID:    ev.GetUserID(),
		CreatedAt: time.Now().UTC(),
	}

	switch ev.GetKind() {
	case event.KindMessage:
		var payload event.MessagePayload
		if !event.DecodePayload(ev, &payload) {
			return nil
		}
		intent.Kind = model.NotifyMessage
		intent.ConversationID = payload.ConversationID
		intent.MessageID = payload.MessageID
		// Content stays out of the notification: it may be ciphertext and
		// the push channel is not trusted with it either way.
		intent.Title = "New message"
		intent.Body = "You have a new message"
	case event.KindReactionAdd:
		var payload model.Reaction
		if !event.DecodePayload(ev, &payload) {
			return nil
		}
		intent.Kind = model.NotifyReaction
		intent.ConversationID = ev.ConversationID
		intent.MessageID = payload.MessageID
		intent.Title = "New reaction"
		intent.Body = "Someone reacted to your message"
	default:
		return nil
	}
	return intent
}

func (d *Dispatcher) record(ctx context.Context, intent *model.PushIntent, outcome string) {
	if err := d.repo.RecordNotification(ctx, intent, outcome); err != nil {
		d.log.Warn("notification history write failed", "error", err)
	}
}
