// Package pubsub owns the event bus plumbing: an AMQP topic exchange in
// production, an in-process channel bus in dev mode. Events for remote users
// travel through here; local users are served straight from the hub.
package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
)

const (
	// EventsExchange is the topic exchange all chat events pass through.
	EventsExchange = "chat.events"

	// localTopic is the single logical topic of the in-process bus; routing
	// keys travel in metadata there, matching what AMQP consumers see.
	localTopic = "chat.events.local"
)

// Provider builds the transport endpoints. The handler layer binds queues
// through it without knowing which backend is wired.
type Provider interface {
	Publisher() message.Publisher
	// Subscriber returns a subscriber whose Subscribe topic is interpreted
	// as an AMQP binding key (wildcards included).
	Subscriber(queue string) (message.Subscriber, error)
	// TopicFor maps a routing key to the topic Publish must use.
	TopicFor(routingKey string) string
	// BindingTopic maps a binding pattern to the topic Subscribe must use.
	BindingTopic(pattern string) string
	Close() error
}

type amqpProvider struct {
	url    string
	logger watermill.LoggerAdapter
	pub    message.Publisher
	subs   []message.Subscriber
}

func NewAMQP(url string, log *slog.Logger) (Provider, error) {
	logger := watermill.NewSlogLogger(log)

	cfg := publisherConfig(url)
	pub, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}

	return &amqpProvider{url: url, logger: logger, pub: pub}, nil
}

func publisherConfig(url string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(url, nil)
	cfg.Exchange.GenerateName = func(string) string { return EventsExchange }
	cfg.Exchange.Type = "topic"
	cfg.Exchange.Durable = true
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}

func (p *amqpProvider) Publisher() message.Publisher { return p.pub }

func (p *amqpProvider) Subscriber(queue string) (message.Subscriber, error) {
	cfg := amqp.NewDurablePubSubConfig(p.url, amqp.GenerateQueueNameConstant(queue))
	cfg.Exchange.GenerateName = func(string) string { return EventsExchange }
	cfg.Exchange.Type = "topic"
	cfg.Exchange.Durable = true
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }

	sub, err := amqp.NewSubscriber(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp subscriber %q: %w", queue, err)
	}
	p.subs = append(p.subs, sub)
	return sub, nil
}

func (p *amqpProvider) TopicFor(routingKey string) string  { return routingKey }
func (p *amqpProvider) BindingTopic(pattern string) string { return pattern }

func (p *amqpProvider) Close() error {
	for _, s := range p.subs {
		_ = s.Close()
	}
	return p.pub.Close()
}

// localProvider runs the bus in process. Topic wildcards do not exist here,
// so every event lands on one shared topic and consumers filter by the
// routing key metadata, same as the AMQP path does after queue binding.
type localProvider struct {
	ch *gochannel.GoChannel
}

func NewLocal(log *slog.Logger) Provider {
	return &localProvider{
		ch: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, watermill.NewSlogLogger(log)),
	}
}

func (p *localProvider) Publisher() message.Publisher { return p.ch }

func (p *localProvider) Subscriber(string) (message.Subscriber, error) { return p.ch, nil }

func (p *localProvider) TopicFor(string) string     { return localTopic }
func (p *localProvider) BindingTopic(string) string { return localTopic }

func (p *localProvider) Close() error { return p.ch.Close() }
