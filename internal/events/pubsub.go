package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/InsulaLabs/hmacfs/pkg/models"
)

// TopicChanges carries a models.Change for every committed file system
// mutation.
const TopicChanges = "fs.changes"

var (
	ErrTopicNotPermitted = errors.New("topic not permitted")
)

type Event = models.Event

type TopicPublisher interface {
	// Publish is handed a context that should be respected by the EventRouter provider
	// such that if the context is cancelled the event should not be published
	// (if it takes to long or whatever the reason - use the ctx to cancel the publish)
	Publish(ctx context.Context, change models.Change) error
}

// TopicSubscriber is the interface that is used to receive events from a topic.
// When returned from the PubSub.Subscribe method it is the responsibility of the
// caller to call the Unsubscriber function to unsubscribe from the topic.
// OnMessage runs on the publisher's goroutine and must not block.
type TopicSubscriber interface {
	OnMessage(ctx context.Context, event Event)
}

// Call to unsubscribe from a topic
type Unsubscriber func()

// The actual function that fulfills the event publishing logic
// that is handed to the pubsub implementation so the underlying
// transport can be swapped out for something else. When no router is
// configured events are fanned out to local subscribers.
type EventRouter func(ctx context.Context, event Event) error

type PubSub interface {
	GetPermittedTopics() []string
	GetPublisher(emitterId, topic string) (TopicPublisher, error)
	Subscribe(topic string, subscriber TopicSubscriber) (Unsubscriber, error)
	// Deliver hands an event to every local subscriber of its topic.
	Deliver(ctx context.Context, event Event)
}

type Config struct {
	Logger *slog.Logger
	Router EventRouter
	Topics []string
}

func NewPubSub(config Config) PubSub {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if len(config.Topics) == 0 {
		config.Topics = []string{TopicChanges}
	}
	ps := &pubSubImpl{
		logger:           config.Logger.WithGroup("events"),
		permittedTopics:  config.Topics,
		subscribers:      make(map[string][]TopicSubscriber),
		subscribersMutex: sync.RWMutex{},
		router:           config.Router,
	}
	if ps.router == nil {
		ps.router = func(ctx context.Context, event Event) error {
			ps.Deliver(ctx, event)
			return nil
		}
	}
	return ps
}
