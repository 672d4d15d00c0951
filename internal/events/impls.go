package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/google/uuid"
)

// The actual implementation of the TopicPublisher interface that
// is handed to a caller who wants to publish events to a topic.
type topicPublisherImpl struct {
	emitterId string
	topic     string

	router EventRouter
}

func (tp *topicPublisherImpl) Publish(ctx context.Context, change models.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return tp.router(ctx, Event{
		EventID:   uuid.NewString(),
		Topic:     tp.topic,
		EmittedAt: time.Now(),
		Emitter:   tp.emitterId,
		Data:      change,
	})
}

// The actual implementation of the PubSub interface. It hands out
// publishers for permitted topics and keeps the local subscriber lists
// that Deliver fans out to.
type pubSubImpl struct {
	logger          *slog.Logger
	permittedTopics []string
	subscribers     map[string][]TopicSubscriber

	subscribersMutex sync.RWMutex

	router EventRouter
}

func (ps *pubSubImpl) GetPermittedTopics() []string {
	return slices.Clone(ps.permittedTopics)
}

func (ps *pubSubImpl) GetPublisher(emitterId, topic string) (TopicPublisher, error) {
	if !slices.Contains(ps.permittedTopics, topic) {
		return nil, ErrTopicNotPermitted
	}
	return &topicPublisherImpl{
		emitterId: emitterId,
		topic:     topic,
		router:    ps.router,
	}, nil
}

func (ps *pubSubImpl) Subscribe(topic string, subscriber TopicSubscriber) (Unsubscriber, error) {
	if !slices.Contains(ps.permittedTopics, topic) {
		return nil, ErrTopicNotPermitted
	}

	ps.subscribersMutex.Lock()
	defer ps.subscribersMutex.Unlock()

	ps.subscribers[topic] = append(ps.subscribers[topic], subscriber)

	// Return a function to unsubscribe from the topic that captures the mutex
	// so it can be done safely and at any time from the subscriber owner
	return func() {
		ps.subscribersMutex.Lock()
		defer ps.subscribersMutex.Unlock()

		ps.subscribers[topic] = slices.DeleteFunc(ps.subscribers[topic], func(s TopicSubscriber) bool {
			return s == subscriber
		})
	}, nil
}

func (ps *pubSubImpl) Deliver(ctx context.Context, event Event) {
	ps.subscribersMutex.RLock()
	subs := slices.Clone(ps.subscribers[event.Topic])
	ps.subscribersMutex.RUnlock()

	for _, s := range subs {
		s.OnMessage(ctx, event)
	}
}

// Notifier adapts a publisher to the file system's change hook. Publishing
// errors are logged and dropped; a mutation is never failed because nobody
// could be told about it.
type Notifier struct {
	logger    *slog.Logger
	publisher TopicPublisher
	timeout   time.Duration
}

func NewNotifier(logger *slog.Logger, ps PubSub, emitterId string) (*Notifier, error) {
	publisher, err := ps.GetPublisher(emitterId, TopicChanges)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger:    logger.WithGroup("notifier"),
		publisher: publisher,
		timeout:   time.Second,
	}, nil
}

func (n *Notifier) Notify(change models.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, change); err != nil {
		n.logger.Warn("failed to publish change", "op", change.Op, "path", change.Path, "error", err)
	}
}
