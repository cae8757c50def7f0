// Package events decouples components through a small publish/subscribe
// bus. The in-memory bus serves a single process; the NATS bus fans the
// same subjects out across processes.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
)

// Subjects carried on the bus.
const (
	SubjectAuditEvent    = "vulnscope.audit.event"
	SubjectConfigChanged = "vulnscope.config.changed"
	SubjectLockout       = "vulnscope.auth.lockout"
)

// Message is one published event.
type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

// Handler processes a received message. Errors are logged, not retried.
type Handler func(ctx context.Context, msg *Message) error

// Subscription is an active listener on a subject.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Bus publishes and subscribes to subjects.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close() error
}

// InMemoryBus is a process-local Bus. Handlers run synchronously on the
// publisher's goroutine.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memorySubscription
	log  *logging.Logger
}

// NewInMemoryBus creates an in-process bus.
func NewInMemoryBus(log *logging.Logger) *InMemoryBus {
	if log == nil {
		log = logging.Default()
	}
	return &InMemoryBus{subs: make(map[string][]*memorySubscription), log: log}
}

// Publish delivers data to every subscriber of subject.
func (b *InMemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	subs := make([]*memorySubscription, len(b.subs[subject]))
	copy(subs, b.subs[subject])
	b.mu.RUnlock()

	msg := &Message{Subject: subject, Data: data, Timestamp: time.Now().UTC()}
	for _, sub := range subs {
		if err := sub.handler(ctx, msg); err != nil {
			b.log.WarnContext(ctx, "event handler failed",
				"subject", subject, "error", err)
		}
	}
	return nil
}

// Subscribe registers a handler for a subject.
func (b *InMemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &memorySubscription{bus: b, subject: subject, handler: handler}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub, nil
}

// Close drops all subscriptions.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*memorySubscription)
	return nil
}

type memorySubscription struct {
	bus     *InMemoryBus
	subject string
	handler Handler
}

func (s *memorySubscription) Subject() string { return s.subject }

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
