// Package pubsub delivers published values to per-topic subscriptions.
//
// Each subscription owns an unbounded FIFO queue. Publish never blocks on a
// slow reader; a subscription whose backlog grows past the configured limit
// is evicted instead.
package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/dd0wney/cluso-chat/pkg/metrics"
)

// DefaultBacklog is the queue length above which a subscription is evicted
const DefaultBacklog = 1024

var (
	ErrShutdown = errors.New("pubsub: shut down")
	ErrClosed   = errors.New("pubsub: subscription closed")
	ErrEvicted  = errors.New("pubsub: subscription evicted, backlog exceeded")
)

// PubSub fans values of type T out to the subscriptions of a topic
type PubSub[T any] struct {
	subscribers map[string]map[*Subscription[T]]bool
	mu          sync.RWMutex
	backlog     int
	metrics     *metrics.Registry
	shutdownMu  sync.Mutex
	isShutdown  bool
}

// Subscription is one reader of a topic
type Subscription[T any] struct {
	topic string
	ps    *PubSub[T]

	mu     sync.Mutex
	queue  []T
	err    error
	notify chan struct{}
	done   chan struct{}

	stop      func() bool
	closeOnce sync.Once
}

// NewPubSub creates a PubSub. A backlog of zero or less uses DefaultBacklog;
// reg may be nil.
func NewPubSub[T any](backlog int, reg *metrics.Registry) *PubSub[T] {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &PubSub[T]{
		subscribers: make(map[string]map[*Subscription[T]]bool),
		backlog:     backlog,
		metrics:     reg,
	}
}

// Subscribe creates a subscription to topic. It is released when ctx ends,
// on Unsubscribe, on eviction or on Shutdown.
func (ps *PubSub[T]) Subscribe(ctx context.Context, topic string) (*Subscription[T], error) {
	ps.shutdownMu.Lock()
	defer ps.shutdownMu.Unlock()
	if ps.isShutdown {
		return nil, ErrShutdown
	}

	sub := &Subscription[T]{
		topic:  topic,
		ps:     ps,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	ps.mu.Lock()
	if ps.subscribers[topic] == nil {
		ps.subscribers[topic] = make(map[*Subscription[T]]bool)
	}
	ps.subscribers[topic][sub] = true
	ps.mu.Unlock()

	if ps.metrics != nil {
		ps.metrics.SubscriptionsActive.Inc()
	}

	stop := context.AfterFunc(ctx, func() { sub.terminate(ErrClosed) })
	sub.mu.Lock()
	sub.stop = stop
	sub.mu.Unlock()
	return sub, nil
}

// Publish queues message on every subscription of topic and returns how many
// received it. Subscriptions that overflow are evicted and not counted.
func (ps *PubSub[T]) Publish(topic string, message T) int {
	// Snapshot so a concurrent Unsubscribe cannot modify the map mid-iteration
	ps.mu.RLock()
	topicSubs := ps.subscribers[topic]
	subs := make([]*Subscription[T], 0, len(topicSubs))
	for sub := range topicSubs {
		subs = append(subs, sub)
	}
	ps.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.push(message, ps.backlog) {
			delivered++
			continue
		}
		if sub.terminate(ErrEvicted) && ps.metrics != nil {
			ps.metrics.SubscriptionsEvictedTotal.Inc()
		}
	}
	if delivered > 0 && ps.metrics != nil {
		ps.metrics.MessagesDeliveredTotal.Add(float64(delivered))
	}
	return delivered
}

// GetSubscriberCount returns the number of subscribers for a topic
func (ps *PubSub[T]) GetSubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}

// Shutdown closes all subscriptions and rejects new ones
func (ps *PubSub[T]) Shutdown() {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.isShutdown = true
	ps.shutdownMu.Unlock()

	ps.mu.RLock()
	var subs []*Subscription[T]
	for _, topicSubs := range ps.subscribers {
		for sub := range topicSubs {
			subs = append(subs, sub)
		}
	}
	ps.mu.RUnlock()

	for _, sub := range subs {
		sub.terminate(ErrShutdown)
	}
}

func (ps *PubSub[T]) remove(sub *Subscription[T]) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.subscribers[sub.topic] != nil {
		delete(ps.subscribers[sub.topic], sub)
		if len(ps.subscribers[sub.topic]) == 0 {
			delete(ps.subscribers, sub.topic)
		}
	}
}

// Topic returns the subscribed topic
func (s *Subscription[T]) Topic() string { return s.topic }

// Done is closed once the subscription has ended
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended, or nil while it is open
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Len returns the number of queued values
func (s *Subscription[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next blocks until a value is queued, the subscription ends or ctx is done.
// Values are returned in publish order.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return zero, err
		}
		if len(s.queue) > 0 {
			v := s.queue[0]
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Unsubscribe removes the subscription
func (s *Subscription[T]) Unsubscribe() {
	s.terminate(ErrClosed)
}

// push appends v unless that would exceed backlog
func (s *Subscription[T]) push(v T, backlog int) bool {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= backlog {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// terminate ends the subscription once, dropping its queue. It reports
// whether this call ended it.
func (s *Subscription[T]) terminate(reason error) bool {
	ended := false
	s.closeOnce.Do(func() {
		ended = true

		s.mu.Lock()
		s.err = reason
		s.queue = nil
		stop := s.stop
		s.mu.Unlock()

		if stop != nil {
			stop()
		}
		s.ps.remove(s)
		close(s.done)

		if s.ps.metrics != nil {
			s.ps.metrics.SubscriptionsActive.Dec()
		}
	})
	return ended
}
