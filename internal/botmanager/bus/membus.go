package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

// publishTimeout bounds how long a publish will wait on a slow subscriber
// before dropping the command. At-most-once delivery allows the drop.
const publishTimeout = 100 * time.Millisecond

// memSubscriber is one worker-side subscription on the in-memory bus.
type memSubscriber struct {
	id      string
	channel chan Command

	mu     sync.Mutex
	closed bool
}

// timedSend attempts to deliver a command within the timeout. Returns false
// if the subscriber is closed or too slow.
func (s *memSubscriber) timedSend(cmd Command, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.channel <- cmd:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *memSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.channel)
	}
}

// MemBus is an in-process command bus used by tests and single-process
// deployments. Channels are keyed by session UID with no pattern matching:
// command routing is always exact.
type MemBus struct {
	sync.RWMutex
	subscribers map[string]map[string]*memSubscriber
	counter     uint64
	closed      bool
}

// NewMemBus returns an empty in-memory bus.
func NewMemBus() *MemBus {
	return &MemBus{
		subscribers: make(map[string]map[string]*memSubscriber),
	}
}

// Subscribe registers a command channel for the session and returns the
// receive side along with an unsubscribe function.
func (b *MemBus) Subscribe(sessionUID string, bufferSize int) (<-chan Command, func()) {
	id := fmt.Sprintf("sub-%d", atomic.AddUint64(&b.counter, 1))
	sub := &memSubscriber{
		id:      id,
		channel: make(chan Command, bufferSize),
	}

	b.Lock()
	defer b.Unlock()

	if _, ok := b.subscribers[sessionUID]; !ok {
		b.subscribers[sessionUID] = make(map[string]*memSubscriber)
	}
	b.subscribers[sessionUID][id] = sub

	unsubscribe := func() {
		b.Lock()
		defer b.Unlock()

		if subMap, ok := b.subscribers[sessionUID]; ok {
			if s, ok := subMap[id]; ok {
				s.close()
				delete(subMap, id)
				if len(subMap) == 0 {
					delete(b.subscribers, sessionUID)
				}
			}
		}
	}

	return sub.channel, unsubscribe
}

// Publish delivers the command to the session's subscribers, dropping it
// for any that are closed or slow. Publishing to a session with no
// subscribers silently loses the command.
func (b *MemBus) Publish(ctx context.Context, sessionUID string, cmd Command) apperrors.Error {
	if sessionUID == "" {
		return ErrInvalidTopic
	}

	b.RLock()
	defer b.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for _, sub := range b.subscribers[sessionUID] {
		sub.timedSend(cmd, publishTimeout)
	}
	return nil
}

// CloseChannel drops all subscribers for a session, typically after the
// worker exits.
func (b *MemBus) CloseChannel(sessionUID string) {
	b.Lock()
	defer b.Unlock()

	if subs, ok := b.subscribers[sessionUID]; ok {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subscribers, sessionUID)
	}
}

// Close shuts down every subscriber and marks the bus closed.
func (b *MemBus) Close() error {
	b.Lock()
	defer b.Unlock()

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subscribers = make(map[string]map[string]*memSubscriber)
	b.closed = true
	return nil
}
