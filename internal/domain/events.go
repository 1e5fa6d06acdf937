package domain

import (
	"sync"
	"time"
)

// EventType names a committed session transition.
type EventType string

const (
	EventStarted EventType = "work_session.started"
	EventPaused  EventType = "work_session.paused"
	EventResumed EventType = "work_session.resumed"
	EventEnded   EventType = "work_session.ended"
)

// EventTypeFor maps a state machine action to the event it emits.
func EventTypeFor(action Action) EventType {
	switch action {
	case ActionStart:
		return EventStarted
	case ActionPause:
		return EventPaused
	case ActionResume:
		return EventResumed
	}
	return EventEnded
}

// Event is published to subscribers after a transition is committed.
type Event struct {
	Type    EventType
	Session WorkSession
	At      time.Time
}

// broker fans events out to subscribers without blocking the publisher.
type broker struct {
	mu          sync.Mutex
	subscribers []chan Event
}

func (b *broker) subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

func (b *broker) unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

func (b *broker) publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
