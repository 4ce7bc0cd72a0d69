// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
	"time"
)

// EventType identifies different event types
type EventType string

// Event types for CortexLearn
const (
	// Lesson events
	EventTypeTransition      EventType = "lesson.transition"
	EventTypeLessonCompleted EventType = "lesson.completed"

	// Sensing events
	EventTypeSensing        EventType = "sensing.update"
	EventTypeBreakSuggested EventType = "sensing.break_suggested"

	// Voice events
	EventTypeVoiceCommand EventType = "voice.command"
	EventTypeVoiceRequest EventType = "voice.request"

	// Playback events
	EventTypeSegmentStarted  EventType = "playback.segment_started"
	EventTypeWordRevealed    EventType = "playback.word_revealed"
	EventTypeSegmentFinished EventType = "playback.segment_finished"
	EventTypeFallback        EventType = "playback.fallback"
	EventTypePaused          EventType = "playback.paused"
	EventTypeResumed         EventType = "playback.resumed"
)

// AllEventTypes lists every event type, for subscribers that forward everything.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeTransition, EventTypeLessonCompleted,
		EventTypeSensing, EventTypeBreakSuggested,
		EventTypeVoiceCommand, EventTypeVoiceRequest,
		EventTypeSegmentStarted, EventTypeWordRevealed, EventTypeSegmentFinished,
		EventTypeFallback, EventTypePaused, EventTypeResumed,
	}
}

// Event represents a bus event
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Handler is a function that handles events
type Handler func(Event)

// SubscriptionID identifies a registered handler.
type SubscriptionID uint64

type subscription struct {
	id SubscriptionID
	mb *mailbox
}

// mailbox hands one subscriber its events in publish order, one at a time.
type mailbox struct {
	handler Handler

	mu      sync.Mutex
	queue   []Event
	running bool
	closed  bool
}

func (m *mailbox) post(e Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, e)
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	go m.drain()
}

func (m *mailbox) drain() {
	for {
		m.mu.Lock()
		if m.closed || len(m.queue) == 0 {
			m.queue = nil
			m.running = false
			m.mu.Unlock()
			return
		}
		e := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		m.handler(e)
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}

// EventBus is a simple pub/sub event bus. Publish delivers to each
// subscriber in publish order without blocking the publisher.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscription
	nextID   SubscriptionID
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) SubscriptionID {
	return b.SubscribeMultiple([]EventType{eventType}, handler)
}

// SubscribeMultiple adds one handler for several event types under a single ID.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	mb := &mailbox{handler: handler}
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], subscription{id: id, mb: mb})
	}
	return id
}

// Unsubscribe removes every registration made under id.
func (b *EventBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.handlers {
		kept := subs[:0]
		for _, s := range subs {
			if s.id != id {
				kept = append(kept, s)
			} else {
				s.mb.close()
			}
		}
		if len(kept) == 0 {
			delete(b.handlers, et)
		} else {
			b.handlers[et] = kept
		}
	}
}

func (b *EventBus) snapshot(eventType EventType) []*mailbox {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.handlers[eventType]
	boxes := make([]*mailbox, len(subs))
	for i, s := range subs {
		boxes[i] = s.mb
	}
	return boxes
}

func stamp(event Event) Event {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	return event
}

// Publish queues an event for every subscribed handler and returns at once.
func (b *EventBus) Publish(event Event) {
	event = stamp(event)
	for _, mb := range b.snapshot(event.Type) {
		mb.post(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete. It
// bypasses the subscriber queues, so it is not ordered against Publish.
func (b *EventBus) PublishSync(event Event) {
	event = stamp(event)
	var wg sync.WaitGroup
	for _, mb := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(mb.handler)
	}
	wg.Wait()
}

// Clear removes all handlers and drops their queued events.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.handlers {
		for _, s := range subs {
			s.mb.close()
		}
	}
	b.handlers = make(map[EventType][]subscription)
}
