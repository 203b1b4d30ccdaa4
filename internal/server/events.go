package server

import (
	"context"
	"sync"
	"time"

	"github.com/propview/viewings/backend/internal/invites"
)

const inviteEventType = "invite-status"

// InviteEvent is broadcast whenever an invite of a viewing changes status, so
// the dashboard can refresh without polling.
type InviteEvent struct {
	ViewingID string         `json:"viewing_id"`
	LeadID    string         `json:"lead_id"`
	Status    invites.Status `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventStream fans invite events out to per-viewing subscribers. Delivery is
// best effort; a subscriber that falls behind drops messages.
type EventStream struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan InviteEvent
}

// NewEventStream constructs an empty stream.
func NewEventStream() *EventStream {
	return &EventStream{
		subscribers: make(map[string]map[int64]*eventSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers interest in one viewing's invite events. The returned
// cleanup runs automatically when the context ends.
func (s *EventStream) Subscribe(ctx context.Context, viewingID string) (<-chan InviteEvent, func()) {
	if viewingID == "" {
		ch := make(chan InviteEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &eventSubscriber{
		id:     s.nextSequence(),
		stream: make(chan InviteEvent, s.bufferSize),
	}
	s.register(viewingID, subscriber)
	cleanup := func() {
		s.unregister(viewingID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers an event to every subscriber of its viewing.
func (s *EventStream) Publish(event InviteEvent) {
	if event.ViewingID == "" {
		return
	}
	s.mu.RLock()
	subscribers := s.subscribers[event.ViewingID]
	if len(subscribers) == 0 {
		s.mu.RUnlock()
		return
	}
	copies := make([]*eventSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	s.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (s *EventStream) nextSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *EventStream) register(viewingID string, subscriber *eventSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[viewingID]; !ok {
		s.subscribers[viewingID] = make(map[int64]*eventSubscriber)
	}
	s.subscribers[viewingID][subscriber.id] = subscriber
}

func (s *EventStream) unregister(viewingID string, subscriberID int64) {
	s.mu.Lock()
	subscribers := s.subscribers[viewingID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(s.subscribers, viewingID)
		}
	}
	s.mu.Unlock()
}
