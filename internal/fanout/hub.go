package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultLaneBuffer = 64

var (
	ErrLagged        = errors.New("subscriber evicted: could not keep up")
	ErrClosed        = errors.New("subscription closed")
	ErrSessionClosed = errors.New("session closed")
)

// Relay forwards locally published events to other instances.
type Relay interface {
	Forward(ev Event)
}

type Hub struct {
	mu         sync.Mutex
	origin     string
	laneBuffer int
	sessions   map[string]*sessionTopic
	relay      Relay
	metrics    *Metrics
	now        func() time.Time
}

// sessionTopic outlives CloseSession so the sequence keeps increasing for
// events published after the end. Forget drops it.
type sessionTopic struct {
	seq    uint64
	closed bool
	subs   map[*Subscription]struct{}
}

type Option func(*Hub)

func WithLaneBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.laneBuffer = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(origin string, opts ...Option) *Hub {
	h := &Hub{
		origin:     origin,
		laneBuffer: defaultLaneBuffer,
		sessions:   make(map[string]*sessionTopic),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Origin() string {
	return h.origin
}

func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
}

func (h *Hub) topic(sessionID string) *sessionTopic {
	t, ok := h.sessions[sessionID]
	if !ok {
		t = &sessionTopic{subs: make(map[*Subscription]struct{})}
		h.sessions[sessionID] = t
	}
	return t
}

// Publish assigns the next sequence number of the session and enqueues the
// event to every subscriber. Callers publish while holding the session lock so
// the sequence reflects the order of mutations.
func (h *Hub) Publish(sessionID string, typ EventType, lane Lane, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	h.mu.Lock()
	t := h.topic(sessionID)
	t.seq++
	ev := Event{
		SessionID: sessionID,
		Seq:       t.seq,
		Type:      typ,
		Lane:      lane,
		Payload:   raw,
		At:        h.now(),
		Origin:    h.origin,
	}
	h.deliverLocked(t, ev)
	relay := h.relay
	h.mu.Unlock()

	h.metrics.RecordPublished(typ)
	if relay != nil {
		relay.Forward(ev)
	}
	return ev, nil
}

// Deliver hands an event published by another instance to local subscribers.
func (h *Hub) Deliver(ev Event) {
	if ev.Origin == h.origin {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.sessions[ev.SessionID]
	if !ok {
		return
	}
	if ev.Seq > t.seq {
		t.seq = ev.Seq
	}
	h.deliverLocked(t, ev)
}

func (h *Hub) deliverLocked(t *sessionTopic, ev Event) {
	for sub := range t.subs {
		lane := sub.normal
		if ev.Lane == LanePriority {
			lane = sub.priority
		}
		select {
		case lane <- ev:
		default:
			delete(t.subs, sub)
			sub.close(ErrLagged)
			h.metrics.RecordEviction()
			h.metrics.SubscriberLeft()
			slog.Warn("evicted lagging subscriber", "session_id", ev.SessionID, "subscriber", sub.name, "seq", ev.Seq)
		}
	}
}

// Subscribe registers a subscriber for the session. It fails with
// ErrSessionClosed once the session has been closed.
func (h *Hub) Subscribe(sessionID, name string) (*Subscription, error) {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		name:      name,
		priority:  make(chan Event, h.laneBuffer),
		normal:    make(chan Event, h.laneBuffer),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	t := h.topic(sessionID)
	if t.closed {
		h.mu.Unlock()
		return nil, ErrSessionClosed
	}
	t.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.SubscriberJoined()
	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.sessions[sub.sessionID]
	if !ok {
		return
	}
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		sub.close(ErrClosed)
		h.metrics.SubscriberLeft()
	}
	if len(t.subs) == 0 && t.seq == 0 && !t.closed {
		delete(h.sessions, sub.sessionID)
	}
}

// CloseSession ends every subscription of the session after the events already
// queued have been drained. The sequence is kept until Forget.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topic(sessionID)
	for sub := range t.subs {
		delete(t.subs, sub)
		sub.close(ErrSessionClosed)
		h.metrics.SubscriberLeft()
	}
	t.closed = true
}

// Forget drops everything the hub holds for the session.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	for sub := range t.subs {
		sub.close(ErrSessionClosed)
		h.metrics.SubscriberLeft()
	}
	delete(h.sessions, sessionID)
}

func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.sessions[sessionID]; ok {
		return len(t.subs)
	}
	return 0
}

func (h *Hub) LastSeq(sessionID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.sessions[sessionID]; ok {
		return t.seq
	}
	return 0
}

type Subscription struct {
	hub       *Hub
	sessionID string
	name      string
	priority  chan Event
	normal    chan Event
	done      chan struct{}
	once      sync.Once
	err       error
}

func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Next returns the next event, preferring the priority lane. Each lane is FIFO.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case ev := <-s.priority:
			return ev, nil
		default:
		}
		select {
		case <-s.done:
			if errors.Is(s.err, ErrLagged) {
				return Event{}, s.err
			}
			return s.drain()
		default:
		}

		select {
		case ev := <-s.priority:
			return ev, nil
		case ev := <-s.normal:
			return ev, nil
		case <-s.done:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (s *Subscription) drain() (Event, error) {
	select {
	case ev := <-s.priority:
		return ev, nil
	default:
	}
	select {
	case ev := <-s.normal:
		return ev, nil
	default:
	}
	return Event{}, s.err
}

func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}
