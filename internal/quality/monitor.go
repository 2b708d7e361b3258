package quality

import (
	"sync"
	"time"
)

const defaultWindow = 5

// Sink receives quality changes. Implementations must not block.
type Sink interface {
	QualityChanged(sessionID, participantID string, q Quality)
}

type participantKey struct {
	sessionID     string
	participantID string
}

type window struct {
	samples  []Sample
	lastSeen time.Time
	quality  Quality
}

type Monitor struct {
	mu         sync.Mutex
	thresholds Thresholds
	size       int
	sink       Sink
	windows    map[participantKey]*window
}

func NewMonitor(th Thresholds, sink Sink) *Monitor {
	return &Monitor{
		thresholds: th,
		size:       defaultWindow,
		sink:       sink,
		windows:    make(map[participantKey]*window),
	}
}

func (m *Monitor) Observe(sessionID, participantID string, s Sample) Quality {
	key := participantKey{sessionID: sessionID, participantID: participantID}
	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}
	w.samples = append(w.samples, s)
	if len(w.samples) > m.size {
		w.samples = w.samples[len(w.samples)-m.size:]
	}
	if s.At.After(w.lastSeen) {
		w.lastSeen = s.At
	}
	q := Classify(w.samples, w.lastSeen, s.At, m.thresholds)
	changed := q != w.quality
	w.quality = q
	m.mu.Unlock()

	if changed && m.sink != nil {
		m.sink.QualityChanged(sessionID, participantID, q)
	}
	return q
}

// Sweep marks participants without a recent sample as disconnected.
func (m *Monitor) Sweep(now time.Time) {
	var stale []participantKey
	m.mu.Lock()
	for key, w := range m.windows {
		if w.quality == Disconnected {
			continue
		}
		if Classify(w.samples, w.lastSeen, now, m.thresholds) == Disconnected {
			w.quality = Disconnected
			w.samples = nil
			stale = append(stale, key)
		}
	}
	m.mu.Unlock()

	if m.sink == nil {
		return
	}
	for _, key := range stale {
		m.sink.QualityChanged(key.sessionID, key.participantID, Disconnected)
	}
}

func (m *Monitor) Forget(sessionID, participantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, participantKey{sessionID: sessionID, participantID: participantID})
}

func (m *Monitor) ForgetSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.windows {
		if key.sessionID == sessionID {
			delete(m.windows, key)
		}
	}
}

func (m *Monitor) Current(sessionID, participantID string) (Quality, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[participantKey{sessionID: sessionID, participantID: participantID}]
	if !ok {
		return "", false
	}
	return w.quality, true
}
