package quality

import (
	"sync"
	"testing"
	"time"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name string
		s    Sample
		want Quality
	}{
		{name: "excellent", s: Sample{RTTMillis: 40, PacketLossPct: 0.5, JitterMillis: 5}, want: Excellent},
		{name: "excellent boundary", s: Sample{RTTMillis: 50, PacketLossPct: 1, JitterMillis: 10}, want: Excellent},
		{name: "good rtt", s: Sample{RTTMillis: 120, PacketLossPct: 0.5, JitterMillis: 5}, want: Good},
		{name: "good boundary", s: Sample{RTTMillis: 150, PacketLossPct: 5, JitterMillis: 30}, want: Good},
		{name: "poor rtt", s: Sample{RTTMillis: 151}, want: Poor},
		{name: "poor loss", s: Sample{RTTMillis: 20, PacketLossPct: 5.1}, want: Poor},
		{name: "poor jitter", s: Sample{RTTMillis: 20, JitterMillis: 31}, want: Poor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify([]Sample{tc.s}, base, base, th)
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassify_Stale(t *testing.T) {
	th := DefaultThresholds()
	samples := []Sample{{RTTMillis: 10}}
	if got := Classify(samples, base, base.Add(th.StaleAfter), th); got != Disconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}
	if got := Classify(nil, base, base, th); got != Disconnected {
		t.Fatalf("expected disconnected without samples, got %s", got)
	}
}

func TestClassify_AveragesWindow(t *testing.T) {
	th := DefaultThresholds()
	samples := []Sample{{RTTMillis: 40}, {RTTMillis: 40}, {RTTMillis: 200}}
	if got := Classify(samples, base, base, th); got != Good {
		t.Fatalf("expected good for mean rtt 93ms, got %s", got)
	}
}

type qualityChange struct {
	sessionID     string
	participantID string
	quality       Quality
}

type recordingSink struct {
	mu      sync.Mutex
	changes []qualityChange
}

func (r *recordingSink) QualityChanged(sessionID, participantID string, q Quality) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, qualityChange{sessionID, participantID, q})
}

func TestMonitor_ReportsOnlyChanges(t *testing.T) {
	sink := &recordingSink{}
	m := NewMonitor(DefaultThresholds(), sink)

	m.Observe("s1", "p1", Sample{RTTMillis: 30, At: base})
	m.Observe("s1", "p1", Sample{RTTMillis: 30, At: base.Add(time.Second)})
	if len(sink.changes) != 1 || sink.changes[0].quality != Excellent {
		t.Fatalf("expected one excellent change, got %+v", sink.changes)
	}

	for i := 2; i < 8; i++ {
		m.Observe("s1", "p1", Sample{RTTMillis: 400, At: base.Add(time.Duration(i) * time.Second)})
	}
	last := sink.changes[len(sink.changes)-1]
	if last.quality != Poor {
		t.Fatalf("expected poor after degraded samples, got %+v", sink.changes)
	}
	if q, ok := m.Current("s1", "p1"); !ok || q != Poor {
		t.Fatalf("expected current poor, got %s %v", q, ok)
	}
}

func TestMonitor_SweepMarksStale(t *testing.T) {
	sink := &recordingSink{}
	th := DefaultThresholds()
	m := NewMonitor(th, sink)

	m.Observe("s1", "p1", Sample{RTTMillis: 30, At: base})
	m.Observe("s1", "p2", Sample{RTTMillis: 30, At: base.Add(8 * time.Second)})

	m.Sweep(base.Add(th.StaleAfter))
	if len(sink.changes) != 3 {
		t.Fatalf("expected one stale change, got %+v", sink.changes)
	}
	got := sink.changes[2]
	if got.participantID != "p1" || got.quality != Disconnected {
		t.Fatalf("unexpected change %+v", got)
	}

	m.Sweep(base.Add(2 * th.StaleAfter))
	if len(sink.changes) != 4 || sink.changes[3].participantID != "p2" {
		t.Fatalf("expected p2 disconnected on second sweep, got %+v", sink.changes)
	}

	m.ForgetSession("s1")
	if _, ok := m.Current("s1", "p1"); ok {
		t.Fatal("expected session windows to be forgotten")
	}
}
