// Package quality derives an advisory connection quality from transport
// metrics. It never changes session membership.
package quality

import "time"

type Quality string

const (
	Excellent    Quality = "excellent"
	Good         Quality = "good"
	Poor         Quality = "poor"
	Disconnected Quality = "disconnected"
)

type Sample struct {
	PacketLossPct float64   `json:"packet_loss_pct"`
	RTTMillis     float64   `json:"rtt_ms"`
	JitterMillis  float64   `json:"jitter_ms"`
	At            time.Time `json:"at"`
}

type Limits struct {
	RTTMillis     float64
	PacketLossPct float64
	JitterMillis  float64
}

func (l Limits) admits(s Sample) bool {
	return s.RTTMillis <= l.RTTMillis && s.PacketLossPct <= l.PacketLossPct && s.JitterMillis <= l.JitterMillis
}

type Thresholds struct {
	Excellent  Limits
	Good       Limits
	StaleAfter time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Excellent:  Limits{RTTMillis: 50, PacketLossPct: 1, JitterMillis: 10},
		Good:       Limits{RTTMillis: 150, PacketLossPct: 5, JitterMillis: 30},
		StaleAfter: 10 * time.Second,
	}
}

// Classify averages the window and maps it onto the thresholds. A window with
// no sample newer than StaleAfter is disconnected.
func Classify(samples []Sample, lastSeen, now time.Time, th Thresholds) Quality {
	if len(samples) == 0 || lastSeen.IsZero() || now.Sub(lastSeen) >= th.StaleAfter {
		return Disconnected
	}
	avg := mean(samples)
	switch {
	case th.Excellent.admits(avg):
		return Excellent
	case th.Good.admits(avg):
		return Good
	default:
		return Poor
	}
}

func mean(samples []Sample) Sample {
	var sum Sample
	for _, s := range samples {
		sum.PacketLossPct += s.PacketLossPct
		sum.RTTMillis += s.RTTMillis
		sum.JitterMillis += s.JitterMillis
	}
	n := float64(len(samples))
	return Sample{
		PacketLossPct: sum.PacketLossPct / n,
		RTTMillis:     sum.RTTMillis / n,
		JitterMillis:  sum.JitterMillis / n,
	}
}
