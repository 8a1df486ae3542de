package domain

import "time"

// SignalStrength classifies the current media connection health. Derived
// from a rolling RTT sample, never persisted.
type SignalStrength string

const (
	SignalGood         SignalStrength = "good"
	SignalFair         SignalStrength = "fair"
	SignalPoor         SignalStrength = "poor"
	SignalReconnecting SignalStrength = "reconnecting"
)

const (
	rttPoorThreshold = 300 * time.Millisecond
	rttFairThreshold = 150 * time.Millisecond
)

// ClassifyRTT maps a round-trip-time sample to a strength bucket.
func ClassifyRTT(rtt time.Duration) SignalStrength {
	switch {
	case rtt > rttPoorThreshold:
		return SignalPoor
	case rtt > rttFairThreshold:
		return SignalFair
	default:
		return SignalGood
	}
}
