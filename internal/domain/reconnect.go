package domain

import "time"

// ReconnectContext remembers enough about an interrupted call to
// attempt a rejoin after a process restart or transport loss.
type ReconnectContext struct {
	RoomID         string          `json:"roomId,omitempty"`
	PeerID         string          `json:"peerId"`
	StartedAt      time.Time       `json:"startedAt"`
	PartnerProfile *PartnerContext `json:"partnerProfile,omitempty"`
}

// Stale reports whether the context is too old to be worth rejoining.
func (r ReconnectContext) Stale(threshold time.Duration, now time.Time) bool {
	return now.Sub(r.StartedAt) > threshold
}
