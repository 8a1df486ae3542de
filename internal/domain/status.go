// Package domain contains entity without logic, just meta-data
// and the small state enums the rest of the agent shares.
package domain

// MatchStatus is the single matchmaking state of the agent.
// Owned by the match controller; other packages only read it.
type MatchStatus string

const (
	StatusIdle         MatchStatus = "IDLE"
	StatusFinding      MatchStatus = "FINDING"
	StatusNegotiating  MatchStatus = "NEGOTIATING"
	StatusMatched      MatchStatus = "MATCHED"
	StatusReconnecting MatchStatus = "RECONNECTING"
)

// validTransitions is the explicit transition table. Anything not listed
// is an illegal transition and is refused by the controller.
var validTransitions = map[MatchStatus][]MatchStatus{
	StatusIdle:         {StatusFinding, StatusReconnecting, StatusMatched},
	StatusFinding:      {StatusIdle, StatusNegotiating, StatusMatched},
	StatusNegotiating:  {StatusIdle, StatusFinding, StatusMatched},
	StatusMatched:      {StatusIdle, StatusFinding, StatusReconnecting},
	StatusReconnecting: {StatusIdle, StatusFinding, StatusMatched},
}

// CanTransition reports whether moving from s to next is legal.
// Self transitions are always allowed (they are no-ops).
func (s MatchStatus) CanTransition(next MatchStatus) bool {
	if s == next {
		return true
	}
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s MatchStatus) String() string { return string(s) }

// Role is the side this agent plays in the negotiation handshake.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)
