package domain

type UserID string

// PartnerContext is everything the agent knows about the currently
// paired partner. Created on match-found or rejoin-success, cleared on
// call-ended, cancellation, or manual stop. Owned by the orchestrator;
// read-only everywhere else.
type PartnerContext struct {
	PartnerID        string `json:"partnerId"`
	PartnerUserID    UserID `json:"partnerUserId"`
	Username         string `json:"username"`
	Avatar           string `json:"avatar,omitempty"`
	Gender           string `json:"gender,omitempty"`
	CountryName      string `json:"countryName,omitempty"`
	CountryCode      string `json:"countryCode,omitempty"`
	FriendshipStatus string `json:"friendshipStatus,omitempty"`
	PartnerMuted     bool   `json:"partnerMuted"`
	Role             Role   `json:"role"`
}

// Preferences carries the user's matchmaking filters.
type Preferences struct {
	Gender  string `json:"gender,omitempty"`
	Country string `json:"country,omitempty"`
}
