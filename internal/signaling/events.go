package signaling

import (
	"github.com/pion/webrtc/v4"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
)

// Event names exchanged over the signaling channel. Names are shared
// with the server; do not rename casually.
const (
	EventIdentify   = "identify"
	EventIdentified = "identified"

	EventWaiting        = "waiting-for-match"
	EventPrepareMatch   = "prepare-match"
	EventMatchReady     = "match-ready"
	EventMatchFound     = "match-found"
	EventMatchCancelled = "match-cancelled"

	EventEndCall   = "end-call"
	EventCallEnded = "call-ended"

	EventRejoinCall          = "rejoin-call"
	EventRejoinSuccess       = "rejoin-success"
	EventRejoinFailed        = "rejoin-failed"
	EventCancelReconnect     = "cancel-reconnect"
	EventPartnerReconnecting = "partner-reconnecting"
	EventPartnerReconnected  = "partner-reconnected"

	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventIceCandidate = "ice-candidate"

	EventSignalStrength        = "signal-strength"
	EventPartnerSignalStrength = "partner-signal-strength"

	EventToggleMute       = "toggle-mute"
	EventPartnerMuteState = "partner-mute-state"

	EventChatMessage = "chat-message"
)

type IdentifyPayload struct {
	UserID string `json:"userId"`
}

type IdentifiedPayload struct {
	SocketID string `json:"socketId"`
}

type WaitingPayload struct {
	Position int `json:"position"`
}

type PrepareMatchPayload struct {
	RoomID string `json:"roomId,omitempty"`
}

// MatchFoundPayload is also the body of rejoin-success.
type MatchFoundPayload struct {
	Role             domain.Role `json:"role"`
	RoomID           string      `json:"roomId,omitempty"`
	PartnerID        string      `json:"partnerId"`
	PartnerUserID    string      `json:"partnerUserId"`
	Username         string      `json:"username"`
	Avatar           string      `json:"avatar,omitempty"`
	Gender           string      `json:"gender,omitempty"`
	CountryName      string      `json:"countryName,omitempty"`
	CountryCode      string      `json:"countryCode,omitempty"`
	FriendshipStatus string      `json:"friendshipStatus,omitempty"`
	PartnerMuted     *bool       `json:"partnerMuted,omitempty"`
}

type MatchCancelledPayload struct {
	Reason string `json:"reason"`
}

type EndCallPayload struct {
	Target string `json:"target"`
}

type CallEndedPayload struct {
	Reason string `json:"reason,omitempty"`
	By     string `json:"by,omitempty"`
}

type RejoinCallPayload struct {
	RoomID string `json:"roomId,omitempty"`
}

type RejoinFailedPayload struct {
	Reason string `json:"reason"`
}

type PartnerReconnectingPayload struct {
	TimeoutMs int `json:"timeoutMs"`
}

type PartnerReconnectedPayload struct {
	NewSocketID string      `json:"newSocketId"`
	NewUserID   string      `json:"newUserId,omitempty"`
	YourRole    domain.Role `json:"yourRole,omitempty"`
}

type OfferPayload struct {
	Target   string `json:"target,omitempty"`
	CallerID string `json:"callerId,omitempty"`
	SDP      string `json:"sdp"`
}

type AnswerPayload struct {
	Target   string `json:"target,omitempty"`
	CallerID string `json:"callerId,omitempty"`
	SDP      string `json:"sdp"`
}

type IceCandidatePayload struct {
	Target    string                  `json:"target,omitempty"`
	SenderID  string                  `json:"senderId,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type SignalStrengthPayload struct {
	Target   string                `json:"target"`
	Strength domain.SignalStrength `json:"strength"`
}

type PartnerSignalStrengthPayload struct {
	PartnerID string                `json:"partnerId"`
	Strength  domain.SignalStrength `json:"strength"`
}

type ToggleMutePayload struct {
	Target  string `json:"target,omitempty"`
	IsMuted bool   `json:"isMuted"`
}

type PartnerMuteStatePayload struct {
	IsMuted bool `json:"isMuted"`
}

type ChatMessagePayload struct {
	Target string `json:"target,omitempty"`
	From   string `json:"from,omitempty"`
	Text   string `json:"text"`
}
