package session

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
	"github.com/noirelle/Nozorin-sub001/internal/signaling"
)

// handleMatchFound installs the new partner and, when we were assigned
// the offerer role, starts the handshake.
func (o *Orchestrator) handleMatchFound(p signaling.MatchFoundPayload) {
	o.adoptPartner(p, false)
}

// handleResumed is the rejoin-success path: same as a fresh match but
// the session telemetry row is already open and the queue was never
// involved, so the matcher is told about the pairing directly.
func (o *Orchestrator) handleResumed(p signaling.MatchFoundPayload) {
	o.matcher.NotifyResumed()
	o.adoptPartner(p, true)
}

func (o *Orchestrator) adoptPartner(p signaling.MatchFoundPayload, resumed bool) {
	partner := &domain.PartnerContext{
		PartnerID:        p.PartnerID,
		PartnerUserID:    domain.UserID(p.PartnerUserID),
		Username:         p.Username,
		Avatar:           p.Avatar,
		Gender:           p.Gender,
		CountryName:      p.CountryName,
		CountryCode:      p.CountryCode,
		FriendshipStatus: p.FriendshipStatus,
		Role:             p.Role,
	}
	if p.PartnerMuted != nil {
		partner.PartnerMuted = *p.PartnerMuted
	}

	o.mu.Lock()
	o.partner = partner
	o.roomID = p.RoomID
	o.mu.Unlock()

	if !resumed {
		o.telemetry.TrackSessionStart(*partner)
	}
	if err := o.telemetry.SaveActiveCall(domain.ReconnectContext{
		RoomID:         p.RoomID,
		PeerID:         p.PartnerID,
		StartedAt:      time.Now(),
		PartnerProfile: partner,
	}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("save active call")
	}

	if !o.device.Ready() {
		if err := o.device.Init(); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("capture init on match")
		}
	}

	// Only the offerer initiates; the answerer waits for the offer.
	if p.Role == domain.RoleOfferer {
		if err := o.nego.CreateOffer(p.PartnerID); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("create offer")
		}
	}
}

// handleCancelled fires when the pairing fell through server-side, for
// example the partner answered a different call first. Teardown, then
// re-search after a longer delay so the server finishes requeuing.
func (o *Orchestrator) handleCancelled(reason string) {
	log.Info().Str("module", "session").Str("reason", reason).Msg("match cancelled, requeueing")
	o.nego.ClosePeer()
	o.resetSession()
	o.scheduleRequeue(o.cfg.CancelledDelay)
}

// handleCallEnded implements the auto-reconnect policy. The manual-stop
// flag is checked first and consumed exactly once: an intentional stop
// must not be misread as a partner drop.
func (o *Orchestrator) handleCallEnded(p signaling.CallEndedPayload) {
	o.mu.Lock()
	if o.manualStop {
		o.manualStop = false
		o.mu.Unlock()
		log.Info().Str("module", "session").Msg("call ended after manual stop, not requeueing")
		return
	}
	o.mu.Unlock()

	reason := p.Reason
	if reason == "" {
		reason = "partner-disconnected"
	}
	log.Info().Str("module", "session").Str("reason", reason).Msg("call ended by partner, requeueing")

	o.telemetry.TrackSessionEnd(reason)
	_ = o.telemetry.ClearActiveCall()
	o.resumer.NotifyCallEnded()
	o.nego.ClosePeer()
	o.resetSession()
	o.scheduleRequeue(o.cfg.RequeueDelay)
}

// handleReconnectExpired fires when the partner's reconnect window ran
// out. Treated as a partner drop.
func (o *Orchestrator) handleReconnectExpired() {
	log.Info().Str("module", "session").Msg("partner reconnect window expired")
	o.telemetry.TrackSessionEnd("reconnect-expired")
	_ = o.telemetry.ClearActiveCall()
	o.nego.ClosePeer()
	o.resetSession()
	o.scheduleRequeue(o.cfg.RequeueDelay)
}

// handlePartnerReconnected swaps in the partner's new transport
// identity. The old connection is dead; only the side the server
// assigns the offerer role re-initiates, the other waits passively.
func (o *Orchestrator) handlePartnerReconnected(p signaling.PartnerReconnectedPayload) {
	o.nego.ClosePeer()

	o.mu.Lock()
	if o.partner == nil {
		o.mu.Unlock()
		log.Warn().Str("module", "session").Msg("partner reconnected but no partner context")
		return
	}
	o.partner.PartnerID = p.NewSocketID
	if p.NewUserID != "" {
		o.partner.PartnerUserID = domain.UserID(p.NewUserID)
	}
	if p.YourRole != "" {
		o.partner.Role = p.YourRole
	}
	role := p.YourRole
	newID := p.NewSocketID
	o.mu.Unlock()

	if role == domain.RoleOfferer {
		if err := o.nego.CreateOffer(newID); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("offer after partner reconnect")
		}
	}
}

// handleRestore re-injects a resumed session into the partner surface
// before the rejoin round trip completes.
func (o *Orchestrator) handleRestore(rctx domain.ReconnectContext) {
	o.mu.Lock()
	if rctx.PartnerProfile != nil {
		p := *rctx.PartnerProfile
		o.partner = &p
	}
	o.roomID = rctx.RoomID
	o.mu.Unlock()
	log.Info().Str("module", "session").Str("room", rctx.RoomID).Msg("restored partner from previous session")
}

// handleRejoinFailed resets to a clean, re-searchable idle state.
func (o *Orchestrator) handleRejoinFailed(reason string) {
	log.Warn().Str("module", "session").Str("reason", reason).Msg("rejoin failed, resetting")
	o.nego.ClosePeer()
	o.resetSession()
}

func (o *Orchestrator) handleQuality(q domain.SignalStrength) {
	o.mu.Lock()
	o.quality = q
	o.mu.Unlock()
}

// handleConnectionLost fires on a terminal peer-connection failure. If
// a partner is still attached this is an unexpected drop: tear down and
// requeue like a partner disconnect.
func (o *Orchestrator) handleConnectionLost() {
	o.mu.Lock()
	hadPartner := o.partner != nil
	manual := o.manualStop
	o.mu.Unlock()
	if !hadPartner || manual {
		return
	}

	log.Warn().Str("module", "session").Msg("peer connection failed")
	o.telemetry.TrackSessionEnd("connection-failed")
	_ = o.telemetry.ClearActiveCall()
	o.nego.ClosePeer()
	o.resetSession()
	o.scheduleRequeue(o.cfg.RequeueDelay)
}

func (o *Orchestrator) handleOffer(data json.RawMessage) {
	var p signaling.OfferPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad offer payload")
		return
	}
	caller := p.CallerID
	if caller == "" {
		caller = p.Target
	}
	if err := o.nego.HandleOffer(p.SDP, caller); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("handle offer")
	}
}

func (o *Orchestrator) handleAnswer(data json.RawMessage) {
	var p signaling.AnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad answer payload")
		return
	}
	if err := o.nego.HandleAnswer(p.SDP); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("handle answer")
	}
}

func (o *Orchestrator) handleIceCandidate(data json.RawMessage) {
	var p signaling.IceCandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad candidate payload")
		return
	}
	if err := o.nego.HandleIceCandidate(p.Candidate); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("handle candidate")
	}
}

func (o *Orchestrator) handlePartnerStrength(data json.RawMessage) {
	var p signaling.PartnerSignalStrengthPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad partner strength payload")
		return
	}
	o.mu.Lock()
	o.partnerQuality = p.Strength
	o.mu.Unlock()
}

func (o *Orchestrator) handlePartnerMute(data json.RawMessage) {
	var p signaling.PartnerMuteStatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad partner mute payload")
		return
	}
	o.mu.Lock()
	if o.partner != nil {
		o.partner.PartnerMuted = p.IsMuted
	}
	o.mu.Unlock()
}

func (o *Orchestrator) handleChat(data json.RawMessage) {
	var p signaling.ChatMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad chat payload")
		return
	}
	o.mu.Lock()
	o.chat = append(o.chat, ChatMessage{From: p.From, Text: p.Text, At: time.Now()})
	o.mu.Unlock()
}
