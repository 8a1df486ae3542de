// Package session is the top-level sequencer: it composes matching,
// negotiation, reconnection, capture and chat into one call lifecycle
// and implements the user actions find, next and stop.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
	"github.com/noirelle/Nozorin-sub001/internal/match"
	"github.com/noirelle/Nozorin-sub001/internal/media"
	"github.com/noirelle/Nozorin-sub001/internal/reconnect"
	"github.com/noirelle/Nozorin-sub001/internal/signaling"
)

var ErrCaptureFailed = errors.New("capture device init failed")

// Channel is the slice of the signaling channel the orchestrator uses.
type Channel interface {
	Emit(event string, payload any) error
	On(event string, fn signaling.Handler)
	SocketID() string
}

// Matcher is the matching controller surface.
type Matcher interface {
	StartSearch(ctx context.Context, prefs domain.Preferences, userID domain.UserID) error
	StopSearch(ctx context.Context)
	SkipToNext()
	NotifyResumed()
	SetCallbacks(cb match.Callbacks)
	SetSkipAction(fn func())
	Status() domain.MatchStatus
	QueuePosition() int
}

// Negotiator is the negotiation coordinator surface.
type Negotiator interface {
	CreateOffer(partnerID string) error
	HandleOffer(sdp, callerID string) error
	HandleAnswer(sdp string) error
	HandleIceCandidate(cand webrtc.ICECandidateInit) error
	FlushPending()
	ClosePeer()
	SetOnQuality(fn func(domain.SignalStrength))
	SetOnTerminal(fn func())
}

// Resumer is the reconnection supervisor surface.
type Resumer interface {
	CheckOnce(ctx context.Context)
	Bootstrap(rctx domain.ReconnectContext)
	Cancel()
	NotifyCallEnded()
	Reconnecting() bool
	SetCallbacks(cb reconnect.Callbacks)
}

// Telemetry records session lifecycle and the cached active call.
type Telemetry interface {
	TrackSessionStart(partner domain.PartnerContext)
	TrackSessionEnd(reason string)
	SaveActiveCall(rctx domain.ReconnectContext) error
	ClearActiveCall() error
}

// ChatMessage is one line of the in-call transcript.
type ChatMessage struct {
	From string    `json:"from"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Status is the snapshot served to the UI layer.
type Status struct {
	MatchStatus    domain.MatchStatus     `json:"matchStatus"`
	QueuePosition  int                    `json:"queuePosition,omitempty"`
	Partner        *domain.PartnerContext `json:"partner,omitempty"`
	Quality        domain.SignalStrength  `json:"quality,omitempty"`
	PartnerQuality domain.SignalStrength  `json:"partnerQuality,omitempty"`
	Reconnecting   bool                   `json:"reconnecting"`
	Muted          bool                   `json:"muted"`
	Chat           []ChatMessage          `json:"chat,omitempty"`
}

type Config struct {
	RequeueDelay   time.Duration
	CancelledDelay time.Duration
}

// Orchestrator owns the partner context and the one-shot manual-stop
// suppression flag that keeps an intentional stop from being treated
// as a partner drop.
type Orchestrator struct {
	channel   Channel
	matcher   Matcher
	nego      Negotiator
	resumer   Resumer
	device    media.Device
	telemetry Telemetry
	cfg       Config

	mu             sync.Mutex
	partner        *domain.PartnerContext
	roomID         string
	prefs          domain.Preferences
	manualStop     bool
	quality        domain.SignalStrength
	partnerQuality domain.SignalStrength
	chat           []ChatMessage
	requeueTimer   *time.Timer
}

func NewOrchestrator(
	channel Channel,
	matcher Matcher,
	nego Negotiator,
	resumer Resumer,
	device media.Device,
	telemetry Telemetry,
	cfg Config,
) *Orchestrator {
	o := &Orchestrator{
		channel:   channel,
		matcher:   matcher,
		nego:      nego,
		resumer:   resumer,
		device:    device,
		telemetry: telemetry,
		cfg:       cfg,
	}
	o.wire()
	return o
}

// wire hooks every event surface into the orchestrator. Subscriptions
// are registered once; the components invoke whatever is installed.
func (o *Orchestrator) wire() {
	o.matcher.SetCallbacks(match.Callbacks{
		OnMatchFound:         o.handleMatchFound,
		OnCancelled:          o.handleCancelled,
		OnCallEnded:          o.handleCallEnded,
		OnReconnectExpired:   o.handleReconnectExpired,
		OnPartnerReconnected: o.handlePartnerReconnected,
	})
	o.matcher.SetSkipAction(o.skipAction)

	o.resumer.SetCallbacks(reconnect.Callbacks{
		OnRestore: o.handleRestore,
		OnResumed: o.handleResumed,
		OnFailed:  o.handleRejoinFailed,
	})

	o.nego.SetOnQuality(o.handleQuality)
	o.nego.SetOnTerminal(o.handleConnectionLost)
	o.device.OnReady(o.nego.FlushPending)

	o.channel.On(signaling.EventOffer, o.handleOffer)
	o.channel.On(signaling.EventAnswer, o.handleAnswer)
	o.channel.On(signaling.EventIceCandidate, o.handleIceCandidate)
	o.channel.On(signaling.EventPartnerSignalStrength, o.handlePartnerStrength)
	o.channel.On(signaling.EventPartnerMuteState, o.handlePartnerMute)
	o.channel.On(signaling.EventChatMessage, o.handleChat)
}

// Start probes for a resumable session. Call after the channel is
// identified.
func (o *Orchestrator) Start(ctx context.Context) {
	o.resumer.CheckOnce(ctx)
}

// SetPreferences updates the matchmaking filters used by later searches.
func (o *Orchestrator) SetPreferences(prefs domain.Preferences) {
	o.mu.Lock()
	o.prefs = prefs
	o.mu.Unlock()
}

// FindMatch enters the matchmaking queue. A no-op while already paired
// unless forced. Capture is initialized first; if that fails the search
// is aborted.
func (o *Orchestrator) FindMatch(ctx context.Context, force bool) error {
	o.mu.Lock()
	if o.partner != nil && !force {
		o.mu.Unlock()
		log.Info().Str("module", "session").Msg("findMatch ignored, already paired")
		return nil
	}
	prefs := o.prefs
	o.mu.Unlock()

	if !o.device.Ready() {
		if err := o.device.Init(); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("capture init failed, aborting search")
			return errors.Join(ErrCaptureFailed, err)
		}
	}

	o.resetSession()
	return o.matcher.StartSearch(ctx, prefs, "")
}

// Next skips to a new partner. Debounced by the matcher's skip guard.
func (o *Orchestrator) Next() {
	o.matcher.SkipToNext()
}

// skipAction is what runs when the skip guard admits a Next.
func (o *Orchestrator) skipAction() {
	o.mu.Lock()
	// Arm the suppression flag only when there is a call whose call-ended
	// echo will consume it; otherwise it would leak into the next session.
	o.manualStop = o.partner != nil
	o.mu.Unlock()

	o.endCurrentCall("skipped")
	o.nego.ClosePeer()
	if err := o.FindMatch(context.Background(), true); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("re-search after skip")
	}
}

// Stop is the user hanging up: everything is torn down and the agent
// returns to idle.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	// Same rule as skipAction: no call, no echo, no flag.
	o.manualStop = o.partner != nil
	o.cancelRequeueLocked()
	o.mu.Unlock()

	o.endCurrentCall("stopped")
	o.matcher.StopSearch(ctx)
	o.resumer.Cancel()
	o.nego.ClosePeer()
	o.device.Cleanup()
	o.resetSession()
	log.Info().Str("module", "session").Msg("stopped by user")
}

// ToggleMute flips the local mute state and tells the partner. Returns
// the new muted state.
func (o *Orchestrator) ToggleMute() bool {
	enabled := !o.device.AudioEnabled()
	o.device.SetAudioEnabled(enabled)
	muted := !enabled

	o.mu.Lock()
	target := ""
	if o.partner != nil {
		target = o.partner.PartnerID
	}
	o.mu.Unlock()

	if err := o.channel.Emit(signaling.EventToggleMute, signaling.ToggleMutePayload{
		Target:  target,
		IsMuted: muted,
	}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("emit toggle-mute")
	}
	return muted
}

// SendChat sends one chat line to the current partner.
func (o *Orchestrator) SendChat(text string) error {
	o.mu.Lock()
	if o.partner == nil {
		o.mu.Unlock()
		return errors.New("no partner to chat with")
	}
	target := o.partner.PartnerID
	o.chat = append(o.chat, ChatMessage{From: "me", Text: text, At: time.Now()})
	o.mu.Unlock()

	return o.channel.Emit(signaling.EventChatMessage, signaling.ChatMessagePayload{
		Target: target,
		Text:   text,
	})
}

// Partner returns a copy of the current partner context, nil if unpaired.
func (o *Orchestrator) Partner() *domain.PartnerContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.partner == nil {
		return nil
	}
	p := *o.partner
	return &p
}

// Snapshot assembles the status served to the UI layer.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	var partner *domain.PartnerContext
	if o.partner != nil {
		p := *o.partner
		partner = &p
	}
	chat := make([]ChatMessage, len(o.chat))
	copy(chat, o.chat)
	st := Status{
		Partner:        partner,
		Quality:        o.quality,
		PartnerQuality: o.partnerQuality,
		Chat:           chat,
	}
	o.mu.Unlock()

	st.MatchStatus = o.matcher.Status()
	st.QueuePosition = o.matcher.QueuePosition()
	st.Reconnecting = o.resumer.Reconnecting()
	st.Muted = !o.device.AudioEnabled()
	return st
}

// endCurrentCall tells the server the call is over and closes telemetry.
func (o *Orchestrator) endCurrentCall(reason string) {
	o.mu.Lock()
	partner := o.partner
	o.mu.Unlock()
	if partner == nil {
		return
	}

	if err := o.channel.Emit(signaling.EventEndCall, signaling.EndCallPayload{
		Target: partner.PartnerID,
	}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("emit end-call")
	}
	o.telemetry.TrackSessionEnd(reason)
	_ = o.telemetry.ClearActiveCall()
}

// resetSession clears partner context, chat and quality indicators.
func (o *Orchestrator) resetSession() {
	o.mu.Lock()
	o.partner = nil
	o.roomID = ""
	o.chat = nil
	o.quality = ""
	o.partnerQuality = ""
	o.mu.Unlock()
}

func (o *Orchestrator) cancelRequeueLocked() {
	if o.requeueTimer != nil {
		o.requeueTimer.Stop()
		o.requeueTimer = nil
	}
}

// scheduleRequeue re-enters search after delay, so the UI never flashes
// an idle state between partners.
func (o *Orchestrator) scheduleRequeue(delay time.Duration) {
	o.mu.Lock()
	o.cancelRequeueLocked()
	o.requeueTimer = time.AfterFunc(delay, func() {
		o.mu.Lock()
		o.requeueTimer = nil
		o.mu.Unlock()
		if err := o.FindMatch(context.Background(), false); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("auto re-search")
		}
	})
	o.mu.Unlock()
}
