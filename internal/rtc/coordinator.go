// Package rtc drives the peer-to-peer negotiation handshake: it owns
// the peer handle, defers inbound offer/answer/ICE messages until local
// capture is ready, flushes them in strict order, and samples link
// quality while connected.
package rtc

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
	"github.com/noirelle/Nozorin-sub001/internal/media"
	"github.com/noirelle/Nozorin-sub001/internal/signaling"
)

var ErrNoPeer = errors.New("no peer connection")

// Emitter is the slice of the signaling channel the coordinator needs.
type Emitter interface {
	Emit(event string, payload any) error
}

// Coordinator reconciles signaling messages and peer-connection
// callbacks into one negotiation state. All entry points serialize on
// one mutex; pion callbacks re-enter through exported methods only.
type Coordinator struct {
	emit    Emitter
	device  media.Device
	factory Factory

	qualityInterval time.Duration

	mu          sync.Mutex
	peer        Peer
	partnerID   string
	inbox       inbox
	samplerStop chan struct{}

	onQuality     func(domain.SignalStrength)
	onTerminal    func()
	onRemoteTrack func(*webrtc.TrackRemote)
}

func NewCoordinator(emit Emitter, device media.Device, factory Factory, qualityInterval time.Duration) *Coordinator {
	return &Coordinator{
		emit:            emit,
		device:          device,
		factory:         factory,
		qualityInterval: qualityInterval,
	}
}

// SetOnQuality registers the local quality listener. Replaceable at any
// time; the sampler always calls the latest one.
func (c *Coordinator) SetOnQuality(fn func(domain.SignalStrength)) {
	c.mu.Lock()
	c.onQuality = fn
	c.mu.Unlock()
}

// SetOnTerminal registers the listener for failed/closed transitions.
func (c *Coordinator) SetOnTerminal(fn func()) {
	c.mu.Lock()
	c.onTerminal = fn
	c.mu.Unlock()
}

// SetOnRemoteTrack registers the remote audio sink. Called with nil
// when the connection is torn down.
func (c *Coordinator) SetOnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	c.mu.Lock()
	c.onRemoteTrack = fn
	c.mu.Unlock()
}

// CreateOffer starts an outbound handshake towards partnerID. The
// capture device must already be ready; offerers never queue.
func (c *Coordinator) CreateOffer(partnerID string) error {
	if !c.device.Ready() {
		return media.ErrNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.partnerID = partnerID
	if err := c.ensurePeerLocked(); err != nil {
		return err
	}

	offer, err := c.peer.CreateOffer()
	if err != nil {
		return err
	}
	if err := c.peer.SetLocalDescription(offer); err != nil {
		return err
	}

	log.Info().Str("module", "rtc").Str("partner", partnerID).Msg("offer created")
	return c.emit.Emit(signaling.EventOffer, signaling.OfferPayload{
		Target: partnerID,
		SDP:    offer.SDP,
	})
}

// HandleOffer applies an inbound offer, or parks it in the single
// pending-offer slot when capture is not ready yet.
func (c *Coordinator) HandleOffer(sdp, callerID string) error {
	c.mu.Lock()
	if !c.device.Ready() {
		c.inbox.putOffer(sdp, callerID)
		c.mu.Unlock()
		log.Info().Str("module", "rtc").Str("caller", callerID).Msg("offer queued, media not ready")
		return nil
	}
	defer c.mu.Unlock()
	return c.applyOfferLocked(sdp, callerID)
}

// HandleAnswer applies an inbound answer, or parks it in the single
// pending-answer slot when capture is not ready yet.
func (c *Coordinator) HandleAnswer(sdp string) error {
	c.mu.Lock()
	if !c.device.Ready() {
		c.inbox.putAnswer(sdp)
		c.mu.Unlock()
		log.Info().Str("module", "rtc").Msg("answer queued, media not ready")
		return nil
	}
	defer c.mu.Unlock()
	return c.applyAnswerLocked(sdp)
}

// HandleIceCandidate applies a remote candidate. Candidates queue while
// capture is not ready, and also while no remote description is set: a
// candidate must never reach the peer before its matching description.
func (c *Coordinator) HandleIceCandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.device.Ready() || c.peer == nil || !c.peer.HasRemoteDescription() {
		c.inbox.addCandidate(cand)
		return nil
	}
	if err := c.peer.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("add ice candidate")
		return err
	}
	return nil
}

// FlushPending drains queued negotiation messages in fixed order:
// offer, then answer, then candidates in arrival order. Invoked the
// moment the capture device reports ready.
func (c *Coordinator) FlushPending() {
	c.mu.Lock()
	if c.inbox.empty() {
		c.mu.Unlock()
		return
	}
	offer, answer, cands := c.inbox.take()

	if offer != nil {
		if err := c.applyOfferLocked(offer.SDP, offer.CallerID); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("flush pending offer")
		}
	}
	if answer != nil {
		if err := c.applyAnswerLocked(*answer); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("flush pending answer")
		}
	}
	for _, cand := range cands {
		if c.peer == nil || !c.peer.HasRemoteDescription() {
			// Remote description never landed; requeue rather than drop.
			c.inbox.addCandidate(cand)
			continue
		}
		if err := c.peer.AddICECandidate(cand); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("flush pending candidate")
		}
	}
	c.mu.Unlock()
	log.Info().Str("module", "rtc").Msg("negotiation inbox flushed")
}

// ClosePeer tears down the connection and clears all queued state. The
// remote sink is told to clear its output.
func (c *Coordinator) ClosePeer() {
	c.mu.Lock()
	peer := c.peer
	c.peer = nil
	c.partnerID = ""
	c.inbox = inbox{}
	c.stopSamplerLocked()
	onRemote := c.onRemoteTrack
	c.mu.Unlock()

	if peer != nil {
		if err := peer.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("peer close")
		} else {
			log.Info().Str("module", "rtc").Msg("peer closed")
		}
	}
	if onRemote != nil {
		onRemote(nil)
	}
}

// HasPeer reports whether a connection currently exists.
func (c *Coordinator) HasPeer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer != nil
}

func (c *Coordinator) applyOfferLocked(sdp, callerID string) error {
	c.partnerID = callerID
	if err := c.ensurePeerLocked(); err != nil {
		return err
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.peer.SetRemoteDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("set remote offer")
		return err
	}
	answer, err := c.peer.CreateAnswer()
	if err != nil {
		return err
	}
	if err := c.peer.SetLocalDescription(answer); err != nil {
		return err
	}
	c.drainCandidatesLocked()

	log.Info().Str("module", "rtc").Str("caller", callerID).Msg("answer created")
	return c.emit.Emit(signaling.EventAnswer, signaling.AnswerPayload{
		Target: callerID,
		SDP:    answer.SDP,
	})
}

func (c *Coordinator) applyAnswerLocked(sdp string) error {
	if c.peer == nil {
		return ErrNoPeer
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := c.peer.SetRemoteDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("set remote answer")
		return err
	}
	c.drainCandidatesLocked()
	return nil
}

// drainCandidatesLocked replays candidates that queued while no remote
// description was set. No-op until the description lands.
func (c *Coordinator) drainCandidatesLocked() {
	if c.peer == nil || !c.peer.HasRemoteDescription() || len(c.inbox.candidates) == 0 {
		return
	}
	cands := c.inbox.candidates
	c.inbox.candidates = nil
	for _, cand := range cands {
		if err := c.peer.AddICECandidate(cand); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("replay pending candidate")
		}
	}
}

func (c *Coordinator) ensurePeerLocked() error {
	if c.peer != nil {
		return nil
	}
	peer, err := c.factory()
	if err != nil {
		return err
	}

	if track := c.device.Track(); track != nil {
		if err := peer.AddTrack(track); err != nil {
			_ = peer.Close()
			return err
		}
	}

	peer.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		target := c.partnerTarget()
		if target == "" {
			return
		}
		if err := c.emit.Emit(signaling.EventIceCandidate, signaling.IceCandidatePayload{
			Target:    target,
			Candidate: cand,
		}); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("emit candidate")
		}
	})
	peer.OnConnectionStateChange(c.handleConnState)
	peer.OnTrack(func(track *webrtc.TrackRemote) {
		c.mu.Lock()
		fn := c.onRemoteTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	c.peer = peer
	return nil
}

func (c *Coordinator) partnerTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partnerID
}

func (c *Coordinator) handleConnState(s webrtc.PeerConnectionState) {
	log.Info().Str("module", "rtc").Str("state", s.String()).Msg("peer state")

	c.mu.Lock()
	onQuality := c.onQuality
	onTerminal := c.onTerminal
	switch s {
	case webrtc.PeerConnectionStateConnected:
		c.startSamplerLocked()
		c.mu.Unlock()
	case webrtc.PeerConnectionStateDisconnected:
		c.stopSamplerLocked()
		c.mu.Unlock()
		if onQuality != nil {
			onQuality(domain.SignalReconnecting)
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		c.stopSamplerLocked()
		c.mu.Unlock()
		if onTerminal != nil {
			onTerminal()
		}
	default:
		c.mu.Unlock()
	}
}
