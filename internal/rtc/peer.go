package rtc

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Peer is the negotiation primitive the coordinator drives. The pion
// implementation is PionPeer; tests substitute a fake.
type Peer interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(cand webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(*webrtc.TrackRemote))
	CurrentRTT() (time.Duration, bool)
	Close() error
}

// Factory builds a fresh Peer for one negotiation.
type Factory func() (Peer, error)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// NewPionFactory returns a Factory producing pion-backed peers.
func NewPionFactory(cfg webrtc.Configuration) Factory {
	return func() (Peer, error) {
		return NewPionPeer(cfg)
	}
}

// PionPeer wraps *webrtc.PeerConnection.
type PionPeer struct {
	pc *webrtc.PeerConnection
}

func NewPionPeer(cfg webrtc.Configuration) (*PionPeer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &PionPeer{pc: pc}, nil
}

func (p *PionPeer) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

func (p *PionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *PionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *PionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *PionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *PionPeer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *PionPeer) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(cand)
}

func (p *PionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (p *PionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *PionPeer) OnTrack(fn func(*webrtc.TrackRemote)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

// CurrentRTT reads the round-trip time of the nominated candidate pair.
func (p *PionPeer) CurrentRTT() (time.Duration, bool) {
	stats := p.pc.GetStats()
	for _, s := range stats {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok || !pair.Nominated {
			continue
		}
		if pair.CurrentRoundTripTime > 0 {
			return time.Duration(pair.CurrentRoundTripTime * float64(time.Second)), true
		}
	}
	return 0, false
}

// Close stops every outbound sender before closing the connection so
// the hardware is released even if teardown of the transport stalls.
func (p *PionPeer) Close() error {
	for _, sender := range p.pc.GetSenders() {
		if err := sender.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("sender stop")
		}
	}
	return p.pc.Close()
}
