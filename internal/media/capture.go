// Package media owns the local audio capture device. The device holds
// one outbound opus track; a producer pushes RTP into it and the mute
// gate decides whether frames actually leave.
package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNotReady = errors.New("capture device not ready")

// Device is the capture surface the rest of the agent depends on.
type Device interface {
	Init() error
	Ready() bool
	Track() webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	AudioEnabled() bool
	OnReady(fn func())
	Cleanup()
}

// Capture is the default Device backed by a static RTP track.
type Capture struct {
	mu      sync.Mutex
	track   *webrtc.TrackLocalStaticRTP
	onReady func()

	muted atomic.Bool
}

func NewCapture() *Capture {
	return &Capture{}
}

// Init creates the outbound audio track. Idempotent; the ready listener
// fires only on the first transition.
func (c *Capture) Init() error {
	c.mu.Lock()
	if c.track != nil {
		c.mu.Unlock()
		return nil
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "capture",
	)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.track = track
	onReady := c.onReady
	c.mu.Unlock()

	log.Info().Str("module", "media").Msg("capture device ready")
	if onReady != nil {
		onReady()
	}
	return nil
}

func (c *Capture) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track != nil
}

// Track returns the outbound track, nil until Init.
func (c *Capture) Track() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return nil
	}
	return c.track
}

// OnReady registers the listener fired when capture becomes ready.
// This is the flush trigger for queued negotiation messages.
func (c *Capture) OnReady(fn func()) {
	c.mu.Lock()
	c.onReady = fn
	c.mu.Unlock()
}

func (c *Capture) SetAudioEnabled(enabled bool) {
	c.muted.Store(!enabled)
	log.Info().Str("module", "media").Bool("muted", !enabled).Msg("audio toggled")
}

func (c *Capture) AudioEnabled() bool {
	return !c.muted.Load()
}

// WriteRTP forwards one captured frame to the track. Frames are dropped
// while muted so the wire goes silent without renegotiation.
func (c *Capture) WriteRTP(pkt *rtp.Packet) error {
	if c.muted.Load() {
		return nil
	}
	c.mu.Lock()
	track := c.track
	c.mu.Unlock()
	if track == nil {
		return ErrNotReady
	}
	return track.WriteRTP(pkt)
}

// Cleanup drops the track and returns the device to not-ready. The next
// Init recreates it from scratch.
func (c *Capture) Cleanup() {
	c.mu.Lock()
	c.track = nil
	c.mu.Unlock()
	c.muted.Store(false)
	log.Info().Str("module", "media").Msg("capture device released")
}
