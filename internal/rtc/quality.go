package rtc

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
	"github.com/noirelle/Nozorin-sub001/internal/signaling"
)

// startSamplerLocked launches the RTT sampling loop. One sampler at a
// time; restart is a no-op while one is running.
func (c *Coordinator) startSamplerLocked() {
	if c.samplerStop != nil || c.qualityInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.samplerStop = stop
	go c.sampleLoop(stop)
}

func (c *Coordinator) stopSamplerLocked() {
	if c.samplerStop != nil {
		close(c.samplerStop)
		c.samplerStop = nil
	}
}

func (c *Coordinator) sampleLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.qualityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sampleOnce()
		}
	}
}

// sampleOnce reads the current RTT, classifies it and pushes the result
// both to the local listener and to the partner over the channel.
func (c *Coordinator) sampleOnce() {
	c.mu.Lock()
	peer := c.peer
	target := c.partnerID
	onQuality := c.onQuality
	c.mu.Unlock()

	if peer == nil {
		return
	}
	rtt, ok := peer.CurrentRTT()
	if !ok {
		return
	}

	strength := domain.ClassifyRTT(rtt)
	if onQuality != nil {
		onQuality(strength)
	}
	if target != "" {
		if err := c.emit.Emit(signaling.EventSignalStrength, signaling.SignalStrengthPayload{
			Target:   target,
			Strength: strength,
		}); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("emit signal strength")
		}
	}
}
