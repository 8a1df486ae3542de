// Package reconnect restores an interrupted call after a process
// restart or transport drop: it probes for a server-side active
// session, surfaces the remembered partner to the UI before any network
// round trip, and drives the bounded rejoin retry loop.
package reconnect

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
	"github.com/noirelle/Nozorin-sub001/internal/signaling"
)

// Reason the rejoin endpoint reports when the partner has not come
// back yet; the only reason worth retrying.
const ReasonPartnerNotReady = "partner-not-ready"

// Channel is the slice of the signaling channel the supervisor uses.
type Channel interface {
	Emit(event string, payload any) error
	On(event string, fn signaling.Handler)
}

// Probe asks the backend whether we still own an active call.
// Returns nil when there is none.
type Probe interface {
	ActiveSession(ctx context.Context) (*domain.ReconnectContext, error)
}

// Cache is the local active-call record (survives fast reloads without
// a network round trip).
type Cache interface {
	LoadActiveCall(staleAfter time.Duration) (*domain.ReconnectContext, bool, error)
	ClearActiveCall() error
}

// Callbacks is the listener surface for the orchestrator/UI layer.
type Callbacks struct {
	// OnRestore fires as soon as a resumable session is known, before
	// the rejoin round trip, so the partner can be rendered immediately.
	OnRestore        func(domain.ReconnectContext)
	OnResumed        func(signaling.MatchFoundPayload)
	OnFailed         func(reason string)
	OnIndicatorClear func()
}

type Config struct {
	MaxAttempts    int
	RetryInterval  time.Duration
	IndicatorFloor time.Duration
	StaleThreshold time.Duration
}

// Supervisor owns the rejoin state machine. The probe runs at most once
// per process; rejoin retries are bounded by MaxAttempts.
type Supervisor struct {
	channel Channel
	probe   Probe
	cache   Cache
	cfg     Config

	mu         sync.Mutex
	checked    bool
	rctx       *domain.ReconnectContext
	attempts   int
	indicator  bool
	since      time.Time
	retryTimer *time.Timer
	clearTimer *time.Timer
	callbacks  Callbacks

	now func() time.Time
}

func NewSupervisor(channel Channel, probe Probe, cache Cache, cfg Config) *Supervisor {
	return &Supervisor{
		channel: channel,
		probe:   probe,
		cache:   cache,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *Supervisor) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	s.callbacks = cb
	s.mu.Unlock()
}

// Bind subscribes to the rejoin response events. Call once.
func (s *Supervisor) Bind() {
	s.channel.On(signaling.EventRejoinSuccess, s.handleRejoinSuccess)
	s.channel.On(signaling.EventRejoinFailed, s.handleRejoinFailed)
}

// Reconnecting reports whether the indicator is currently shown.
func (s *Supervisor) Reconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicator
}

// CheckOnce probes for an existing active call. Runs at most once per
// process lifetime; later calls are no-ops. A found session is surfaced
// through OnRestore first, then rejoined.
func (s *Supervisor) CheckOnce(ctx context.Context) {
	s.mu.Lock()
	if s.checked {
		s.mu.Unlock()
		return
	}
	s.checked = true
	s.mu.Unlock()

	rctx, err := s.probe.ActiveSession(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "reconnect").Msg("active session probe failed, trying local cache")
		if cached, ok, cerr := s.cache.LoadActiveCall(s.cfg.StaleThreshold); cerr == nil && ok {
			rctx = cached
		}
	}
	if rctx == nil {
		log.Info().Str("module", "reconnect").Msg("no active session to restore")
		return
	}
	if rctx.Stale(s.cfg.StaleThreshold, s.now()) {
		log.Info().Str("module", "reconnect").Msg("cached session stale, discarding")
		_ = s.cache.ClearActiveCall()
		return
	}

	s.adopt(*rctx)
}

// Bootstrap seeds the reconnect context directly, skipping the network
// probe; the rejoin/retry logic is identical from here on.
func (s *Supervisor) Bootstrap(rctx domain.ReconnectContext) {
	s.mu.Lock()
	s.checked = true
	s.mu.Unlock()

	if rctx.Stale(s.cfg.StaleThreshold, s.now()) {
		log.Info().Str("module", "reconnect").Msg("bootstrap context stale, discarding")
		return
	}
	s.adopt(rctx)
}

func (s *Supervisor) adopt(rctx domain.ReconnectContext) {
	s.mu.Lock()
	s.rctx = &rctx
	s.attempts = 0
	s.indicator = true
	s.since = s.now()
	onRestore := s.callbacks.OnRestore
	s.mu.Unlock()

	log.Info().Str("module", "reconnect").
		Str("room", rctx.RoomID).Str("peer", rctx.PeerID).
		Msg("restoring session")
	if onRestore != nil {
		onRestore(rctx)
	}
	s.sendRejoin()
}

// Cancel abandons the reconnect attempt on user request: tells the
// server, forgets the cached record, clears the indicator immediately.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	active := s.rctx != nil || s.indicator
	s.mu.Unlock()
	if !active {
		return
	}
	if err := s.channel.Emit(signaling.EventCancelReconnect, struct{}{}); err != nil {
		log.Warn().Err(err).Str("module", "reconnect").Msg("emit cancel-reconnect")
	}
	s.finish(false)
}

// NotifyCallEnded clears reconnecting state when the call ends while
// we were trying to resume it. Uses the floored clear so the indicator
// does not flicker.
func (s *Supervisor) NotifyCallEnded() {
	s.mu.Lock()
	active := s.rctx != nil || s.indicator
	s.mu.Unlock()
	if !active {
		return
	}
	s.finish(true)
}

func (s *Supervisor) sendRejoin() {
	s.mu.Lock()
	rctx := s.rctx
	s.mu.Unlock()
	if rctx == nil {
		return
	}
	if err := s.channel.Emit(signaling.EventRejoinCall, signaling.RejoinCallPayload{RoomID: rctx.RoomID}); err != nil {
		log.Error().Err(err).Str("module", "reconnect").Msg("emit rejoin-call")
	}
}

func (s *Supervisor) handleRejoinSuccess(data json.RawMessage) {
	var p signaling.MatchFoundPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "reconnect").Msg("bad rejoin-success payload")
		return
	}

	s.mu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.rctx = nil
	s.attempts = 0
	onResumed := s.callbacks.OnResumed
	s.mu.Unlock()

	log.Info().Str("module", "reconnect").Str("partner", p.PartnerID).Msg("rejoin succeeded")
	s.clearIndicator(true)
	if onResumed != nil {
		onResumed(p)
	}
}

func (s *Supervisor) handleRejoinFailed(data json.RawMessage) {
	var p signaling.RejoinFailedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "reconnect").Msg("bad rejoin-failed payload")
		return
	}

	s.mu.Lock()
	if s.rctx == nil {
		s.mu.Unlock()
		return
	}
	if p.Reason == ReasonPartnerNotReady && s.attempts < s.cfg.MaxAttempts {
		s.attempts++
		attempt := s.attempts
		s.retryTimer = time.AfterFunc(s.cfg.RetryInterval, func() {
			s.mu.Lock()
			s.retryTimer = nil
			s.mu.Unlock()
			s.sendRejoin()
		})
		s.mu.Unlock()
		log.Info().Str("module", "reconnect").
			Int("attempt", attempt).Int("max", s.cfg.MaxAttempts).
			Msg("partner not ready, will retry")
		return
	}
	onFailed := s.callbacks.OnFailed
	s.mu.Unlock()

	log.Warn().Str("module", "reconnect").Str("reason", p.Reason).Msg("rejoin failed permanently")
	s.finish(false)
	if onFailed != nil {
		onFailed(p.Reason)
	}
}

// finish forgets the reconnect context and clears the indicator.
// floored selects the minimum-display-time clear used for success and
// call-ended; outright failure clears immediately.
func (s *Supervisor) finish(floored bool) {
	s.mu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.rctx = nil
	s.attempts = 0
	s.mu.Unlock()

	_ = s.cache.ClearActiveCall()
	s.clearIndicator(floored)
}

func (s *Supervisor) clearIndicator(floored bool) {
	s.mu.Lock()
	if !s.indicator {
		s.mu.Unlock()
		return
	}
	var delay time.Duration
	if floored {
		elapsed := s.now().Sub(s.since)
		if elapsed < s.cfg.IndicatorFloor {
			delay = s.cfg.IndicatorFloor - elapsed
		}
	}
	if delay <= 0 {
		s.indicator = false
		cb := s.callbacks.OnIndicatorClear
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	if s.clearTimer == nil {
		s.clearTimer = time.AfterFunc(delay, func() {
			s.mu.Lock()
			s.clearTimer = nil
			s.indicator = false
			cb := s.callbacks.OnIndicatorClear
			s.mu.Unlock()
			if cb != nil {
				cb()
			}
		})
	}
	s.mu.Unlock()
}
