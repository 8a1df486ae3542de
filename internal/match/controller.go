// Package match owns the MatchStatus state machine and drives the
// matchmaking queue: join/leave, the prepare/ready handshake, role
// assignment, and the partner-reconnect countdown.
package match

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
	"github.com/noirelle/Nozorin-sub001/internal/signaling"
)

var (
	ErrQueueTimeout    = errors.New("queue join timed out")
	ErrMissingIdentity = errors.New("cannot search without user identity")
	ErrJoinFailed      = errors.New("queue join failed")
)

// Channel is the slice of the signaling channel the controller uses.
type Channel interface {
	Emit(event string, payload any) error
	On(event string, fn signaling.Handler)
	Identify(ctx context.Context, userID string) error
	SocketID() string
}

// Identity resolves the local user when the caller did not pass one.
type Identity interface {
	UserID() (domain.UserID, error)
}

// Queue is the matchmaking REST surface.
type Queue interface {
	Join(ctx context.Context, req JoinRequest) error
	Leave(ctx context.Context) error
}

// Callbacks is the surface the orchestrator listens on. Every field may
// be replaced at any time; the controller always invokes the latest.
type Callbacks struct {
	OnStatus             func(domain.MatchStatus)
	OnQueuePosition      func(position int)
	OnMatchFound         func(signaling.MatchFoundPayload)
	OnCancelled          func(reason string)
	OnCallEnded          func(signaling.CallEndedPayload)
	OnReconnectCountdown func(secondsLeft int)
	OnReconnectExpired   func()
	OnPartnerReconnected func(signaling.PartnerReconnectedPayload)
}

type Config struct {
	Mode            string
	JoinTimeout     time.Duration
	DesyncRetryWait time.Duration
	SkipDebounce    time.Duration
}

// Controller is the matching state machine. One mutex guards the
// status and the in-flight/skip flags; queue calls happen outside it.
type Controller struct {
	channel Channel
	queue   Queue
	ident   Identity
	cfg     Config

	mu            sync.Mutex
	status        domain.MatchStatus
	queuePosition int
	joinInFlight  bool
	skipInFlight  bool
	skipTimer     *time.Timer
	countdown     *time.Timer
	countdownLeft int
	callbacks     Callbacks
	skipAction    func()

	tick time.Duration
}

func NewController(channel Channel, queue Queue, ident Identity, cfg Config) *Controller {
	return &Controller{
		channel: channel,
		queue:   queue,
		ident:   ident,
		cfg:     cfg,
		status:  domain.StatusIdle,
		tick:    time.Second,
	}
}

// SetCallbacks replaces the listener surface.
func (c *Controller) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	c.callbacks = cb
	c.mu.Unlock()
}

// SetSkipAction installs the orchestrator action SkipToNext guards.
func (c *Controller) SetSkipAction(fn func()) {
	c.mu.Lock()
	c.skipAction = fn
	c.mu.Unlock()
}

// Bind subscribes the controller to its channel events. Call once.
func (c *Controller) Bind() {
	c.channel.On(signaling.EventWaiting, c.handleWaiting)
	c.channel.On(signaling.EventPrepareMatch, c.handlePrepare)
	c.channel.On(signaling.EventMatchFound, c.handleMatchFound)
	c.channel.On(signaling.EventMatchCancelled, c.handleCancelled)
	c.channel.On(signaling.EventCallEnded, c.handleCallEnded)
	c.channel.On(signaling.EventPartnerReconnecting, c.handlePartnerReconnecting)
	c.channel.On(signaling.EventPartnerReconnected, c.handlePartnerReconnected)
}

// Status returns the current matchmaking state.
func (c *Controller) Status() domain.MatchStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// QueuePosition returns the last reported place in the queue.
func (c *Controller) QueuePosition() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queuePosition
}

// StartSearch joins the matchmaking queue. Re-entrant calls while a
// join is outstanding are dropped, not queued. A transient channel
// desync is retried exactly once after re-identification; everything
// else, including the fixed join timeout, is fatal and resets to IDLE.
func (c *Controller) StartSearch(ctx context.Context, prefs domain.Preferences, userID domain.UserID) error {
	c.mu.Lock()
	if c.joinInFlight {
		c.mu.Unlock()
		log.Warn().Str("module", "match").Msg("startSearch dropped, join already in flight")
		return nil
	}
	c.joinInFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.joinInFlight = false
		c.mu.Unlock()
	}()

	if userID == "" {
		resolved, err := c.ident.UserID()
		if err != nil {
			c.setStatus(domain.StatusIdle)
			return errors.Join(ErrMissingIdentity, err)
		}
		userID = resolved
	}

	if c.channel.SocketID() == "" {
		if err := c.channel.Identify(ctx, string(userID)); err != nil {
			c.setStatus(domain.StatusIdle)
			return errors.Join(ErrJoinFailed, err)
		}
	}

	req := JoinRequest{
		UserID:      userID,
		Mode:        c.cfg.Mode,
		Preferences: prefs,
		Session:     c.channel.SocketID(),
	}

	err := c.joinOnce(ctx, req)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == ErrCodeNotConnected {
		// Transient channel desync: re-assert identity, wait, retry once.
		log.Warn().Str("module", "match").Msg("join desync, re-identifying and retrying once")
		if err := c.channel.Identify(ctx, string(userID)); err != nil {
			c.setStatus(domain.StatusIdle)
			return errors.Join(ErrJoinFailed, err)
		}
		select {
		case <-time.After(c.cfg.DesyncRetryWait):
		case <-ctx.Done():
			c.setStatus(domain.StatusIdle)
			return ctx.Err()
		}
		req.Session = c.channel.SocketID()
		req.Retry = true
		err = c.joinOnce(ctx, req)
	}

	if err != nil {
		c.setStatus(domain.StatusIdle)
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrQueueTimeout
		}
		return errors.Join(ErrJoinFailed, err)
	}

	c.setStatus(domain.StatusFinding)
	log.Info().Str("module", "match").Str("user", string(userID)).Msg("searching")
	return nil
}

func (c *Controller) joinOnce(ctx context.Context, req JoinRequest) error {
	joinCtx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()
	return c.queue.Join(joinCtx, req)
}

// NotifyResumed marks the state MATCHED after a successful rejoin; the
// resume path bypasses the queue so no match-found event will arrive.
func (c *Controller) NotifyResumed() {
	c.stopCountdown()
	c.setStatus(domain.StatusMatched)
}

// StopSearch leaves the queue best-effort and returns to IDLE.
func (c *Controller) StopSearch(ctx context.Context) {
	if err := c.queue.Leave(ctx); err != nil {
		log.Warn().Err(err).Str("module", "match").Msg("leave queue")
	}
	c.mu.Lock()
	c.queuePosition = 0
	c.mu.Unlock()
	c.setStatus(domain.StatusIdle)
}

// SkipToNext runs the skip action under a debounce guard: re-entrant
// calls while a skip is in progress are ignored. The guard releases
// after the debounce window, or immediately on reaching MATCHED or
// FINDING.
func (c *Controller) SkipToNext() {
	c.mu.Lock()
	if c.skipInFlight {
		c.mu.Unlock()
		log.Warn().Str("module", "match").Msg("skip ignored, already in progress")
		return
	}
	c.skipInFlight = true
	c.skipTimer = time.AfterFunc(c.cfg.SkipDebounce, c.releaseSkip)
	action := c.skipAction
	c.mu.Unlock()

	if action != nil {
		action()
	}
}

func (c *Controller) releaseSkip() {
	c.mu.Lock()
	if c.skipTimer != nil {
		c.skipTimer.Stop()
		c.skipTimer = nil
	}
	c.skipInFlight = false
	c.mu.Unlock()
}

func (c *Controller) setStatus(next domain.MatchStatus) {
	c.mu.Lock()
	if !c.status.CanTransition(next) {
		log.Warn().Str("module", "match").
			Str("from", c.status.String()).Str("to", next.String()).
			Msg("illegal status transition refused")
		c.mu.Unlock()
		return
	}
	changed := c.status != next
	c.status = next
	cb := c.callbacks.OnStatus
	c.mu.Unlock()

	if changed {
		if next == domain.StatusMatched || next == domain.StatusFinding {
			c.releaseSkip()
		}
		if cb != nil {
			cb(next)
		}
	}
}

func (c *Controller) handleWaiting(data json.RawMessage) {
	var p signaling.WaitingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "match").Msg("bad waiting payload")
		return
	}
	c.mu.Lock()
	c.queuePosition = p.Position
	cb := c.callbacks.OnQueuePosition
	c.mu.Unlock()
	if cb != nil {
		cb(p.Position)
	}
}

func (c *Controller) handlePrepare(data json.RawMessage) {
	c.setStatus(domain.StatusNegotiating)
	// Acknowledge readiness right away; the server is holding the pair
	// open until both sides answer.
	if err := c.channel.Emit(signaling.EventMatchReady, struct{}{}); err != nil {
		log.Error().Err(err).Str("module", "match").Msg("emit match-ready")
	}
}

func (c *Controller) handleMatchFound(data json.RawMessage) {
	var p signaling.MatchFoundPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "match").Msg("bad match-found payload")
		return
	}

	c.stopCountdown()
	c.mu.Lock()
	c.queuePosition = 0
	cb := c.callbacks.OnMatchFound
	c.mu.Unlock()

	c.setStatus(domain.StatusMatched)
	log.Info().Str("module", "match").
		Str("partner", p.PartnerID).Str("role", string(p.Role)).
		Msg("match found")
	if cb != nil {
		cb(p)
	}
}

func (c *Controller) handleCancelled(data json.RawMessage) {
	var p signaling.MatchCancelledPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "match").Msg("bad cancelled payload")
		return
	}

	c.setStatus(domain.StatusFinding)
	c.mu.Lock()
	cb := c.callbacks.OnCancelled
	c.mu.Unlock()
	log.Info().Str("module", "match").Str("reason", p.Reason).Msg("match cancelled")
	if cb != nil {
		cb(p.Reason)
	}
}

func (c *Controller) handleCallEnded(data json.RawMessage) {
	var p signaling.CallEndedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "match").Msg("bad call-ended payload")
		return
	}

	c.stopCountdown()
	c.setStatus(domain.StatusIdle)
	c.mu.Lock()
	cb := c.callbacks.OnCallEnded
	c.mu.Unlock()
	log.Info().Str("module", "match").Str("reason", p.Reason).Msg("call ended")
	if cb != nil {
		cb(p)
	}
}

func (c *Controller) handlePartnerReconnecting(data json.RawMessage) {
	var p signaling.PartnerReconnectingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "match").Msg("bad partner-reconnecting payload")
		return
	}

	c.setStatus(domain.StatusReconnecting)

	seconds := (p.TimeoutMs + 999) / 1000
	c.mu.Lock()
	c.stopCountdownLocked()
	c.countdownLeft = seconds
	c.countdown = time.AfterFunc(c.tick, c.countdownTick)
	cb := c.callbacks.OnReconnectCountdown
	c.mu.Unlock()

	log.Info().Str("module", "match").Int("seconds", seconds).Msg("partner reconnecting")
	if cb != nil {
		cb(seconds)
	}
}

func (c *Controller) countdownTick() {
	c.mu.Lock()
	if c.countdown == nil {
		c.mu.Unlock()
		return
	}
	c.countdownLeft--
	left := c.countdownLeft
	cbTick := c.callbacks.OnReconnectCountdown
	cbExpired := c.callbacks.OnReconnectExpired
	if left <= 0 {
		c.countdown = nil
		c.mu.Unlock()
		if cbTick != nil {
			cbTick(0)
		}
		c.setStatus(domain.StatusIdle)
		if cbExpired != nil {
			cbExpired()
		}
		return
	}
	c.countdown = time.AfterFunc(c.tick, c.countdownTick)
	c.mu.Unlock()
	if cbTick != nil {
		cbTick(left)
	}
}

func (c *Controller) handlePartnerReconnected(data json.RawMessage) {
	var p signaling.PartnerReconnectedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "match").Msg("bad partner-reconnected payload")
		return
	}

	c.stopCountdown()
	c.setStatus(domain.StatusMatched)
	c.mu.Lock()
	cb := c.callbacks.OnPartnerReconnected
	c.mu.Unlock()
	log.Info().Str("module", "match").Str("new_socket", p.NewSocketID).Msg("partner reconnected")
	if cb != nil {
		cb(p)
	}
}

func (c *Controller) stopCountdown() {
	c.mu.Lock()
	c.stopCountdownLocked()
	c.mu.Unlock()
}

func (c *Controller) stopCountdownLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
		c.countdownLeft = 0
	}
}
