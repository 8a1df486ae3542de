package reconnect

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
	"github.com/noirelle/Nozorin-sub001/internal/signaling"
)

type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]signaling.Handler
	emitted  []string
	signal   chan string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: map[string]signaling.Handler{},
		signal:   make(chan string, 64),
	}
}

func (f *fakeChannel) Emit(event string, payload any) error {
	f.mu.Lock()
	f.emitted = append(f.emitted, event)
	f.mu.Unlock()
	f.signal <- event
	return nil
}

func (f *fakeChannel) On(event string, fn signaling.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = fn
}

func (f *fakeChannel) Connected() bool { return true }

func (f *fakeChannel) fire(t *testing.T, event string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	f.mu.Lock()
	fn := f.handlers[event]
	f.mu.Unlock()
	if fn == nil {
		t.Fatalf("no handler bound for %s", event)
	}
	fn(b)
}

// waitFor blocks until the named event is emitted or the deadline hits.
func (f *fakeChannel) waitFor(t *testing.T, event string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-f.signal:
			if got == event {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func (f *fakeChannel) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emitted {
		if e == event {
			n++
		}
	}
	return n
}

type fakeProbe struct {
	mu    sync.Mutex
	rctx  *domain.ReconnectContext
	err   error
	calls int
}

func (p *fakeProbe) ActiveSession(ctx context.Context) (*domain.ReconnectContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.rctx, p.err
}

type fakeCache struct {
	mu     sync.Mutex
	rctx   *domain.ReconnectContext
	clears int
}

func (c *fakeCache) LoadActiveCall(staleAfter time.Duration) (*domain.ReconnectContext, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rctx == nil {
		return nil, false, nil
	}
	return c.rctx, true, nil
}

func (c *fakeCache) ClearActiveCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	c.rctx = nil
	return nil
}

func (c *fakeCache) clearCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

func testSupervisorConfig() Config {
	return Config{
		MaxAttempts:    10,
		RetryInterval:  time.Millisecond,
		IndicatorFloor: 0,
		StaleThreshold: 2 * time.Minute,
	}
}

func freshContext() domain.ReconnectContext {
	return domain.ReconnectContext{
		RoomID:    "room-1",
		PeerID:    "peer-1",
		StartedAt: time.Now(),
		PartnerProfile: &domain.PartnerContext{
			PartnerID: "peer-1", PartnerUserID: "user-2", Username: "ann",
		},
	}
}

func TestCheckOnceProbesOnce(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	rctx := freshContext()
	probe := &fakeProbe{rctx: &rctx}
	s := NewSupervisor(ch, probe, &fakeCache{}, testSupervisorConfig())
	s.Bind()

	s.CheckOnce(context.Background())
	s.CheckOnce(context.Background())

	if probe.calls != 1 {
		t.Errorf("probe calls: got %d, want 1", probe.calls)
	}
	if got := ch.count(signaling.EventRejoinCall); got != 1 {
		t.Errorf("rejoin-call emissions: got %d, want 1", got)
	}
	if !s.Reconnecting() {
		t.Error("indicator not shown after restore")
	}
}

func TestRestoreSurfacesPartnerBeforeRejoin(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	rctx := freshContext()
	s := NewSupervisor(ch, &fakeProbe{rctx: &rctx}, &fakeCache{}, testSupervisorConfig())
	s.Bind()

	var order []string
	var restored domain.ReconnectContext
	s.SetCallbacks(Callbacks{OnRestore: func(r domain.ReconnectContext) {
		order = append(order, "restore")
		restored = r
	}})

	s.CheckOnce(context.Background())
	ch.waitFor(t, signaling.EventRejoinCall)

	if len(order) != 1 || order[0] != "restore" {
		t.Fatalf("restore callback order: got %v", order)
	}
	if restored.PartnerProfile == nil || restored.PartnerProfile.Username != "ann" {
		t.Errorf("restored partner: got %+v", restored.PartnerProfile)
	}
	// The emit list already contains rejoin-call, so restore ran first.
	if got := ch.count(signaling.EventRejoinCall); got != 1 {
		t.Errorf("rejoin-call emissions: got %d, want 1", got)
	}
}

func TestProbeFailureFallsBackToCache(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	rctx := freshContext()
	cache := &fakeCache{rctx: &rctx}
	s := NewSupervisor(ch, &fakeProbe{err: errors.New("api down")}, cache, testSupervisorConfig())
	s.Bind()

	s.CheckOnce(context.Background())

	if got := ch.count(signaling.EventRejoinCall); got != 1 {
		t.Errorf("rejoin-call emissions: got %d, want 1", got)
	}
}

func TestBootstrapDiscardsStaleContext(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	cache := &fakeCache{}
	s := NewSupervisor(ch, &fakeProbe{}, cache, testSupervisorConfig())
	s.Bind()

	rctx := freshContext()
	rctx.StartedAt = time.Now().Add(-3 * time.Minute)
	s.Bootstrap(rctx)

	if got := ch.count(signaling.EventRejoinCall); got != 0 {
		t.Errorf("rejoin-call emissions for stale context: got %d, want 0", got)
	}
	if s.Reconnecting() {
		t.Error("indicator shown for stale context")
	}
}

func TestRejoinRetryLimit(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	cache := &fakeCache{}
	s := NewSupervisor(ch, &fakeProbe{}, cache, testSupervisorConfig())
	s.Bind()

	var mu sync.Mutex
	var failedReason string
	s.SetCallbacks(Callbacks{OnFailed: func(reason string) {
		mu.Lock()
		failedReason = reason
		mu.Unlock()
	}})

	s.Bootstrap(freshContext())
	ch.waitFor(t, signaling.EventRejoinCall)

	// Ten partner-not-ready failures each schedule another attempt.
	for i := 0; i < 10; i++ {
		ch.fire(t, signaling.EventRejoinFailed, signaling.RejoinFailedPayload{Reason: ReasonPartnerNotReady})
		ch.waitFor(t, signaling.EventRejoinCall)
	}
	if got := ch.count(signaling.EventRejoinCall); got != 11 {
		t.Fatalf("rejoin-call emissions: got %d, want 11", got)
	}

	// The eleventh failure exhausts the retry allowance.
	ch.fire(t, signaling.EventRejoinFailed, signaling.RejoinFailedPayload{Reason: ReasonPartnerNotReady})

	mu.Lock()
	reason := failedReason
	mu.Unlock()
	if reason != ReasonPartnerNotReady {
		t.Errorf("failure reason: got %q, want %q", reason, ReasonPartnerNotReady)
	}
	if s.Reconnecting() {
		t.Error("indicator still shown after permanent failure")
	}
	if cache.clearCount() == 0 {
		t.Error("active-call record not cleared after permanent failure")
	}
	if got := ch.count(signaling.EventRejoinCall); got != 11 {
		t.Errorf("rejoin-call emissions after exhaustion: got %d, want 11", got)
	}
}

func TestNonRetryableFailureStopsImmediately(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	s := NewSupervisor(ch, &fakeProbe{}, &fakeCache{}, testSupervisorConfig())
	s.Bind()

	failures := 0
	s.SetCallbacks(Callbacks{OnFailed: func(string) { failures++ }})

	s.Bootstrap(freshContext())
	ch.fire(t, signaling.EventRejoinFailed, signaling.RejoinFailedPayload{Reason: "room-closed"})

	if failures != 1 {
		t.Errorf("failure callbacks: got %d, want 1", failures)
	}
	if got := ch.count(signaling.EventRejoinCall); got != 1 {
		t.Errorf("rejoin-call emissions: got %d, want 1", got)
	}
	if s.Reconnecting() {
		t.Error("indicator still shown")
	}
}

func TestRejoinSuccessFloorsIndicator(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	cfg := testSupervisorConfig()
	cfg.IndicatorFloor = 30 * time.Millisecond
	s := NewSupervisor(ch, &fakeProbe{}, &fakeCache{}, cfg)
	s.Bind()

	resumed := make(chan signaling.MatchFoundPayload, 1)
	cleared := make(chan struct{})
	s.SetCallbacks(Callbacks{
		OnResumed:        func(p signaling.MatchFoundPayload) { resumed <- p },
		OnIndicatorClear: func() { close(cleared) },
	})

	s.Bootstrap(freshContext())
	ch.fire(t, signaling.EventRejoinSuccess, signaling.MatchFoundPayload{
		Role: domain.RoleAnswerer, PartnerID: "peer-1", PartnerUserID: "user-2",
	})

	select {
	case p := <-resumed:
		if p.PartnerID != "peer-1" {
			t.Errorf("resumed payload: got %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("resumed callback never fired")
	}

	// The indicator honors its minimum display time even though the
	// rejoin came back instantly.
	if !s.Reconnecting() {
		t.Fatal("indicator cleared before the display floor elapsed")
	}
	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("indicator never cleared")
	}
	if s.Reconnecting() {
		t.Error("indicator still shown after clear callback")
	}
}

func TestCancelStopsRejoin(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	cache := &fakeCache{}
	s := NewSupervisor(ch, &fakeProbe{}, cache, testSupervisorConfig())
	s.Bind()

	failures := 0
	s.SetCallbacks(Callbacks{OnFailed: func(string) { failures++ }})

	s.Bootstrap(freshContext())
	s.Cancel()

	if got := ch.count(signaling.EventCancelReconnect); got != 1 {
		t.Errorf("cancel-reconnect emissions: got %d, want 1", got)
	}
	if s.Reconnecting() {
		t.Error("indicator still shown after cancel")
	}
	if cache.clearCount() == 0 {
		t.Error("active-call record not cleared on cancel")
	}

	// Late failure responses are ignored once cancelled.
	ch.fire(t, signaling.EventRejoinFailed, signaling.RejoinFailedPayload{Reason: ReasonPartnerNotReady})
	if failures != 0 {
		t.Errorf("failure callbacks after cancel: got %d, want 0", failures)
	}
	if got := ch.count(signaling.EventRejoinCall); got != 1 {
		t.Errorf("rejoin-call emissions after cancel: got %d, want 1", got)
	}
}
