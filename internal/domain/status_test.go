package domain

import (
	"testing"
	"time"
)

func TestMatchStatusTransitions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from, to MatchStatus
		ok       bool
	}{
		{StatusIdle, StatusFinding, true},
		{StatusFinding, StatusNegotiating, true},
		{StatusNegotiating, StatusMatched, true},
		{StatusMatched, StatusReconnecting, true},
		{StatusReconnecting, StatusMatched, true},
		{StatusReconnecting, StatusIdle, true},
		{StatusMatched, StatusFinding, true},
		// An answer while idle makes no sense; neither does skipping
		// straight from idle to negotiating.
		{StatusIdle, StatusNegotiating, false},
		{StatusFinding, StatusReconnecting, false},
		{StatusNegotiating, StatusReconnecting, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("CanTransition(%s -> %s): got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestMatchStatusSelfTransition(t *testing.T) {
	t.Parallel()
	for _, s := range []MatchStatus{StatusIdle, StatusFinding, StatusNegotiating, StatusMatched, StatusReconnecting} {
		if !s.CanTransition(s) {
			t.Errorf("self transition refused for %s", s)
		}
	}
}

func TestClassifyRTT(t *testing.T) {
	t.Parallel()
	cases := []struct {
		rtt  time.Duration
		want SignalStrength
	}{
		{50 * time.Millisecond, SignalGood},
		{150 * time.Millisecond, SignalGood},
		{151 * time.Millisecond, SignalFair},
		{300 * time.Millisecond, SignalFair},
		{301 * time.Millisecond, SignalPoor},
	}
	for _, c := range cases {
		if got := ClassifyRTT(c.rtt); got != c.want {
			t.Errorf("ClassifyRTT(%v): got %s, want %s", c.rtt, got, c.want)
		}
	}
}

func TestReconnectContextStale(t *testing.T) {
	t.Parallel()
	now := time.Now()
	fresh := ReconnectContext{StartedAt: now.Add(-time.Minute)}
	old := ReconnectContext{StartedAt: now.Add(-3 * time.Minute)}

	if fresh.Stale(2*time.Minute, now) {
		t.Error("fresh context reported stale")
	}
	if !old.Stale(2*time.Minute, now) {
		t.Error("old context not reported stale")
	}
}
