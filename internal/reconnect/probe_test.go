package reconnect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestActiveSessionFound(t *testing.T) {
	t.Parallel()
	started := time.Now().Add(-30 * time.Second).UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/active" {
			t.Errorf("path: got %q, want /session/active", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth: got %q, want Bearer tok", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"roomId":    "room-1",
			"peerId":    "peer-1",
			"startedAt": started,
			"partner":   map[string]any{"partnerId": "peer-1", "username": "ann"},
		})
	}))
	defer srv.Close()

	probe := NewHTTPProbe(srv.URL, staticToken("tok"))
	rctx, err := probe.ActiveSession(context.Background())
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if rctx == nil || rctx.RoomID != "room-1" || rctx.PeerID != "peer-1" {
		t.Errorf("context: got %+v", rctx)
	}
	if rctx.PartnerProfile == nil || rctx.PartnerProfile.Username != "ann" {
		t.Errorf("partner: got %+v, want ann", rctx.PartnerProfile)
	}
}

func TestActiveSessionNone(t *testing.T) {
	t.Parallel()
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		probe := NewHTTPProbe(srv.URL, staticToken(""))
		rctx, err := probe.ActiveSession(context.Background())
		srv.Close()
		if err != nil {
			t.Errorf("status %d: unexpected error %v", status, err)
		}
		if rctx != nil {
			t.Errorf("status %d: got %+v, want nil", status, rctx)
		}
	}
}

func TestActiveSessionServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	probe := NewHTTPProbe(srv.URL, staticToken("tok"))
	if _, err := probe.ActiveSession(context.Background()); err == nil {
		t.Error("ActiveSession: got nil error on 500")
	}
}
