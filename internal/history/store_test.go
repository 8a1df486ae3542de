package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActiveCallRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	saved := domain.ReconnectContext{
		RoomID:    "room-1",
		PeerID:    "peer-1",
		StartedAt: time.Now(),
		PartnerProfile: &domain.PartnerContext{
			PartnerID:     "peer-1",
			PartnerUserID: "user-2",
			Username:      "ann",
			Role:          domain.RoleAnswerer,
		},
	}
	if err := s.SaveActiveCall(saved); err != nil {
		t.Fatalf("SaveActiveCall: %v", err)
	}

	got, ok, err := s.LoadActiveCall(2 * time.Minute)
	if err != nil {
		t.Fatalf("LoadActiveCall: %v", err)
	}
	if !ok {
		t.Fatal("LoadActiveCall: record not found")
	}
	if got.RoomID != "room-1" || got.PeerID != "peer-1" {
		t.Errorf("loaded record: got %+v", got)
	}
	if got.PartnerProfile == nil || got.PartnerProfile.Username != "ann" {
		t.Errorf("partner profile: got %+v, want ann", got.PartnerProfile)
	}
}

func TestSaveActiveCallOverwrites(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	for _, peer := range []string{"peer-1", "peer-2"} {
		if err := s.SaveActiveCall(domain.ReconnectContext{
			PeerID: peer, StartedAt: time.Now(),
		}); err != nil {
			t.Fatalf("SaveActiveCall(%s): %v", peer, err)
		}
	}

	got, ok, err := s.LoadActiveCall(2 * time.Minute)
	if err != nil || !ok {
		t.Fatalf("LoadActiveCall: ok=%v err=%v", ok, err)
	}
	if got.PeerID != "peer-2" {
		t.Errorf("peer after overwrite: got %q, want peer-2", got.PeerID)
	}
}

func TestLoadActiveCallDiscardsStale(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.SaveActiveCall(domain.ReconnectContext{
		PeerID: "peer-1", StartedAt: time.Now().Add(-3 * time.Minute),
	}); err != nil {
		t.Fatalf("SaveActiveCall: %v", err)
	}

	if _, ok, err := s.LoadActiveCall(2 * time.Minute); err != nil || ok {
		t.Fatalf("stale load: ok=%v err=%v, want not found", ok, err)
	}
	// The stale row is gone for good, not just filtered.
	if _, ok, err := s.LoadActiveCall(time.Hour); err != nil || ok {
		t.Errorf("stale row survived: ok=%v err=%v", ok, err)
	}
}

func TestClearActiveCall(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.SaveActiveCall(domain.ReconnectContext{
		PeerID: "peer-1", StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveActiveCall: %v", err)
	}
	if err := s.ClearActiveCall(); err != nil {
		t.Fatalf("ClearActiveCall: %v", err)
	}
	if _, ok, _ := s.LoadActiveCall(time.Hour); ok {
		t.Error("record survived ClearActiveCall")
	}
}

func TestSessionRows(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.TrackSessionStart(domain.PartnerContext{PartnerUserID: "user-2", Username: "ann"})
	s.TrackSessionEnd("skipped")
	s.TrackSessionStart(domain.PartnerContext{PartnerUserID: "user-3", Username: "bob"})
	s.TrackSessionEnd("stopped")

	rows, err := s.db.Query(`SELECT partner_name, end_reason FROM sessions ORDER BY id`)
	if err != nil {
		t.Fatalf("query sessions: %v", err)
	}
	defer rows.Close()

	want := []struct{ name, reason string }{
		{"ann", "skipped"},
		{"bob", "stopped"},
	}
	i := 0
	for rows.Next() {
		var name, reason string
		if err := rows.Scan(&name, &reason); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if i >= len(want) {
			t.Fatalf("unexpected extra session row %q", name)
		}
		if name != want[i].name || reason != want[i].reason {
			t.Errorf("row %d: got (%q, %q), want (%q, %q)", i, name, reason, want[i].name, want[i].reason)
		}
		i++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if i != len(want) {
		t.Errorf("session rows: got %d, want %d", i, len(want))
	}
}
