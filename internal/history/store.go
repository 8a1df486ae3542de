// Package history persists session telemetry and the single cached
// active-call record used to resume a call after a fast reload.
package history

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the history database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		partner_user_id TEXT NOT NULL DEFAULT '',
		partner_name    TEXT NOT NULL DEFAULT '',
		started_at      INTEGER NOT NULL,
		ended_at        INTEGER DEFAULT 0,
		end_reason      TEXT DEFAULT ''
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Single-row table: the one call we may still be part of.
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS active_call (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		room_id    TEXT DEFAULT '',
		peer_id    TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		partner    TEXT DEFAULT ''
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// TrackSessionStart records the start of a new call.
func (s *Store) TrackSessionStart(partner domain.PartnerContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO sessions (partner_user_id, partner_name, started_at) VALUES (?, ?, ?)`,
		string(partner.PartnerUserID), partner.Username, time.Now().UnixMilli(),
	)
	if err != nil {
		log.Warn().Err(err).Str("module", "history").Msg("track session start")
	}
}

// TrackSessionEnd closes the most recent open session row.
func (s *Store) TrackSessionEnd(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, end_reason = ?
		 WHERE id = (SELECT MAX(id) FROM sessions WHERE ended_at = 0)`,
		time.Now().UnixMilli(), reason,
	)
	if err != nil {
		log.Warn().Err(err).Str("module", "history").Msg("track session end")
	}
}

// SaveActiveCall remembers the call we are currently in.
func (s *Store) SaveActiveCall(rctx domain.ReconnectContext) error {
	partner := ""
	if rctx.PartnerProfile != nil {
		if b, err := json.Marshal(rctx.PartnerProfile); err == nil {
			partner = string(b)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO active_call (id, room_id, peer_id, started_at, partner)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			room_id=excluded.room_id,
			peer_id=excluded.peer_id,
			started_at=excluded.started_at,
			partner=excluded.partner`,
		rctx.RoomID, rctx.PeerID, rctx.StartedAt.UnixMilli(), partner)
	return err
}

// LoadActiveCall returns the cached record unless it is older than
// staleAfter; stale records are deleted on the spot.
func (s *Store) LoadActiveCall(staleAfter time.Duration) (*domain.ReconnectContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		roomID, peerID, partner string
		startedAt               int64
	)
	err := s.db.QueryRow(`SELECT room_id, peer_id, started_at, partner FROM active_call WHERE id = 1`).
		Scan(&roomID, &peerID, &startedAt, &partner)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	started := time.UnixMilli(startedAt)
	if time.Since(started) > staleAfter {
		_, _ = s.db.Exec(`DELETE FROM active_call WHERE id = 1`)
		return nil, false, nil
	}

	rctx := &domain.ReconnectContext{
		RoomID:    roomID,
		PeerID:    peerID,
		StartedAt: started,
	}
	if partner != "" {
		var p domain.PartnerContext
		if err := json.Unmarshal([]byte(partner), &p); err == nil {
			rctx.PartnerProfile = &p
		}
	}
	return rctx, true, nil
}

// ClearActiveCall forgets the cached record.
func (s *Store) ClearActiveCall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM active_call WHERE id = 1`)
	return err
}
