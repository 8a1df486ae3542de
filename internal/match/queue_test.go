package match

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
)

type staticTokens struct {
	mu        sync.Mutex
	token     string
	refreshes int
	next      string
}

func (s *staticTokens) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *staticTokens) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.token = s.next
	return nil
}

func TestJoinStampsFreshRequestID(t *testing.T) {
	t.Parallel()
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode join body: %v", err)
		}
		ids = append(ids, req.RequestID)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQueueClient(srv.URL, &staticTokens{token: "tok"})
	for i := 0; i < 2; i++ {
		if err := q.Join(context.Background(), JoinRequest{UserID: "user-1", Mode: "voice"}); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Errorf("request ids: got %v, want two distinct non-empty ids", ids)
	}
}

func TestJoinRetriesAfterTokenRefresh(t *testing.T) {
	t.Parallel()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		seen = append(seen, auth)
		if auth != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(APIError{Code: "token_expired", Message: "expired"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "stale", next: "fresh"}
	q := NewQueueClient(srv.URL, tokens)

	if err := q.Join(context.Background(), JoinRequest{UserID: "user-1"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if tokens.refreshes != 1 {
		t.Errorf("refreshes: got %d, want 1", tokens.refreshes)
	}
	want := []string{"Bearer stale", "Bearer fresh"}
	if len(seen) != 2 || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("auth headers: got %v, want %v", seen, want)
	}
}

func TestJoinReturnsStructuredError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(APIError{Code: ErrCodeNotConnected, Message: "socket unknown"})
	}))
	defer srv.Close()

	q := NewQueueClient(srv.URL, &staticTokens{token: "tok"})
	err := q.Join(context.Background(), JoinRequest{UserID: "user-1", Preferences: domain.Preferences{}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Join: got %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != ErrCodeNotConnected {
		t.Errorf("error: got status=%d code=%q, want status=409 code=%q", apiErr.Status, apiErr.Code, ErrCodeNotConnected)
	}
}
