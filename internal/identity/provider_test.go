package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestUserIDFromToken(t *testing.T) {
	t.Parallel()
	p := NewProvider("http://unused", testSecret, mintToken(t, testSecret, "user-1"))

	id, err := p.UserID()
	if err != nil {
		t.Fatalf("UserID: %v", err)
	}
	if id != "user-1" {
		t.Errorf("user id: got %q, want user-1", id)
	}
}

func TestUserIDWithoutToken(t *testing.T) {
	t.Parallel()
	p := NewProvider("http://unused", testSecret, "")

	if _, err := p.UserID(); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("UserID: got %v, want %v", err, ErrNoIdentity)
	}
}

func TestUserIDRejectsForgedToken(t *testing.T) {
	t.Parallel()
	p := NewProvider("http://unused", testSecret, mintToken(t, "other-secret", "user-1"))

	if _, err := p.UserID(); err == nil {
		t.Error("UserID accepted a token signed with the wrong secret")
	}
}

func TestRefreshCollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer old" {
			t.Errorf("refresh auth: got %q, want Bearer old", got)
		}
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"token":"fresh"}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, testSecret, "old")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Refresh %d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("refresh requests: got %d, want 1", got)
	}
	if got := p.Token(); got != "fresh" {
		t.Errorf("token after refresh: got %q, want fresh", got)
	}
}

func TestRefreshRejectedKeepsOldToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, testSecret, "old")
	if err := p.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh: got nil error on rejection")
	}
	if got := p.Token(); got != "old" {
		t.Errorf("token after failed refresh: got %q, want old", got)
	}

	// The in-flight slot must be free again for the next attempt.
	if err := p.Refresh(context.Background()); err == nil {
		t.Fatal("second Refresh: got nil error on rejection")
	}
}
