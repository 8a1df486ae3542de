// Package identity resolves the current user from a bearer token and
// refreshes it against the auth endpoint when the API rejects it.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
)

var ErrNoIdentity = errors.New("no user identity")

// Claims mirrors the token issued by the account service.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type refreshOp struct {
	done  chan struct{}
	token string
	err   error
}

// Provider holds the current bearer token. Concurrent Refresh calls are
// collapsed onto a single in-flight request; the slot is released on
// every exit path.
type Provider struct {
	refreshURL string
	secret     []byte
	client     *http.Client

	mu       sync.Mutex
	token    string
	inflight *refreshOp
}

func NewProvider(refreshURL, secret, token string) *Provider {
	return &Provider{
		refreshURL: refreshURL,
		secret:     []byte(secret),
		token:      token,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Token returns the current bearer token.
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// UserID extracts the user id claim from the current token.
func (p *Provider) UserID() (domain.UserID, error) {
	tok := p.Token()
	if tok == "" {
		return "", ErrNoIdentity
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.UserID == "" {
		return "", ErrNoIdentity
	}
	return domain.UserID(claims.UserID), nil
}

// Refresh exchanges the current token for a fresh one. If a refresh is
// already in flight the caller waits on it instead of issuing another.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if op := p.inflight; op != nil {
		p.mu.Unlock()
		return p.wait(ctx, op)
	}
	op := &refreshOp{done: make(chan struct{})}
	p.inflight = op
	old := p.token
	p.mu.Unlock()

	go p.doRefresh(old, op)
	return p.wait(ctx, op)
}

func (p *Provider) wait(ctx context.Context, op *refreshOp) error {
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) doRefresh(old string, op *refreshOp) {
	defer func() {
		p.mu.Lock()
		if op.err == nil {
			p.token = op.token
		}
		p.inflight = nil
		p.mu.Unlock()
		close(op.done)
	}()

	req, err := http.NewRequest(http.MethodPost, p.refreshURL, bytes.NewReader(nil))
	if err != nil {
		op.err = err
		return
	}
	req.Header.Set("Authorization", "Bearer "+old)

	resp, err := p.client.Do(req)
	if err != nil {
		op.err = fmt.Errorf("refresh request: %w", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		op.err = fmt.Errorf("refresh rejected: %s", resp.Status)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		op.err = fmt.Errorf("refresh decode: %w", err)
		return
	}
	op.token = body.Token
	log.Info().Str("module", "identity").Msg("token refreshed")
}
