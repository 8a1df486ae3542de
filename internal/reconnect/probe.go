package reconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
)

// BearerSource yields the auth token for the session probe.
type BearerSource interface {
	Token() string
}

// HTTPProbe asks the backend for the caller's current active session.
type HTTPProbe struct {
	baseURL string
	tokens  BearerSource
	client  *http.Client
}

func NewHTTPProbe(baseURL string, tokens BearerSource) *HTTPProbe {
	return &HTTPProbe{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type activeSessionBody struct {
	RoomID    string                 `json:"roomId,omitempty"`
	PeerID    string                 `json:"peerId"`
	StartedAt int64                  `json:"startedAt"`
	Partner   *domain.PartnerContext `json:"partner,omitempty"`
}

// ActiveSession returns the server-reported active call, nil when the
// caller has none.
func (p *HTTPProbe) ActiveSession(ctx context.Context) (*domain.ReconnectContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/session/active", nil)
	if err != nil {
		return nil, err
	}
	if tok := p.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("session probe: %s", resp.Status)
	}

	var body activeSessionBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("session probe decode: %w", err)
	}
	return &domain.ReconnectContext{
		RoomID:         body.RoomID,
		PeerID:         body.PeerID,
		StartedAt:      time.UnixMilli(body.StartedAt),
		PartnerProfile: body.Partner,
	}, nil
}
