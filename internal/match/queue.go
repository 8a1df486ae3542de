package match

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/domain"
)

// Error codes the matchmaking endpoint returns in its error body.
const (
	ErrCodeNotConnected = "not_connected"
)

// APIError is a structured matchmaking failure.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("matchmaking api: %s (%s)", e.Message, e.Code)
}

// TokenSource yields the bearer token and refreshes it when the API
// rejects it.
type TokenSource interface {
	Token() string
	Refresh(ctx context.Context) error
}

// JoinRequest is the queue-join body.
type JoinRequest struct {
	UserID      domain.UserID      `json:"userId"`
	Mode        string             `json:"mode"`
	Preferences domain.Preferences `json:"preferences"`
	Session     string             `json:"session,omitempty"`
	RequestID   string             `json:"requestId"`
	Retry       bool               `json:"retry,omitempty"`
}

// QueueClient drives queue join/leave against the matchmaking REST API.
type QueueClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

func NewQueueClient(baseURL string, tokens TokenSource) *QueueClient {
	return &QueueClient{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{},
	}
}

// Join issues one queue-join call. The caller bounds it with a context
// deadline; a fresh request id is stamped on every attempt.
func (q *QueueClient) Join(ctx context.Context, req JoinRequest) error {
	req.RequestID = uuid.NewString()
	return q.post(ctx, "/queue/join", req)
}

// Leave removes us from the queue. Best effort by contract.
func (q *QueueClient) Leave(ctx context.Context) error {
	return q.post(ctx, "/queue/leave", struct{}{})
}

func (q *QueueClient) post(ctx context.Context, path string, body any) error {
	err := q.doPost(ctx, path, body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		// Stale token: refresh once and replay.
		if rerr := q.tokens.Refresh(ctx); rerr != nil {
			return fmt.Errorf("token refresh: %w", rerr)
		}
		log.Info().Str("module", "match").Str("path", path).Msg("retrying after token refresh")
		return q.doPost(ctx, path, body)
	}
	return err
}

func (q *QueueClient) doPost(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := q.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode, Code: "unknown", Message: resp.Status}
	_ = json.NewDecoder(resp.Body).Decode(apiErr)
	return apiErr
}
