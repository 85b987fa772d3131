package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querydeck/querydeck/internal/domain"
)

// APIClient talks to the REST surface. It implements the QueryAPI
// contract the session aggregator and pager load data through.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// NewAPIClient creates a client for the given base URL. token is the
// bearer credential, which may be a guest token.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
	}
}

// envelope mirrors the server's response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   any             `json:"error"`
	Code    string          `json:"code"`
}

// do performs one request and decodes the envelope's data field into out
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		switch {
		case env.Code == "token_expired":
			return fmt.Errorf("%w: %v", domain.ErrTokenExpired, env.Error)
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", domain.ErrUnauthorized, env.Error)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, env.Error)
		}
		return fmt.Errorf("request failed with status %d: %v", resp.StatusCode, env.Error)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// GetRequest loads one persisted request row
func (c *APIClient) GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.Request, error) {
	var req domain.Request
	if err := c.do(ctx, http.MethodGet, "/api/v1/requests/"+requestID.String(), nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// GetQuery loads stored query metadata
func (c *APIClient) GetQuery(ctx context.Context, queryID uuid.UUID) (*domain.QueryResult, error) {
	var query domain.QueryResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/queries/"+queryID.String(), nil, &query); err != nil {
		return nil, err
	}
	return &query, nil
}

// GetRows fetches one page of result rows
func (c *APIClient) GetRows(ctx context.Context, queryID uuid.UUID, limit, offset int) (*domain.RowPage, error) {
	path := fmt.Sprintf("/api/v1/data/%s?limit=%d&offset=%d", queryID, limit, offset)
	var page domain.RowPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateSession creates a new session
func (c *APIClient) CreateSession(ctx context.Context, name string) (*domain.Session, error) {
	var session domain.Session
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions lists the caller's sessions
func (c *APIClient) ListSessions(ctx context.Context, limit, offset int) ([]domain.Session, error) {
	var sessions []domain.Session
	path := fmt.Sprintf("/api/v1/sessions/?limit=%d&offset=%d", limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListRequests loads a session's requests for bootstrap
func (c *APIClient) ListRequests(ctx context.Context, sessionID uuid.UUID) ([]domain.Request, error) {
	var requests []domain.Request
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID.String()+"/requests", nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// SubmitRequest submits a new prompt into a session
func (c *APIClient) SubmitRequest(ctx context.Context, sessionID uuid.UUID, prompt string) (*domain.Request, error) {
	var req domain.Request
	body := map[string]string{"prompt": prompt}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/requests", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// GuestToken obtains a guest credential from the server
func (c *APIClient) GuestToken(ctx context.Context) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/guest", nil, &data); err != nil {
		return "", err
	}
	return data.Token, nil
}
