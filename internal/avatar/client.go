package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the avatar provider's streaming REST API. List, stop
// and token creation authenticate with the account API key; the
// session-scoped calls use the short-lived token issued by CreateToken.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type listSessionsResponse struct {
	Data struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
		} `json:"sessions"`
	} `json:"data"`
}

type createTokenResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

type createStreamResponse struct {
	Data struct {
		SessionID   string `json:"session_id"`
		AccessToken string `json:"access_token"`
		URL         string `json:"url"`
	} `json:"data"`
}

// ListSessions returns the ids of all streaming sessions still
// registered under the account.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/v1/streaming.list", c.apiKeyHeader(), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("list sessions: status %d: %s", status, body)
	}

	var res listSessionsResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("list sessions: decode: %w", err)
	}
	ids := make([]string, 0, len(res.Data.Sessions))
	for _, s := range res.Data.Sessions {
		if s.SessionID != "" {
			ids = append(ids, s.SessionID)
		}
	}
	return ids, nil
}

// StopSession asks the provider to release one streaming session.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	payload := map[string]string{"session_id": sessionID}
	body, status, err := c.do(ctx, http.MethodPost, "/v1/streaming.stop", c.apiKeyHeader(), payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("stop session %s: status %d: %s", sessionID, status, body)
	}
	return nil
}

// CreateToken issues a short-lived session-scoped access token.
func (c *Client) CreateToken(ctx context.Context) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/v1/streaming.create_token", c.apiKeyHeader(), nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("create token: status %d: %s", status, body)
	}

	var res createTokenResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("create token: decode: %w", err)
	}
	if strings.TrimSpace(res.Data.Token) == "" {
		return "", fmt.Errorf("create token: empty token in response")
	}
	return res.Data.Token, nil
}

// CreateStream registers a new streaming session with fixed avatar,
// quality and encoding parameters plus the advisor persona prompt.
func (c *Client) CreateStream(ctx context.Context, token string, settings StreamSettings) (*Session, int, error) {
	payload := map[string]string{
		"quality":        settings.Quality,
		"avatar_name":    settings.AvatarID,
		"version":        "v2",
		"video_encoding": settings.VideoEncoding,
		"knowledge_base": settings.PersonaPrompt,
	}
	body, status, err := c.do(ctx, http.MethodPost, "/v1/streaming.new", bearerHeader(token), payload)
	if err != nil {
		return nil, 0, err
	}
	if status < 200 || status >= 300 {
		if isQuotaBody(status, string(body)) {
			return nil, status, ErrQuotaExceeded
		}
		return nil, status, fmt.Errorf("create stream: status %d: %s", status, body)
	}

	var res createStreamResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, status, fmt.Errorf("create stream: decode: %w", err)
	}
	if res.Data.SessionID == "" || res.Data.URL == "" {
		return nil, status, fmt.Errorf("create stream: incomplete session in response")
	}
	return &Session{
		SessionID:     res.Data.SessionID,
		MediaEndpoint: res.Data.URL,
		AccessToken:   res.Data.AccessToken,
		CreatedAt:     time.Now().UTC(),
	}, status, nil
}

// StartStream begins playout on a created session.
func (c *Client) StartStream(ctx context.Context, token, sessionID string) (int, error) {
	payload := map[string]string{"session_id": sessionID}
	body, status, err := c.do(ctx, http.MethodPost, "/v1/streaming.start", bearerHeader(token), payload)
	if err != nil {
		return 0, err
	}
	if status < 200 || status >= 300 {
		return status, fmt.Errorf("start stream: status %d: %s", status, body)
	}
	return status, nil
}

// SendTask submits text for the avatar to handle. TaskTalk has the
// provider generate and speak its own reply; TaskRepeat speaks the text
// verbatim.
func (c *Client) SendTask(ctx context.Context, sessionID, text string, taskType TaskType) error {
	payload := map[string]string{
		"session_id": sessionID,
		"text":       text,
		"task_type":  string(taskType),
	}
	body, status, err := c.do(ctx, http.MethodPost, "/v1/streaming.task", bearerHeader(c.apiKey), payload)
	if err != nil {
		return &SendError{Err: err}
	}
	if status < 200 || status >= 300 {
		if isSessionGoneBody(status, string(body)) {
			return ErrSessionGone
		}
		return &SendError{Status: status, Err: fmt.Errorf("%s", body)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, res.StatusCode, nil
}

func (c *Client) apiKeyHeader() http.Header {
	h := http.Header{}
	h.Set("X-Api-Key", c.apiKey)
	return h
}

func bearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
