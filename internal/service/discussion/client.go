package discussion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nddb-lms/lms-admin/backend/internal/model/discussion"
)

// ErrUnauthorized means the API rejected the credential.
var ErrUnauthorized = errors.New("discussion api: unauthorized")

// APIError is any other non-2xx answer.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discussion api status %d: %s", e.Status, e.Body)
}

// TokenSource supplies the bearer credential, "" when logged out.
type TokenSource interface {
	Token() string
}

// Client is the REST collaborator for /courseChats.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource

	// OnUnauthorized is called after every 401.
	OnUnauthorized func(ctx context.Context)
}

// NewClient creates a client rooted at baseURL, e.g. https://host/api.
// tokens may be nil.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
	}
}

// List returns the full history of a course channel.
func (c *Client) List(ctx context.Context, courseID string) ([]discussion.Message, error) {
	return c.ListSince(ctx, courseID, time.Time{})
}

// ListSince returns messages strictly newer than after. A zero after
// requests the full history.
func (c *Client) ListSince(ctx context.Context, courseID string, after time.Time) ([]discussion.Message, error) {
	params := url.Values{}
	params.Set("courseId", courseID)
	if !after.IsZero() {
		params.Set("timestamp_gt", discussion.FormatTimestamp(after))
	}

	fullURL := fmt.Sprintf("%s/courseChats?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var messages []discussion.Message
	if err := c.do(ctx, req, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Create posts a new message and returns the server's confirmed copy.
func (c *Client) Create(ctx context.Context, msg discussion.NewMessage) (discussion.Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return discussion.Message{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/courseChats", bytes.NewReader(body))
	if err != nil {
		return discussion.Message{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var created discussion.Message
	if err := c.do(ctx, req, &created); err != nil {
		return discussion.Message{}, err
	}
	if created.ID == "" {
		return discussion.Message{}, errors.New("decode response: message id missing")
	}
	return created, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discussion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if c.OnUnauthorized != nil {
			c.OnUnauthorized(ctx)
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := decodeData(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeData unwraps the API's {"data": ...} envelope. A body without the
// envelope is decoded as is; "data": null leaves out untouched.
func decodeData(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] != '{' {
		return json.Unmarshal(trimmed, out)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}
	data, ok := fields["data"]
	if !ok {
		return json.Unmarshal(trimmed, out)
	}
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	return json.Unmarshal(data, out)
}
