package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
)

// ErrNoToken is returned when the API accepts credentials but omits the token.
var ErrNoToken = errors.New("Authentication failed: No token received")

// Error is a non-2xx answer from the auth API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Result is what a successful login or registration yields.
type Result struct {
	User  session.User
	Token string
}

// Client talks to the LMS auth endpoints. It never touches session state.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an auth client rooted at baseURL, e.g. https://host/api.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Login exchanges credentials for a user and token.
func (c *Client) Login(ctx context.Context, email, password string) (*Result, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	log.Printf("[auth] login attempt email=%s", email)
	return c.post(ctx, "/auth/login", payload, "Login failed", true)
}

// Register creates an admin account. The API may or may not answer with a
// session; the caller is expected to log in afterwards.
func (c *Client) Register(ctx context.Context, name, email, password string) (*Result, error) {
	payload := map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
		"role":     "admin",
	}
	log.Printf("[auth] register attempt email=%s", email)
	return c.post(ctx, "/auth/register", payload, "Registration failed", false)
}

type envelope struct {
	Data *struct {
		User  *session.User `json:"user"`
		Token string        `json:"token"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, path string, payload any, fallback string, needToken bool) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded envelope
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := fallback
		if decodeErr == nil && strings.TrimSpace(decoded.Message) != "" {
			message = decoded.Message
		}
		log.Printf("[auth] %s rejected status=%d", path, resp.StatusCode)
		return nil, &Error{Status: resp.StatusCode, Message: message}
	}

	if !needToken {
		res := &Result{}
		if decodeErr == nil && decoded.Data != nil {
			if decoded.Data.User != nil {
				res.User = *decoded.Data.User
			}
			res.Token = decoded.Data.Token
		}
		log.Printf("[auth] %s succeeded", path)
		return res, nil
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if decoded.Data == nil || strings.TrimSpace(decoded.Data.Token) == "" {
		return nil, ErrNoToken
	}
	if decoded.Data.User == nil || decoded.Data.User.ID == "" {
		return nil, errors.New("decode response: user missing")
	}

	log.Printf("[auth] %s succeeded user=%s", path, decoded.Data.User.ID)
	return &Result{User: *decoded.Data.User, Token: decoded.Data.Token}, nil
}
