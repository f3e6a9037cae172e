// Package backend is the HTTP client for the restaurant backend service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// Options configures a Client
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	CreateAttempts uint
	RetryDelay     time.Duration
	HTTPClient     *http.Client
	Logger         zerolog.Logger
}

// Client talks to the backend REST API
type Client struct {
	baseURL    string
	http       *http.Client
	attempts   uint
	retryDelay time.Duration
	logger     zerolog.Logger
}

// New creates a backend client
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	attempts := opts.CreateAttempts
	if attempts == 0 {
		attempts = 3
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       httpClient,
		attempts:   attempts,
		retryDelay: delay,
		logger:     opts.Logger,
	}
}

// CreateSession exchanges a QR code token for a new table session.
// Transient failures are retried with backoff.
func (c *Client) CreateSession(ctx context.Context, qrCodeToken string, meta json.RawMessage) (*types.CreateSessionResponse, error) {
	if qrCodeToken == "" {
		return nil, fmt.Errorf("qr code token cannot be empty")
	}

	body := types.CreateSessionRequest{QRCodeToken: qrCodeToken, Meta: meta}
	var resp types.CreateSessionResponse

	err := retry.Do(func() error {
		err := c.do(ctx, http.MethodPost, "/sessions", body, &resp)
		if err != nil && !IsTransient(err) {
			return retry.Unrecoverable(err)
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Msg("⚠️ Session creation failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}

	if resp.ID == "" {
		return nil, &DecodeError{Path: "/sessions", Err: fmt.Errorf("session id missing")}
	}
	return &resp, nil
}

// ValidateSession asks the backend whether a session is still usable.
// 404 and 410 are reported as an authoritative invalid answer, not an error.
func (c *Client) ValidateSession(ctx context.Context, sessionID string) (*types.ValidateSessionResponse, error) {
	path := "/sessions/" + url.PathEscape(sessionID) + "/validate"

	var resp types.ValidateSessionResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if IsStatus(err, http.StatusNotFound) || IsStatus(err, http.StatusGone) {
			return &types.ValidateSessionResponse{IsValid: false}, nil
		}
		return nil, err
	}
	return &resp, nil
}

// GetSessionOrders lists orders placed under a session
func (c *Client) GetSessionOrders(ctx context.Context, sessionID string) ([]types.Order, error) {
	var orders []types.Order
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetTable fetches one table
func (c *Client) GetTable(ctx context.Context, tableID int) (*types.Table, error) {
	var table types.Table
	if err := c.do(ctx, http.MethodGet, "/tables/"+strconv.Itoa(tableID), nil, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// GetMenu fetches the menu
func (c *Client) GetMenu(ctx context.Context, onlyAvailable bool) ([]types.MenuItem, error) {
	var items []types.MenuItem
	if err := c.do(ctx, http.MethodGet, "/menu?onlyAvailable="+strconv.FormatBool(onlyAvailable), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateOrder submits a cart for the table
func (c *Client) CreateOrder(ctx context.Context, req types.CreateOrderRequest) (*types.Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}

	var order types.Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}

// errorMessage pulls "message" or "error" out of a JSON error body
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	return ""
}
