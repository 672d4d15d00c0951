// Package client speaks the hmacfs HTTP API. A *Client is a vfs.FileSystem,
// so everything written against the interface works unchanged against a
// remote daemon.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/InsulaLabs/hmacfs/db/engine"
	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
	"github.com/gorilla/websocket"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetryWait = 5 * time.Second

	apiPrefix = "fs/api/v1/"
)

type Config struct {
	// HostPort of the daemon, e.g. "127.0.0.1:7401".
	HostPort   string
	UseTLS     bool
	SkipVerify bool
	Timeout    time.Duration
	// MaxRetryWait caps how long a rate limited call sleeps before retrying.
	// Negative disables retries.
	MaxRetryWait time.Duration
	Logger       *slog.Logger
}

// Client is the API client for the hmacfs service.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	skipVerify   bool
	maxRetryWait time.Duration
	logger       *slog.Logger
}

var _ vfs.FileSystem = &Client{}

// NewClient creates a new hmacfs API client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.HostPort == "" {
		return nil, fmt.Errorf("hostPort cannot be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.HostPort); err != nil {
		return nil, fmt.Errorf("failed to parse HostPort '%s': %w", cfg.HostPort, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	clientLogger := cfg.Logger.WithGroup("hmacfs_client")

	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	baseURLStr := fmt.Sprintf("%s://%s/", scheme, cfg.HostPort)
	baseURL, err := url.Parse(baseURLStr)
	if err != nil {
		clientLogger.Error("Failed to parse base URL", "url", baseURLStr, "error", err)
		return nil, fmt.Errorf("failed to parse base URL '%s': %w", baseURLStr, err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetryWait == 0 {
		cfg.MaxRetryWait = defaultMaxRetryWait
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.SkipVerify,
			},
		},
		Timeout: cfg.Timeout,
	}

	clientLogger.Debug("hmacfs client initialized", "base_url", baseURL.String(), "tls_skip_verify", cfg.SkipVerify)

	return &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		skipVerify:   cfg.SkipVerify,
		maxRetryWait: cfg.MaxRetryWait,
		logger:       clientLogger,
	}, nil
}

// internal request helper
func (c *Client) doRequest(ctx context.Context, method, route string, queryParams url.Values, body any, target any) error {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: apiPrefix + route})
	if len(queryParams) > 0 {
		reqURL.RawQuery = queryParams.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		reqBodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, route, err)
		}
		reqBody = bytes.NewReader(reqBodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request %s %s: %w", method, reqURL.String(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending request", "method", method, "url", reqURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "method", method, "url", reqURL.String(), "error", err)
		return fmt.Errorf("http request %s %s failed: %w", method, reqURL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.responseError(resp)
	}

	if target != nil {
		rsp := struct {
			Data any `json:"data"`
		}{Data: target}
		if err := json.NewDecoder(resp.Body).Decode(&rsp); err != nil {
			c.logger.Error("Failed to decode response body", "method", method, "url", reqURL.String(), "error", err)
			return fmt.Errorf("failed to decode response body for %s %s: %w", method, reqURL.String(), err)
		}
	}
	return nil
}

// responseError turns a non-2xx response back into the error the server-side
// FileSystem returned.
func (c *Client) responseError(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &ErrRateLimited{RetryAfter: retryAfter}
	}

	var errorResp models.ErrorResponse
	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil || json.Unmarshal(bodyBytes, &errorResp) != nil {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	c.logger.Debug("Parsed JSON error response from server", "error_type", errorResp.ErrorType, "message", errorResp.Message)

	sentinel := vfs.FromCode(errorResp.ErrorType)
	if sentinel == nil {
		return fmt.Errorf("server error (status %d): %s - %s", resp.StatusCode, errorResp.ErrorType, errorResp.Message)
	}
	if sentinel != vfs.ErrEngine {
		return &vfs.PathError{Op: errorResp.Op, Path: errorResp.Path, Err: sentinel}
	}

	kind := engine.Corruption
	if errorResp.Retryable {
		kind = engine.Transient
	}
	cause := &engine.Error{Kind: kind, Op: errorResp.Op, Path: errorResp.Path, Err: errors.New(errorResp.Message)}
	return &vfs.PathError{Op: errorResp.Op, Path: errorResp.Path, Err: fmt.Errorf("%w: %w", vfs.ErrEngine, cause)}
}

// call runs fn with rate limit retries. Failures that did not come from the
// remote FileSystem (network, context, malformed responses) are reported as
// transient engine errors so every error still wraps a vfs sentinel.
func (c *Client) call(ctx context.Context, op, p string, fn func() error) error {
	err := withRetriesVoid(ctx, c.logger, c.maxRetryWait, fn)
	if err == nil || vfs.Code(err) != "" {
		return err
	}
	cause := &engine.Error{Kind: engine.Transient, Op: op, Path: p, Err: err}
	return &vfs.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %w", vfs.ErrEngine, cause)}
}

func pathQuery(p string) url.Values {
	return url.Values{"path": {p}}
}

// --- FileSystem ---

func (c *Client) Init(ctx context.Context) error {
	return c.call(ctx, "init", vpath.Root, func() error {
		return c.doRequest(ctx, http.MethodPost, "init", nil, struct{}{}, nil)
	})
}

func (c *Client) Read(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := c.call(ctx, "read", path, func() error {
		return c.doRequest(ctx, http.MethodGet, "read", pathQuery(path), nil, &content)
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		content = []byte{}
	}
	return content, nil
}

func (c *Client) ReadText(ctx context.Context, path string) (string, error) {
	q := pathQuery(path)
	q.Set("text", "true")
	var text string
	err := c.call(ctx, "readtext", path, func() error {
		return c.doRequest(ctx, http.MethodGet, "read", q, nil, &text)
	})
	return text, err
}

func (c *Client) Write(ctx context.Context, path string, data []byte, opts ...vfs.WriteOption) error {
	o := vfs.ApplyWriteOptions(opts...)
	if data == nil {
		data = []byte{}
	}
	req := models.WriteRequest{Path: path, Content: data, MimeType: o.MimeType}
	return c.call(ctx, "write", path, func() error {
		return c.doRequest(ctx, http.MethodPost, "write", nil, req, nil)
	})
}

func (c *Client) WriteText(ctx context.Context, path string, text string, opts ...vfs.WriteOption) error {
	o := vfs.ApplyWriteOptions(opts...)
	req := models.WriteRequest{Path: path, Text: &text, MimeType: o.MimeType}
	return c.call(ctx, "write", path, func() error {
		return c.doRequest(ctx, http.MethodPost, "write", nil, req, nil)
	})
}

func (c *Client) Mkdir(ctx context.Context, path string) error {
	return c.call(ctx, "mkdir", path, func() error {
		return c.doRequest(ctx, http.MethodPost, "mkdir", nil, models.PathRequest{Path: path}, nil)
	})
}

func (c *Client) List(ctx context.Context, path string) ([]models.FileInfo, error) {
	var infos []models.FileInfo
	err := c.call(ctx, "list", path, func() error {
		return c.doRequest(ctx, http.MethodGet, "list", pathQuery(path), nil, &infos)
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) Remove(ctx context.Context, path string, opts ...vfs.RemoveOption) error {
	o := vfs.ApplyRemoveOptions(opts...)
	req := models.RemoveRequest{Path: path, Recursive: o.Recursive}
	return c.call(ctx, "remove", path, func() error {
		return c.doRequest(ctx, http.MethodPost, "remove", nil, req, nil)
	})
}

func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := c.call(ctx, "exists", path, func() error {
		return c.doRequest(ctx, http.MethodGet, "exists", pathQuery(path), nil, &exists)
	})
	return exists, err
}

func (c *Client) Stat(ctx context.Context, path string) (models.FileStat, error) {
	var stat models.FileStat
	err := c.call(ctx, "stat", path, func() error {
		return c.doRequest(ctx, http.MethodGet, "stat", pathQuery(path), nil, &stat)
	})
	return stat, err
}

// Ping reports the daemon's status.
func (c *Client) Ping(ctx context.Context) (models.PingResponse, error) {
	var rsp models.PingResponse
	err := withRetriesVoid(ctx, c.logger, c.maxRetryWait, func() error {
		return c.doRequest(ctx, http.MethodGet, "ping", nil, nil, &rsp)
	})
	return rsp, err
}

// --- Events ---

// SubscribeToEvents streams change events until ctx is cancelled or the
// connection drops. With a non-empty prefix only changes at or below it are
// delivered. onEvent runs on the reading goroutine.
func (c *Client) SubscribeToEvents(ctx context.Context, prefix string, onEvent func(models.Event)) error {
	wsScheme := "ws"
	if c.baseURL.Scheme == "https" {
		wsScheme = "wss"
	}
	wsURL := url.URL{
		Scheme: wsScheme,
		Host:   c.baseURL.Host,
		Path:   "/" + apiPrefix + "events",
	}
	if prefix != "" {
		wsURL.RawQuery = url.Values{"prefix": {prefix}}.Encode()
	}

	c.logger.Info("Attempting to connect to WebSocket for event subscription", "url", wsURL.String())

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.skipVerify,
		},
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			c.logger.Error("WebSocket dial error with response", "url", wsURL.String(), "status", resp.Status, "error", err)
			if respErr := c.responseError(resp); respErr != nil {
				return fmt.Errorf("failed to dial websocket %s: %w", wsURL.String(), respErr)
			}
		}
		return fmt.Errorf("failed to dial websocket %s: %w", wsURL.String(), err)
	}
	defer conn.Close()

	// Unblock the read loop when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})
	defer stop()

	c.logger.Info("Successfully connected to WebSocket. Listening for events...", "prefix", prefix)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("Error reading message from WebSocket", "error", err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var event models.Event
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.Error("Failed to unmarshal event message", "error", err, "message", string(message))
			continue
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
}
