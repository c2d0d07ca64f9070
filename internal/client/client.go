// Package client is the HTTP client for the daemon API, with retry and auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/models"
	"github.com/caamer20/Telegram-Drive/internal/protocol"
	"github.com/caamer20/Telegram-Drive/internal/retry"
)

// Client talks to a running daemon.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		// Uploads and downloads run inside the request.
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// Error is a failure reported by the daemon.
type Error struct {
	Status     int
	Kind       string
	Message    string
	RetryAfter int
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return e.Message
}

// Ping checks that the daemon is up and reports whether it holds a session.
func (c *Client) Ping(ctx context.Context) (protocol.HealthResponse, error) {
	var h protocol.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// do sends one API call. Idempotent calls are retried on transport errors,
// server errors and short rate limits.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	cfg := c.retryConfig
	if method != http.MethodGet && method != http.MethodDelete {
		cfg.MaxAttempts = 1
	}

	return retry.Do(ctx, cfg, func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return c.classify(resp)
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) classify(resp *http.Response) error {
	var er protocol.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &er); err != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(data))
		if er.Error == "" {
			er.Error = resp.Status
		}
	}
	if er.RetryAfter == 0 {
		er.RetryAfter, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
	}
	e := &Error{Status: resp.StatusCode, Kind: er.Kind, Message: er.Error, RetryAfter: er.RetryAfter}

	switch {
	case er.Kind == "rate_limited":
		wait := time.Duration(er.RetryAfter) * time.Second
		if wait > 0 && wait <= c.retryConfig.MaxWait {
			return retry.RetryAfter(e, wait)
		}
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode >= 500 && er.Kind == "":
		return retry.Retryable(e)
	}
	return e
}

func folderQuery(folderID *int64) string {
	if folderID == nil {
		return ""
	}
	return "?folder_id=" + url.QueryEscape(strconv.FormatInt(*folderID, 10))
}

// ─── Session ────────────────────────────────────────────────────────────────

// Connect initializes the daemon's session for an application id.
func (c *Client) Connect(ctx context.Context, appID int) (protocol.ConnectionResponse, error) {
	var res protocol.ConnectionResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/connect", protocol.ConnectRequest{AppID: appID}, &res)
	return res, err
}

// Connection probes the session, reconnecting if it went stale.
func (c *Client) Connection(ctx context.Context) (protocol.ConnectionResponse, error) {
	var res protocol.ConnectionResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/connection", nil, &res)
	return res, err
}

// Logout signs out and deletes the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/logout", nil, nil)
}

// RequestCode starts a sign-in.
func (c *Client) RequestCode(ctx context.Context, phone string, appID int, appHash string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/code",
		protocol.CodeRequest{Phone: phone, AppID: appID, AppHash: appHash}, nil)
}

// SignIn submits the login code.
func (c *Client) SignIn(ctx context.Context, code string) (models.AuthResult, error) {
	var res models.AuthResult
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/sign-in", protocol.SignInRequest{Code: code}, &res)
	return res, err
}

// CheckPassword submits the account password.
func (c *Client) CheckPassword(ctx context.Context, password string) (models.AuthResult, error) {
	var res models.AuthResult
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/password", protocol.PasswordRequest{Password: password}, &res)
	return res, err
}

// ─── Files ──────────────────────────────────────────────────────────────────

// ListFiles lists a folder; nil is the saved-messages chat.
func (c *Client) ListFiles(ctx context.Context, folderID *int64) ([]models.File, error) {
	var res protocol.FileListResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/files"+folderQuery(folderID), nil, &res)
	return res.Files, err
}

// Upload sends a file that is readable by the daemon.
func (c *Client) Upload(ctx context.Context, path string, folderID *int64) (models.File, error) {
	var res models.File
	err := c.do(ctx, http.MethodPost, "/api/v1/files", protocol.UploadRequest{Path: path, FolderID: folderID}, &res)
	return res, err
}

// Download saves a file to a path on the daemon's machine.
func (c *Client) Download(ctx context.Context, messageID int, savePath string, folderID *int64) (string, error) {
	var res protocol.MessageResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/files/"+strconv.Itoa(messageID)+"/download",
		protocol.DownloadRequest{SavePath: savePath, FolderID: folderID}, &res)
	return res.Result, err
}

// Delete removes a file.
func (c *Client) Delete(ctx context.Context, messageID int, folderID *int64) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/files/"+strconv.Itoa(messageID)+folderQuery(folderID), nil, nil)
}

// Move moves files between folders.
func (c *Client) Move(ctx context.Context, messageIDs []int, source, target *int64) error {
	return c.do(ctx, http.MethodPost, "/api/v1/files/move",
		protocol.MoveRequest{MessageIDs: messageIDs, SourceID: source, TargetID: target}, nil)
}

// Preview returns a data URI or a cached file path.
func (c *Client) Preview(ctx context.Context, messageID int, folderID *int64) (string, error) {
	var res protocol.MessageResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/files/"+strconv.Itoa(messageID)+"/preview"+folderQuery(folderID), nil, &res)
	return res.Result, err
}

// Thumbnail returns a JPEG data URI, or "" when none exists.
func (c *Client) Thumbnail(ctx context.Context, messageID int, folderID *int64) (string, error) {
	var res protocol.MessageResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/files/"+strconv.Itoa(messageID)+"/thumbnail"+folderQuery(folderID), nil, &res)
	return res.Result, err
}

// ─── Folders ────────────────────────────────────────────────────────────────

// Folders lists the drive folders.
func (c *Client) Folders(ctx context.Context) ([]models.Folder, error) {
	var res protocol.FolderListResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/folders", nil, &res)
	return res.Folders, err
}

// CreateFolder creates a folder.
func (c *Client) CreateFolder(ctx context.Context, name string) (models.Folder, error) {
	var res models.Folder
	err := c.do(ctx, http.MethodPost, "/api/v1/folders", protocol.FolderRequest{Name: name}, &res)
	return res, err
}

// DeleteFolder deletes a folder and everything in it.
func (c *Client) DeleteFolder(ctx context.Context, folderID int64) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/folders/"+strconv.FormatInt(folderID, 10), nil, nil)
}

// ─── Housekeeping ───────────────────────────────────────────────────────────

// Bandwidth returns today's usage.
func (c *Client) Bandwidth(ctx context.Context) (protocol.BandwidthResponse, error) {
	var res protocol.BandwidthResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/bandwidth", nil, &res)
	return res, err
}

// CleanCache deletes the daemon's preview cache.
func (c *Client) CleanCache(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/cache", nil, nil)
}

// Network reports whether the daemon can reach the remote service.
func (c *Client) Network(ctx context.Context) (bool, error) {
	var res protocol.NetworkResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/network", nil, &res)
	return res.Available, err
}
