package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Error is returned by Client when the daemon answers with a non-2xx status.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tenk api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("tenk api: %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an *Error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client calls the tenk JSON API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the daemon at baseURL (for example
// "http://127.0.0.1:7510"). A nil httpClient uses a client with a 30s timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != "" && !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{baseURL: baseURL, token: strings.TrimSpace(token), http: httpClient}
}

// BaseURL reports the daemon address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) (*HealthView, error) {
	var resp HealthView
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusView, error) {
	var resp StatusView
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Progress retrieves total hours against the goal.
func (c *Client) Progress(ctx context.Context) (*ProgressView, error) {
	var resp ProgressView
	if err := c.do(ctx, http.MethodGet, "/api/progress", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recent placements. limit <= 0 uses the daemon default.
func (c *Client) History(ctx context.Context, limit int) ([]PlacementView, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Placements, nil
}

// Sessions lists sessions, optionally filtered by phase.
func (c *Client) Sessions(ctx context.Context, phases ...string) ([]SessionView, error) {
	path := "/api/sessions"
	if len(phases) > 0 {
		query := url.Values{}
		for _, phase := range phases {
			query.Add("phase", phase)
		}
		path += "?" + query.Encode()
	}
	var resp SessionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// CreateSession starts a new session.
func (c *Client) CreateSession(ctx context.Context, source string) (*SessionView, error) {
	return c.sessionCall(ctx, http.MethodPost, "/api/sessions", CreateSessionRequest{Source: source})
}

// GetSession loads one session together with its detection history.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadPhoto sends a photo as the multipart field "photo" and returns the
// session with its detected objects.
func (c *Client) UploadPhoto(ctx context.Context, id, filename string, photo io.Reader) (*SessionView, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("photo", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, photo); err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, sessionPath(id, "photo"), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var resp SessionResponse
	if err := c.send(req, &resp); err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

// ConfirmOrder confirms the objects to place.
func (c *Client) ConfirmOrder(ctx context.Context, id string, order []string) (*SessionView, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(id, "order"), OrderRequest{Order: order})
}

// Start begins timing an object. An empty object picks the next pending one.
func (c *Client) Start(ctx context.Context, id, object string) (*SessionView, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(id, "start"), StartRequest{Object: object})
}

// Finish records where the current object went.
func (c *Client) Finish(ctx context.Context, id, location string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "finish"), FinishRequest{Location: location}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Abandon ends a session without further placements.
func (c *Client) Abandon(ctx context.Context, id string) (*SessionView, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(id, "abandon"), nil)
}

func (c *Client) sessionCall(ctx context.Context, method, path string, payload any) (*SessionView, error) {
	var resp SessionResponse
	if err := c.do(ctx, method, path, payload, &resp); err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, errors.New("tenk api: base url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		var payload ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func sessionPath(id, action string) string {
	path := "/api/sessions/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path
}
