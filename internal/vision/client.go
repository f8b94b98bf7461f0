package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 4
	defaultMaxTokens      = 300
	defaultBaseURL        = "https://api.openai.com/v1/chat/completions"
	defaultPrompt         = "Detect only visible objects. Return a clear list, no extra context."
)

// ErrNoObjects is returned when the model answered but no object names could be parsed.
var ErrNoObjects = errors.New("no objects detected")

// Config captures the runtime settings required to talk to the vision model.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Prompt         string
	MaxTokens      int
	Referer        string
	Title          string
	TimeoutSeconds int
	Locale         string
}

// Detection is the parsed result of one detection request.
type Detection struct {
	Objects    []string `json:"objects"`
	Raw        string   `json:"raw"`
	Model      string   `json:"model"`
	TokensUsed int      `json:"tokens_used"`
}

// Client wraps the chat completion API for image detection.
type Client struct {
	cfg        Config
	tag        language.Tag
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a vision client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			Prompt:         strings.TrimSpace(cfg.Prompt),
			MaxTokens:      cfg.MaxTokens,
			Referer:        strings.TrimSpace(cfg.Referer),
			Title:          strings.TrimSpace(cfg.Title),
			TimeoutSeconds: cfg.TimeoutSeconds,
			Locale:         strings.TrimSpace(cfg.Locale),
		},
		tag:              parseLocale(cfg.Locale),
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	if client.cfg.Prompt == "" {
		client.cfg.Prompt = defaultPrompt
	}
	if client.cfg.MaxTokens <= 0 {
		client.cfg.MaxTokens = defaultMaxTokens
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

func parseLocale(value string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(value))
	if err != nil {
		return language.Und
	}
	return tag
}

// Model reports the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("vision request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf(
		"%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op,
		e.FinishReason,
		e.Refusal,
		e.Snippet,
	)
}

// UpstreamError marks failures caused by the remote model rather than the caller.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Detect sends the photo to the model and parses the object list it returns.
func (c *Client) Detect(ctx context.Context, dataURL string) (Detection, error) {
	var empty Detection
	dataURL = strings.TrimSpace(dataURL)
	if !strings.HasPrefix(dataURL, "data:image/") {
		return empty, errors.New("vision detect: image data url required")
	}
	if c.cfg.APIKey == "" {
		return empty, errors.New("vision detect: api key required")
	}
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: c.cfg.Prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
		MaxTokens: c.cfg.MaxTokens,
	}
	ctx, cancel := context.WithTimeout(ctx, c.Budget())
	defer cancel()
	result, err := c.completionWithRetry(ctx, payload, "vision detect")
	if err != nil {
		return empty, &UpstreamError{Err: err}
	}
	detection := Detection{
		Objects:    ParseObjectsLocale(result.content, c.tag),
		Raw:        result.content,
		Model:      firstNonEmpty(result.model, c.cfg.Model),
		TokensUsed: result.tokensUsed,
	}
	if len(detection.Objects) == 0 {
		return detection, ErrNoObjects
	}
	return detection, nil
}

// HealthCheck issues a small text-only request to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("vision health: api key required")
	}
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: []contentPart{{Type: "text", Text: "Reply with the single word: ok"}}},
		},
		MaxTokens: 5,
	}
	result, err := c.completionWithRetry(ctx, payload, "vision health")
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(result.content), "ok") {
		return fmt.Errorf("vision health: unexpected response %s", summarizePayloadSnippet(result.content))
	}
	return nil
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema (delta) even when stream=false.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

type completionResult struct {
	content    string
	model      string
	tokensUsed int
}

func (c *Client) completionWithRetry(ctx context.Context, payload chatCompletionRequest, op string) (completionResult, error) {
	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		completion, body, err := c.sendChatRequestOnce(ctx, payload)
		if err == nil {
			content, finishReason := extractCompletionPayload(completion)
			if content != "" {
				return completionResult{
					content:    content,
					model:      strings.TrimSpace(completion.Model),
					tokensUsed: usageTokens(completion),
				}, nil
			}
			if len(completion.Choices) == 0 {
				err = fmt.Errorf("%s: empty choices", op)
			} else {
				err = &emptyContentError{
					Op:           op,
					FinishReason: finishReason,
					Refusal:      extractCompletionRefusal(completion),
					Snippet:      summarizePayloadSnippet(string(body)),
				}
			}
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return completionResult{}, err
		}
		if err := c.sleep(ctx, delay); err != nil {
			return completionResult{}, err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return completionResult{}, fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func usageTokens(completion chatCompletionResponse) int {
	if completion.Usage == nil {
		return 0
	}
	if completion.Usage.TotalTokens > 0 {
		return completion.Usage.TotalTokens
	}
	return completion.Usage.PromptTokens + completion.Usage.CompletionTokens
}

func extractCompletionPayload(completion chatCompletionResponse) (string, string) {
	var finishReason string
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, finishReason
		}
	}
	return "", finishReason
}

func extractCompletionRefusal(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (c *Client) sendChatRequestOnce(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, []byte, error) {
	var completion chatCompletionResponse
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "")
	if err != nil {
		return completion, nil, fmt.Errorf("vision request: build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, nil, fmt.Errorf("vision request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return completion, nil, fmt.Errorf("vision request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
		req.Header.Set("Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, nil, fmt.Errorf("vision request: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, nil, fmt.Errorf("vision request: read body (timeout=%s): %w", c.timeoutDuration(), err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return completion, body, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, body, fmt.Errorf("vision request: decode response: %w", err)
	}
	if completion.Error != nil {
		return completion, body, fmt.Errorf("vision request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	return completion, body, nil
}

// Budget is the longest Detect can run: every attempt timing out plus the
// capped wait between attempts.
func (c *Client) Budget() time.Duration {
	attempts := c.retryAttempts()
	return time.Duration(attempts)*c.timeoutDuration() + time.Duration(attempts-1)*c.capDelay(time.Duration(math.MaxInt64))
}

// Budget reports the Detect budget of a client built with default retry
// settings and the given per-request timeout.
func Budget(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return defaultRetryAttempts*timeout + (defaultRetryAttempts-1)*defaultRetryMaxDelay
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var emptyErr *emptyContentError
	if errors.As(err, &emptyErr) {
		return c.backoffDelay(attempt), true
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if c != nil {
		if c.retryBaseDelay >= 0 {
			base = c.retryBaseDelay
		}
		if c.retryMaxDelay > 0 {
			maxDelay = c.retryMaxDelay
		}
	}
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if c != nil && c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c != nil && c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
