package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type createIngestRequest struct {
	PlaybackPolicy string `json:"playbackPolicy"`
}

type createIngestResponse struct {
	IngestID   string `json:"ingestId"`
	IngestKey  string `json:"ingestKey"`
	PlaybackID string `json:"playbackId"`
}

// HTTPController implements Controller against the platform's REST API with
// bounded retries and a client-side rate limiter so bursts of stream
// creations cannot trip the platform's request quota.
type HTTPController struct {
	baseURL       string
	token         string
	client        *http.Client
	logger        *slog.Logger
	limiter       *rate.Limiter
	maxAttempts   int
	retryInterval time.Duration
}

// HTTPControllerConfig configures the REST adapter.
type HTTPControllerConfig struct {
	BaseURL        string
	Token          string
	Client         *http.Client
	Logger         *slog.Logger
	RequestsPerSec float64
	Burst          int
	MaxAttempts    int
	RetryInterval  time.Duration
}

// NewHTTPController builds the REST adapter. Zero-value limits fall back to
// conservative defaults.
func NewHTTPController(cfg HTTPControllerConfig) (*HTTPController, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("ingest base URL is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &HTTPController{
		baseURL:       baseURL,
		token:         strings.TrimSpace(cfg.Token),
		client:        client,
		logger:        logger,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		maxAttempts:   attempts,
		retryInterval: interval,
	}, nil
}

var _ Controller = (*HTTPController)(nil)

func (c *HTTPController) CreateIngest(ctx context.Context) (Credentials, error) {
	payload := createIngestRequest{PlaybackPolicy: "public"}
	var response createIngestResponse
	if err := c.postJSON(ctx, c.baseURL+"/v1/live-streams", payload, &response); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if response.IngestID == "" || response.IngestKey == "" {
		return Credentials{}, fmt.Errorf("%w: platform returned incomplete credentials", ErrUnavailable)
	}
	return Credentials{
		IngestID:   response.IngestID,
		IngestKey:  response.IngestKey,
		PlaybackID: response.PlaybackID,
	}, nil
}

func (c *HTTPController) DeleteIngest(ctx context.Context, ingestID string) error {
	ingestID = strings.TrimSpace(ingestID)
	if ingestID == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/v1/live-streams/%s", c.baseURL, ingestID), nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *HTTPController) postJSON(ctx context.Context, url string, payload, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body, dest)
}

func (c *HTTPController) do(ctx context.Context, method, url string, payload []byte, dest interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		reqBody := io.Reader(nil)
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			lastErr = consumeResponse(resp, dest)
		}
		if lastErr == nil {
			return nil
		}
		if attempt < c.maxAttempts {
			c.logger.Warn("ingest platform request failed",
				"method", method, "url", url, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
		}
	}
	return lastErr
}

func consumeResponse(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}
