package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-civitai-fetch/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Custom Error Types
var (
	ErrRateLimited    = errors.New("API rate limit exceeded")
	ErrUnauthorized   = errors.New("API request unauthorized (check API key)")
	ErrNotFound       = errors.New("API resource not found")
	ErrServerError    = errors.New("API server error")
	ErrRetryExhausted = errors.New("API retry budget exhausted")
)

const CivitaiApiBaseUrl = "https://civitai.com/api/v1"

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = time.Second
)

// Client is a retrying, rate-limited client for the Civitai API.
type Client struct {
	ApiKey      string
	BaseUrl     string
	HttpClient  *http.Client
	MaxAttempts int
	RetryDelay  time.Duration // base of the exponential backoff

	limiter *rate.Limiter
}

// NewClient creates a new API client. Retry cap, backoff base and request
// pacing all come from the config; zero values fall back to defaults.
func NewClient(apiKey string, httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		timeout := 30 * time.Second
		if cfg.APIClientTimeoutSec > 0 {
			timeout = time.Duration(cfg.APIClientTimeoutSec) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	retryDelay := defaultRetryDelay
	if cfg.InitialRetryDelayMs > 0 {
		retryDelay = time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond
	}

	var limiter *rate.Limiter
	if cfg.APIDelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(cfg.APIDelayMs)*time.Millisecond), 1)
	}

	return &Client{
		ApiKey:      apiKey,
		BaseUrl:     CivitaiApiBaseUrl,
		HttpClient:  httpClient,
		MaxAttempts: maxAttempts,
		RetryDelay:  retryDelay,
		limiter:     limiter,
	}
}

// RetryableHTTPRequest performs the request, retrying on 429/5xx/524 and on
// transport errors up to the configured attempt cap. A Retry-After header is
// honored exactly; otherwise backoff doubles each attempt. 401/403, 404 and
// other client errors fail immediately without retry.
func (c *Client) RetryableHTTPRequest(req *http.Request) (*http.Response, error) {
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	}

	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := c.HttpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed (attempt %d/%d): %w", attempt, c.MaxAttempts, err)
			if attempt < c.MaxAttempts {
				delay := c.backoff(attempt)
				log.WithError(err).Warnf("Transient request error. Retrying (%d/%d) after %s...", attempt, c.MaxAttempts, delay)
				if err := sleepCtx(req.Context(), delay); err != nil {
					return nil, err
				}
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			drainAndClose(resp)
			return nil, ErrUnauthorized

		case resp.StatusCode == http.StatusNotFound:
			drainAndClose(resp)
			return nil, ErrNotFound

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 524:
			lastErr = fmt.Errorf("%w (status %d)", ErrRateLimited, resp.StatusCode)
			delay := c.retryDelay(resp, attempt)
			drainAndClose(resp)
			if attempt < c.MaxAttempts {
				log.Warnf("Rate limited (status %d). Retrying (%d/%d) after %s...", resp.StatusCode, attempt, c.MaxAttempts, delay)
				if err := sleepCtx(req.Context(), delay); err != nil {
					return nil, err
				}
			}

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w (status %d)", ErrServerError, resp.StatusCode)
			delay := c.retryDelay(resp, attempt)
			drainAndClose(resp)
			if attempt < c.MaxAttempts {
				log.Warnf("Server error (status %d). Retrying (%d/%d) after %s...", resp.StatusCode, attempt, c.MaxAttempts, delay)
				if err := sleepCtx(req.Context(), delay); err != nil {
					return nil, err
				}
			}

		default:
			// Remaining 4xx responses are caller mistakes, not transient.
			drainAndClose(resp)
			return nil, fmt.Errorf("API request failed with status %d", resp.StatusCode)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, c.MaxAttempts, lastErr)
}

// retryDelay returns the wait before the next attempt. A parseable
// Retry-After header wins; otherwise exponential backoff from the base.
func (c *Client) retryDelay(resp *http.Response, attempt int) time.Duration {
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
			if at, err := http.ParseTime(ra); err == nil {
				if d := time.Until(at); d > 0 {
					return d
				}
				return 0
			}
		}
	}
	return c.backoff(attempt)
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.RetryDelay * (1 << (attempt - 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drainAndClose(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// getJSON fetches reqURL through the retrying transport and unmarshals the
// body into out.
func (c *Client) getJSON(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request for %s: %w", reqURL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.RetryableHTTPRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return fmt.Errorf("error unmarshalling response JSON: %w", err)
	}
	return nil
}

// GetModelDetails fetches details for a specific model ID.
func (c *Client) GetModelDetails(ctx context.Context, modelID string) (models.Model, error) {
	var model models.Model
	reqURL := fmt.Sprintf("%s/models/%s", c.BaseUrl, url.PathEscape(modelID))
	if err := c.getJSON(ctx, reqURL, &model); err != nil {
		return models.Model{}, fmt.Errorf("fetching model %s: %w", modelID, err)
	}
	return model, nil
}

// GetModelVersionDetails fetches details for a specific model version ID.
func (c *Client) GetModelVersionDetails(ctx context.Context, versionID string) (models.ModelVersion, error) {
	var version models.ModelVersion
	reqURL := fmt.Sprintf("%s/model-versions/%s", c.BaseUrl, url.PathEscape(versionID))
	if err := c.getJSON(ctx, reqURL, &version); err != nil {
		return models.ModelVersion{}, fmt.Errorf("fetching model version %s: %w", versionID, err)
	}
	return version, nil
}

// GetImagePage fetches one page of the paginated /images endpoint.
func (c *Client) GetImagePage(ctx context.Context, params models.GalleryParams) (models.GalleryPage, error) {
	var page models.GalleryPage
	reqURL := fmt.Sprintf("%s/images?%s", c.BaseUrl, ConvertGalleryParamsToURLValues(params).Encode())
	if err := c.getJSON(ctx, reqURL, &page); err != nil {
		return models.GalleryPage{}, fmt.Errorf("fetching image page %d: %w", params.Page, err)
	}
	return page, nil
}

// ConvertGalleryParamsToURLValues converts GalleryParams into url.Values
// for the /images endpoint. The nsfw parameter is omitted entirely when
// the filter mode is empty.
func ConvertGalleryParamsToURLValues(params models.GalleryParams) url.Values {
	values := url.Values{}
	values.Set("modelId", params.ModelID)
	if params.VersionID != "" {
		values.Set("modelVersionId", params.VersionID)
	}
	if params.Nsfw != "" {
		values.Set("nsfw", params.Nsfw)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	values.Set("limit", strconv.Itoa(limit))
	page := params.Page
	if page <= 0 {
		page = 1
	}
	values.Set("page", strconv.Itoa(page))
	return values
}
