package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-civitai-fetch/internal/models"
)

func fastClient(maxRetries int) *Client {
	return NewClient("test-key", &http.Client{}, models.Config{
		MaxRetries:          maxRetries,
		InitialRetryDelayMs: 10,
	})
}

// TestNewClient tests the API client creation defaults
func TestNewClient(t *testing.T) {
	apiKey := "test-api-key"

	client := NewClient(apiKey, nil, models.Config{})

	if client.ApiKey != apiKey {
		t.Errorf("Expected API key %s, got %s", apiKey, client.ApiKey)
	}

	if client.HttpClient == nil {
		t.Fatal("Expected HTTP client to be initialized")
	}

	if client.HttpClient.Timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", client.HttpClient.Timeout)
	}

	if client.MaxAttempts != 5 {
		t.Errorf("Expected default attempt cap 5, got %d", client.MaxAttempts)
	}

	if client.RetryDelay != time.Second {
		t.Errorf("Expected default retry delay 1s, got %v", client.RetryDelay)
	}

	if client.BaseUrl != CivitaiApiBaseUrl {
		t.Errorf("Expected base URL %s, got %s", CivitaiApiBaseUrl, client.BaseUrl)
	}
}

// TestRetryableHTTPRequest_Success tests successful HTTP requests
func TestRetryableHTTPRequest_Success(t *testing.T) {
	var receivedAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "success"}`))
	}))
	defer server.Close()

	client := fastClient(3)

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.RetryableHTTPRequest(req)
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if receivedAuth != "Bearer test-key" {
		t.Errorf("Expected bearer auth header, got %q", receivedAuth)
	}
}

// TestRetryableHTTPRequest_RetryAfterHonored verifies the Retry-After header
// is honored exactly: 429 with Retry-After: 2 twice, then success, should
// take roughly 4 seconds and exactly 3 requests.
func TestRetryableHTTPRequest_RetryAfterHonored(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping slow Retry-After test in short mode")
	}

	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount <= 2 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "rate limited"}`))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "success"}`))
		}
	}))
	defer server.Close()

	client := fastClient(5)

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	start := time.Now()
	resp, err := client.RetryableHTTPRequest(req)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Expected success after retries, got error: %v", err)
	}
	resp.Body.Close()

	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}

	// Two waits of 2s each, as instructed by the server.
	if duration < 4*time.Second {
		t.Errorf("Expected at least 4s of Retry-After waiting, took %v", duration)
	}
	if duration > 6*time.Second {
		t.Errorf("Waited far longer than Retry-After instructed: %v", duration)
	}
}

// TestRetryableHTTPRequest_RateLimitBackoff tests exponential backoff when
// no Retry-After header is supplied.
func TestRetryableHTTPRequest_RateLimitBackoff(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "rate limited"}`))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "success"}`))
		}
	}))
	defer server.Close()

	client := fastClient(5)

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	start := time.Now()
	resp, err := client.RetryableHTTPRequest(req)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Expected success after retries, got error: %v", err)
	}
	resp.Body.Close()

	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}

	// Backoff is base*1 then base*2 with a 10ms base.
	if duration < 30*time.Millisecond {
		t.Errorf("Expected backoff delays between retries, took %v", duration)
	}
}

// TestRetryableHTTPRequest_MaxRetries tests that the attempt cap is respected
func TestRetryableHTTPRequest_MaxRetries(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	client := fastClient(3)

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	_, err = client.RetryableHTTPRequest(req)

	if err == nil {
		t.Fatal("Expected error after max retries, got success")
	}

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}

	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected error to carry the rate-limit cause, got %v", err)
	}

	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts (max retries), got %d", attemptCount)
	}
}

// TestRetryableHTTPRequest_Unauthorized tests that auth errors never retry
func TestRetryableHTTPRequest_Unauthorized(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		attemptCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptCount++
			w.WriteHeader(status)
			w.Write([]byte(`{"error": "unauthorized"}`))
		}))

		client := fastClient(3)

		req, err := http.NewRequest("GET", server.URL, nil)
		if err != nil {
			t.Fatalf("Failed to create request: %v", err)
		}

		_, err = client.RetryableHTTPRequest(req)

		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Status %d: expected ErrUnauthorized, got %v", status, err)
		}

		if attemptCount != 1 {
			t.Errorf("Status %d: expected 1 attempt (no retry), got %d", status, attemptCount)
		}
		server.Close()
	}
}

// TestRetryableHTTPRequest_NotFound tests not found responses
func TestRetryableHTTPRequest_NotFound(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not found"}`))
	}))
	defer server.Close()

	client := fastClient(3)

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	_, err = client.RetryableHTTPRequest(req)

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if attemptCount != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attemptCount)
	}
}

// TestRetryableHTTPRequest_ClientError tests that other 4xx codes fail fast
func TestRetryableHTTPRequest_ClientError(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad request"}`))
	}))
	defer server.Close()

	client := fastClient(3)

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	_, err = client.RetryableHTTPRequest(req)

	if err == nil {
		t.Fatal("Expected error for bad request, got success")
	}

	if !strings.Contains(err.Error(), "status 400") {
		t.Errorf("Expected status 400 in error, got %v", err)
	}

	if attemptCount != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attemptCount)
	}
}

// TestAPIErrorHandling tests retry classification across status codes
func TestAPIErrorHandling(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		expectedError error
		shouldRetry   bool
	}{
		{"Success", http.StatusOK, nil, false},
		{"Rate Limited", http.StatusTooManyRequests, ErrRateLimited, true},
		{"Origin Timeout", 524, ErrRateLimited, true},
		{"Unauthorized", http.StatusUnauthorized, ErrUnauthorized, false},
		{"Forbidden", http.StatusForbidden, ErrUnauthorized, false},
		{"Not Found", http.StatusNotFound, ErrNotFound, false},
		{"Server Error", http.StatusInternalServerError, ErrServerError, true},
		{"Service Unavailable", http.StatusServiceUnavailable, ErrServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attemptCount := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attemptCount++
				w.WriteHeader(tt.statusCode)
				if tt.statusCode == http.StatusOK {
					w.Write([]byte(`{"status": "success"}`))
				} else {
					w.Write([]byte(`{"error": "test error"}`))
				}
			}))
			defer server.Close()

			client := fastClient(3)

			req, err := http.NewRequest("GET", server.URL, nil)
			if err != nil {
				t.Fatalf("Failed to create request: %v", err)
			}

			resp, err := client.RetryableHTTPRequest(req)

			if tt.expectedError == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				} else {
					resp.Body.Close()
				}
			} else {
				if err == nil {
					t.Errorf("Expected error %v, got none", tt.expectedError)
				} else if !errors.Is(err, tt.expectedError) {
					t.Errorf("Expected error %v, got %v", tt.expectedError, err)
				}
			}

			expectedAttempts := 1
			if tt.shouldRetry {
				expectedAttempts = 3
			}

			if attemptCount != expectedAttempts {
				t.Errorf("Expected %d attempts, got %d", expectedAttempts, attemptCount)
			}
		})
	}
}

// TestGetModelDetails tests the typed model endpoint against a mock server
func TestGetModelDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/1102" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id": 1102, "name": "Test Model", "nsfw": true, "tags": ["anime"]}`))
	}))
	defer server.Close()

	client := fastClient(3)
	client.BaseUrl = server.URL

	model, err := client.GetModelDetails(context.Background(), "1102")
	if err != nil {
		t.Fatalf("GetModelDetails failed: %v", err)
	}

	if model.ID != 1102 {
		t.Errorf("Expected model ID 1102, got %d", model.ID)
	}
	if model.Name != "Test Model" {
		t.Errorf("Expected name 'Test Model', got %q", model.Name)
	}
	if !model.Nsfw {
		t.Error("Expected nsfw flag to be set")
	}
}

// TestGetModelVersionDetails tests the model-versions endpoint path
func TestGetModelVersionDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model-versions/7744" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id": 7744, "modelId": 1102, "name": "v1.0", "baseModel": "SD 1.5"}`))
	}))
	defer server.Close()

	client := fastClient(3)
	client.BaseUrl = server.URL

	version, err := client.GetModelVersionDetails(context.Background(), "7744")
	if err != nil {
		t.Fatalf("GetModelVersionDetails failed: %v", err)
	}

	if version.ID != 7744 || version.ModelId != 1102 {
		t.Errorf("Unexpected version payload: %+v", version)
	}
}

// TestGetImagePage tests the images endpoint query construction end to end
func TestGetImagePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("modelId") != "42" {
			t.Errorf("Expected modelId=42, got %q", q.Get("modelId"))
		}
		if q.Get("page") != "2" {
			t.Errorf("Expected page=2, got %q", q.Get("page"))
		}
		if q.Get("nsfw") != "false" {
			t.Errorf("Expected nsfw=false, got %q", q.Get("nsfw"))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"items": [{"id": 1, "url": "https://img/1.png"}], "metadata": {"currentPage": 2}}`))
	}))
	defer server.Close()

	client := fastClient(3)
	client.BaseUrl = server.URL

	page, err := client.GetImagePage(context.Background(), models.GalleryParams{
		ModelID: "42",
		Nsfw:    "false",
		Page:    2,
		Limit:   100,
	})
	if err != nil {
		t.Fatalf("GetImagePage failed: %v", err)
	}

	if len(page.Items) != 1 || page.Items[0].ID != 1 {
		t.Errorf("Unexpected page payload: %+v", page)
	}
}

// TestConvertGalleryParamsToURLValues tests parameter defaulting and omission
func TestConvertGalleryParamsToURLValues(t *testing.T) {
	t.Run("nsfw omitted when unset", func(t *testing.T) {
		values := ConvertGalleryParamsToURLValues(models.GalleryParams{ModelID: "7"})
		if _, ok := values["nsfw"]; ok {
			t.Error("Expected nsfw parameter to be omitted")
		}
		if values.Get("limit") != "100" {
			t.Errorf("Expected default limit 100, got %q", values.Get("limit"))
		}
		if values.Get("page") != "1" {
			t.Errorf("Expected default page 1, got %q", values.Get("page"))
		}
	})

	t.Run("version and nsfw included when set", func(t *testing.T) {
		values := ConvertGalleryParamsToURLValues(models.GalleryParams{
			ModelID:   "7",
			VersionID: "99",
			Nsfw:      "true",
			Page:      3,
			Limit:     50,
		})
		if values.Get("modelVersionId") != "99" {
			t.Errorf("Expected modelVersionId=99, got %q", values.Get("modelVersionId"))
		}
		if values.Get("nsfw") != "true" {
			t.Errorf("Expected nsfw=true, got %q", values.Get("nsfw"))
		}
		if values.Get("limit") != "50" || values.Get("page") != "3" {
			t.Errorf("Unexpected limit/page: %q/%q", values.Get("limit"), values.Get("page"))
		}
	})
}

// TestRetryableHTTPRequest_ContextCancel verifies cancellation interrupts
// backoff waits instead of sleeping through them.
func TestRetryableHTTPRequest_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := fastClient(5)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = client.RetryableHTTPRequest(req)
	duration := time.Since(start)

	if err == nil {
		t.Fatal("Expected cancellation error, got success")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if duration > 2*time.Second {
		t.Errorf("Cancellation took too long: %v", duration)
	}
}
