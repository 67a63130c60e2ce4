package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"go-civitai-fetch/internal/helpers"

	log "github.com/sirupsen/logrus"
)

var (
	activeLoggingTransports []*LoggingTransport
	transportsMu            sync.Mutex
)

// LoggingTransport wraps an http.RoundTripper and appends full request and
// response dumps to a log file. Enabled via the LogApiRequests setting.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	writer    *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport opens logFilePath for appending and returns a transport
// that mirrors all traffic into it.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	safePath := helpers.SanitizePath(logFilePath)
	// #nosec G304
	f, err := os.OpenFile(safePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", safePath, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	lt := &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}

	transportsMu.Lock()
	activeLoggingTransports = append(activeLoggingTransports, lt)
	transportsMu.Unlock()

	return lt, nil
}

// RoundTrip executes the HTTP transaction and logs both sides of it.
// The lock only covers file writes, never the network request itself.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
	} else {
		t.mu.Lock()
		t.writeEntry(fmt.Sprintf("--- Request (%s) ---\n%s\n", start.Format(time.RFC3339), string(reqDump)))
		t.mu.Unlock()
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.writeEntry(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s\n", duration, err.Error()))
	} else if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respDump, _ := httputil.DumpResponse(resp, false)
			t.writeEntry(fmt.Sprintf("--- Response Headers (Duration: %v) ---\n%s\n(Body read failed)\n", duration, string(respDump)))
		} else {
			if closeErr := resp.Body.Close(); closeErr != nil {
				log.WithError(closeErr).Warn("Failed to close response body before replacing it")
			}
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			respDump, _ := httputil.DumpResponse(resp, false)
			t.writeEntry(fmt.Sprintf("--- Response (Duration: %v) ---\n%s\n%s\n", duration, string(respDump), string(bodyBytes)))
		}
	} else {
		// Binary bodies (model files, images) are not worth mirroring.
		respDump, _ := httputil.DumpResponse(resp, false)
		t.writeEntry(fmt.Sprintf("--- Response Headers (Duration: %v) ---\n%s\n(Body not logged)\n", duration, string(respDump)))
	}

	if errFlush := t.writer.Flush(); errFlush != nil {
		log.WithError(errFlush).Error("Failed to flush API log writer")
	}

	return resp, err
}

func (t *LoggingTransport) writeEntry(entry string) {
	if _, err := t.writer.WriteString(entry + "\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}

// CloseAllLoggingTransports closes every transport opened during this run.
// Called once on process exit.
func CloseAllLoggingTransports() {
	transportsMu.Lock()
	defer transportsMu.Unlock()

	for _, t := range activeLoggingTransports {
		if err := t.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing logging transport for %s: %v\n", t.logFile.Name(), err)
		}
	}
	activeLoggingTransports = nil
}
