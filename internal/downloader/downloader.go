// Package downloader streams model files and gallery images to disk.
// Files land in a temporary file first and are renamed into place only
// after the stream completes, so a half-written file never sits at the
// final path.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-civitai-fetch/internal/helpers"
	"go-civitai-fetch/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	ErrHashMismatch = errors.New("downloaded file hash mismatch")
	ErrHttpStatus   = errors.New("unexpected HTTP status code")
	ErrFileSystem   = errors.New("filesystem error")
	ErrHttpRequest  = errors.New("HTTP request creation/execution error")
)

// Downloader handles streaming downloads with skip-existing, bounded
// retry of transient failures, and optional post-download hash checks.
type Downloader struct {
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration

	// OnProgress, when set, receives cumulative bytes written and the
	// expected total (0 when the server sent no Content-Length).
	OnProgress func(written, total uint64)
}

// NewDownloader creates a Downloader. A nil client gets a long-timeout
// default suitable for multi-gigabyte transfers.
func NewDownloader(client *http.Client, cfg models.Config) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	retryDelay := time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Downloader{
		client:      client,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// FetchFile downloads url into destDir. The saved name comes from the
// Content-Disposition header when present, else fallbackFilename. Returns
// the saved filename and whether the transfer was skipped because the
// destination already existed. When verify is true and hashes are known,
// the finished file is checked and removed on mismatch.
func (d *Downloader) FetchFile(ctx context.Context, url, destDir, fallbackFilename string, hashes models.Hashes, verify bool) (string, bool, error) {
	if fileExists(filepath.Join(destDir, fallbackFilename)) {
		log.Infof("File %s already exists, skipping download", fallbackFilename)
		return fallbackFilename, true, nil
	}

	if !helpers.CheckAndMakeDir(destDir) {
		return "", false, fmt.Errorf("%w: failed to create directory %s", ErrFileSystem, destDir)
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		filename, skipped, err := d.attemptFile(ctx, url, destDir, fallbackFilename)
		if err == nil {
			if skipped {
				return filename, true, nil
			}
			if verify {
				if verifyErr := checkFinishedFile(filepath.Join(destDir, filename), hashes); verifyErr != nil {
					return "", false, verifyErr
				}
			}
			return filename, false, nil
		}

		if !isTransient(err) {
			return "", false, err
		}

		lastErr = err
		if attempt < d.maxAttempts {
			delay := d.retryDelay << (attempt - 1)
			log.WithError(err).Warnf("Transient download error (attempt %d/%d), retrying in %v", attempt, d.maxAttempts, delay)
			if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
				return "", false, sleepErr
			}
		}
	}

	return "", false, fmt.Errorf("download failed after %d attempts: %w", d.maxAttempts, lastErr)
}

// attemptFile performs one full request/stream/rename cycle.
func (d *Downloader) attemptFile(ctx context.Context, url, destDir, fallbackFilename string) (string, bool, error) {
	resp, err := d.get(ctx, url)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	filename := filenameFromResponse(resp)
	if filename == "" {
		filename = fallbackFilename
	}
	filename = filepath.Base(helpers.SanitizePath(filename))

	finalPath := filepath.Join(destDir, filename)
	if fileExists(finalPath) {
		log.Infof("File %s already exists, skipping download", filename)
		return filename, true, nil
	}

	if err := d.streamToPath(resp, finalPath); err != nil {
		return "", false, err
	}
	return filename, false, nil
}

// FetchImage downloads one gallery image into destDir under the given
// filename, skipping if it already exists. Transient failures are retried
// like file downloads.
func (d *Downloader) FetchImage(ctx context.Context, url, destDir, filename string) (bool, error) {
	finalPath := filepath.Join(destDir, filename)
	if fileExists(finalPath) {
		log.Debugf("Image %s already exists, skipping", filename)
		return true, nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := d.attemptImage(ctx, url, finalPath)
		if err == nil {
			return false, nil
		}
		if !isTransient(err) {
			return false, err
		}
		lastErr = err
		if attempt < d.maxAttempts {
			if sleepErr := sleepCtx(ctx, d.retryDelay<<(attempt-1)); sleepErr != nil {
				return false, sleepErr
			}
		}
	}
	return false, fmt.Errorf("image download failed after %d attempts: %w", d.maxAttempts, lastErr)
}

func (d *Downloader) attemptImage(ctx context.Context, url, finalPath string) error {
	resp, err := d.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return d.streamToPath(resp, finalPath)
}

// get performs the GET request and classifies the status code.
func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for %s: %w", ErrHttpRequest, url, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, url, err)
	}

	if resp.StatusCode != http.StatusOK {
		status := resp.StatusCode
		drainAndClose(resp)
		return nil, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, status, url)
	}
	return resp, nil
}

// streamToPath copies the response body into a temp file next to
// finalPath, then renames it into place.
func (d *Downloader) streamToPath(resp *http.Response, finalPath string) error {
	destDir := filepath.Dir(finalPath)
	tempFile, err := os.CreateTemp(destDir, filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temporary file in %s: %w", ErrFileSystem, destDir, err)
	}

	cleanup := true
	defer func() {
		if cleanup {
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	total, _ := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
	counter := &helpers.CounterWriter{Writer: tempFile}
	if d.OnProgress != nil {
		counter.OnWrite = func(written uint64) {
			d.OnProgress(written, total)
		}
	}

	if _, err := io.Copy(counter, resp.Body); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("writing to temporary file %s: %w", tempFile.Name(), err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("%w: closing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}

	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return fmt.Errorf("%w: renaming %s to %s: %w", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	cleanup = false
	return nil
}

// checkFinishedFile verifies the completed file against known hashes and
// removes it on mismatch, so a corrupt file never passes the
// skip-existing check on a later run.
func checkFinishedFile(path string, hashes models.Hashes) error {
	if hashes.SHA256 == "" && hashes.BLAKE3 == "" && hashes.CRC32 == "" {
		log.Debugf("No hashes known for %s, skipping verification", path)
		return nil
	}
	if !helpers.CheckHash(path, hashes) {
		if removeErr := os.Remove(path); removeErr != nil {
			log.WithError(removeErr).Warnf("Failed to remove corrupt file %s", path)
		}
		return fmt.Errorf("%w: %s", ErrHashMismatch, path)
	}
	log.Debugf("Hash verified for %s", path)
	return nil
}

// filenameFromResponse extracts the filename from the Content-Disposition
// header, returning "" when absent or unparseable.
func filenameFromResponse(resp *http.Response) string {
	contentDisposition := resp.Header.Get("Content-Disposition")
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		log.WithError(err).Warnf("Could not parse Content-Disposition header: %s", contentDisposition)
		return ""
	}
	return params["filename"]
}

// isTransient reports whether an error is worth retrying: connection and
// stream failures, and 5xx/429 statuses. Other HTTP statuses and
// filesystem errors are final.
func isTransient(err error) bool {
	if errors.Is(err, ErrFileSystem) || errors.Is(err, ErrHashMismatch) {
		return false
	}
	if errors.Is(err, ErrHttpStatus) {
		var status int
		if _, scanErr := fmt.Sscanf(errStatusPart(err), "received status %d", &status); scanErr == nil {
			return status == http.StatusTooManyRequests || status == 524 || status >= 500
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Connection resets, timeouts, chunked-encoding errors arrive as
	// wrapped transport or copy errors.
	return true
}

func errStatusPart(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, "received status"); idx >= 0 {
		return msg[idx:]
	}
	return msg
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
