package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"photo-indexer/internal/logging"
)

// RetryConfig configures retry behavior for filesystem operations
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Volume labels metrics for this operation. Empty resolves against the
	// package-level library root.
	Volume string
}

// DefaultRetryConfig returns the defaults used for library reads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

var libraryRoot string

// SetLibraryRoot records the library root so retry metrics can tell library
// reads apart from everything else.
func SetLibraryRoot(root string) {
	if root == "" {
		libraryRoot = ""
		return
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	libraryRoot = strings.TrimSuffix(root, "/")
}

func (c RetryConfig) volume(path string) string {
	if c.Volume != "" {
		return c.Volume
	}
	if libraryRoot != "" && (path == libraryRoot || strings.HasPrefix(path, libraryRoot+"/")) {
		return "library"
	}
	return "other"
}

// isRetryableError reports whether err is worth another attempt: stale NFS
// handles and interrupted or would-block syscalls.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ESTALE, syscall.EAGAIN, syscall.EINTR:
			return true
		}
	}
	return false
}

func withRetry[T any](op, path string, config RetryConfig, fn func() (T, error)) (T, error) {
	start := time.Now()
	volume := config.volume(path)
	obs := observe()
	backoff := config.InitialBackoff

	var zero T
	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			if attempt > 0 {
				logging.Info("%s succeeded on retry %d for %s", op, attempt, path)
				if obs != nil {
					obs.ObserveRetrySuccess(op, volume)
				}
			}
			if obs != nil {
				obs.ObserveOperation(volume, op, time.Since(start).Seconds(), nil)
			}
			return result, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			if obs != nil {
				obs.ObserveOperation(volume, op, time.Since(start).Seconds(), err)
			}
			return zero, err
		}
		if obs != nil {
			obs.ObserveStaleError(op, volume)
		}

		if attempt < config.MaxRetries {
			if obs != nil {
				obs.ObserveRetryAttempt(op, volume)
			}
			logging.Debug("%s failed for %s, retrying in %v (attempt %d/%d): %v",
				op, path, backoff, attempt+1, config.MaxRetries, err)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("%s failed after %d retries for %s: %v", op, config.MaxRetries, path, lastErr)
	if obs != nil {
		obs.ObserveRetryFailure(op, volume)
		obs.ObserveRetryDuration(op, volume, time.Since(start).Seconds())
		obs.ObserveOperation(volume, op, time.Since(start).Seconds(), lastErr)
	}
	return zero, lastErr
}

// StatWithRetry performs os.Stat, retrying stale handles and interrupted calls.
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	return withRetry("stat", path, config, func() (os.FileInfo, error) {
		return os.Stat(path)
	})
}

// OpenWithRetry performs os.Open, retrying stale handles and interrupted calls.
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	return withRetry("open", path, config, func() (*os.File, error) {
		return os.Open(path)
	})
}

// ReadDirWithRetry performs os.ReadDir, retrying stale handles and interrupted calls.
func ReadDirWithRetry(path string, config RetryConfig) ([]fs.DirEntry, error) {
	return withRetry("readdir", path, config, func() ([]fs.DirEntry, error) {
		return os.ReadDir(path)
	})
}
