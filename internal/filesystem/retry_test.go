package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"
)

type recordingObserver struct {
	mu         sync.Mutex
	operations []string
	errors     int
	attempts   int
	failures   int
}

func (r *recordingObserver) ObserveOperation(volume, operation string, _ float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations = append(r.operations, volume+":"+operation)
	if err != nil {
		r.errors++
	}
}

func (r *recordingObserver) ObserveRetryAttempt(string, string) {
	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()
}

func (r *recordingObserver) ObserveRetrySuccess(string, string) {}

func (r *recordingObserver) ObserveRetryFailure(string, string) {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

func (r *recordingObserver) ObserveRetryDuration(string, string, float64) {}
func (r *recordingObserver) ObserveStaleError(string, string)             {}

func installObserver(t *testing.T) *recordingObserver {
	t.Helper()
	obs := &recordingObserver{}
	SetObserver(obs)
	t.Cleanup(func() { SetObserver(nil) })
	return obs
}

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.InitialBackoff != 50*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 50ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 500*time.Millisecond {
		t.Errorf("MaxBackoff = %v, want 500ms", config.MaxBackoff)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ESTALE", syscall.ESTALE, true},
		{"EAGAIN", syscall.EAGAIN, true},
		{"EINTR wrapped", &os.PathError{Op: "open", Path: "/x", Err: syscall.EINTR}, true},
		{"ENOENT", syscall.ENOENT, false},
		{"not exist", os.ErrNotExist, false},
		{"generic", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithRetryRecoversAfterStaleHandle(t *testing.T) {
	obs := installObserver(t)

	calls := 0
	got, err := withRetry("stat", "/library/a.jpg", fastConfig(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, syscall.ESTALE
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
	if obs.attempts != 1 {
		t.Errorf("Expected 1 retry attempt recorded, got %d", obs.attempts)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	obs := installObserver(t)

	calls := 0
	_, err := withRetry("open", "/x", fastConfig(), func() (struct{}, error) {
		calls++
		return struct{}{}, syscall.ESTALE
	})
	if !errors.Is(err, syscall.ESTALE) {
		t.Errorf("Expected ESTALE, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls (1 + 2 retries), got %d", calls)
	}
	if obs.failures != 1 {
		t.Errorf("Expected 1 failure recorded, got %d", obs.failures)
	}
}

func TestWithRetryNonRetryableFailsFast(t *testing.T) {
	calls := 0
	_, err := withRetry("stat", "/x", fastConfig(), func() (int, error) {
		calls++
		return 0, os.ErrNotExist
	})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single call, got %d", calls)
	}
}

func TestStatOpenReadDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}

	SetLibraryRoot(dir)
	t.Cleanup(func() { SetLibraryRoot("") })
	obs := installObserver(t)

	info, err := StatWithRetry(path, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("StatWithRetry failed: %v", err)
	}
	if info.Size() != 4 {
		t.Errorf("Expected size 4, got %d", info.Size())
	}

	f, err := OpenWithRetry(path, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("OpenWithRetry failed: %v", err)
	}
	_ = f.Close()

	entries, err := ReadDirWithRetry(dir, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("ReadDirWithRetry failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(entries))
	}

	if _, err := StatWithRetry(filepath.Join(dir, "missing.jpg"), DefaultRetryConfig()); err == nil {
		t.Error("Expected error for missing file")
	}

	if len(obs.operations) != 4 {
		t.Fatalf("Expected 4 observed operations, got %d", len(obs.operations))
	}
	if obs.operations[0] != "library:stat" {
		t.Errorf("Expected library volume label, got %s", obs.operations[0])
	}
	if obs.errors != 1 {
		t.Errorf("Expected 1 errored operation, got %d", obs.errors)
	}
}

func TestVolumeLabel(t *testing.T) {
	SetLibraryRoot("/library")
	t.Cleanup(func() { SetLibraryRoot("") })

	tests := []struct {
		path   string
		config RetryConfig
		want   string
	}{
		{"/library", RetryConfig{}, "library"},
		{"/library/DCIM/a.jpg", RetryConfig{}, "library"},
		{"/library2/a.jpg", RetryConfig{}, "other"},
		{"/data/index.db", RetryConfig{}, "other"},
		{"/data/cities.txt", RetryConfig{Volume: "reference"}, "reference"},
	}
	for _, tt := range tests {
		if got := tt.config.volume(tt.path); got != tt.want {
			t.Errorf("volume(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
