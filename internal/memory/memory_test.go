package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig(limit int64) Config {
	cfg := DefaultConfig()
	cfg.LimitBytes = limit
	cfg.CheckInterval = 10 * time.Millisecond
	return cfg
}

func TestNewMonitorExplicitLimit(t *testing.T) {
	m := NewMonitor(testConfig(100 << 20))
	if m.Limit() != 100<<20 {
		t.Errorf("Expected limit %d, got %d", 100<<20, m.Limit())
	}
	if m.IsPaused() {
		t.Error("New monitor should not be paused")
	}
}

func TestUpdatePausesAndResumes(t *testing.T) {
	m := NewMonitor(testConfig(1000))

	m.update(900)
	if !m.IsPaused() {
		t.Fatal("Expected pause above critical water mark")
	}
	if !m.ShouldThrottle() {
		t.Error("Expected throttle above high water mark")
	}

	done := make(chan error, 1)
	go func() { done <- m.WaitIfPaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	// Between the marks: still paused (hysteresis).
	m.update(750)
	if !m.IsPaused() {
		t.Error("Expected monitor to stay paused between water marks")
	}

	m.update(100)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil after resume, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after resume")
	}
	if m.ShouldThrottle() {
		t.Error("Expected no throttle after recovery")
	}
}

func TestWaitIfPausedHonorsContext(t *testing.T) {
	m := NewMonitor(testConfig(1000))
	m.update(990)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.WaitIfPaused(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWaitIfPausedNilMonitor(t *testing.T) {
	var m *Monitor
	if err := m.WaitIfPaused(context.Background()); err != nil {
		t.Errorf("Expected nil for nil monitor, got %v", err)
	}
	if m.IsConstrained() || m.IsPaused() || m.ShouldThrottle() {
		t.Error("Nil monitor should report no pressure")
	}
}

func TestIsConstrained(t *testing.T) {
	tests := []struct {
		name  string
		limit int64
		force bool
		want  bool
	}{
		{"small host", 512 << 20, false, true},
		{"at threshold", DefaultConstrainedLimit, false, true},
		{"large host", 8 << 30, false, false},
		{"forced", 8 << 30, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.limit)
			cfg.ForceConstrained = tt.force
			if got := NewMonitor(cfg).IsConstrained(); got != tt.want {
				t.Errorf("IsConstrained() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	m := NewMonitor(testConfig(1 << 40))
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestMonitorConfigFromResult(t *testing.T) {
	r := ConfigResult{GoMemLimit: 1 << 30, LowMemory: true}
	cfg := r.MonitorConfig()
	if cfg.LimitBytes != 1<<30 {
		t.Errorf("Expected limit %d, got %d", 1<<30, cfg.LimitBytes)
	}
	if !cfg.ForceConstrained {
		t.Error("Expected ForceConstrained from LOW_MEMORY")
	}
}

func TestConfigureFromEnvInvalid(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	t.Setenv("MEMORY_LIMIT", "lots")
	t.Setenv("LOW_MEMORY", "yes")

	result := ConfigureFromEnv()
	if result.Configured {
		t.Error("Expected invalid MEMORY_LIMIT to leave the limit unconfigured")
	}
	if result.Source != "none" {
		t.Errorf("Expected source none, got %s", result.Source)
	}
	if !result.LowMemory {
		t.Error("Expected LowMemory from LOW_MEMORY=yes")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 << 20, "3.0 MiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
