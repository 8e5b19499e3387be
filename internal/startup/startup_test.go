package startup

import (
	"runtime"
	"testing"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Version not set")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.OS != runtime.GOOS || info.Arch != runtime.GOARCH {
		t.Errorf("platform = %s/%s, want %s/%s", info.OS, info.Arch, runtime.GOOS, runtime.GOARCH)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("PI_TEST_SET", "custom")
	t.Setenv("PI_TEST_EMPTY", "")

	tests := []struct {
		key  string
		want string
	}{
		{"PI_TEST_SET", "custom"},
		{"PI_TEST_EMPTY", ""},
		{"PI_TEST_UNSET_9F3A", "fallback"},
	}
	for _, tt := range tests {
		if got := getEnv(tt.key, "fallback"); got != tt.want {
			t.Errorf("getEnv(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		set      bool
		fallback bool
		want     bool
	}{
		{set: false, fallback: true, want: true},
		{set: false, fallback: false, want: false},
		{value: "", set: true, fallback: true, want: true},
		{value: "true", set: true, fallback: false, want: true},
		{value: "1", set: true, fallback: false, want: true},
		{value: "TRUE", set: true, fallback: false, want: true},
		{value: "false", set: true, fallback: true, want: false},
		{value: "0", set: true, fallback: true, want: false},
		{value: "yes", set: true, fallback: true, want: true},
		{value: "yes", set: true, fallback: false, want: false},
	}

	for _, tt := range tests {
		name := tt.value
		if !tt.set {
			name = "unset"
		}
		t.Run(name, func(t *testing.T) {
			const key = "PI_TEST_BOOL"
			if tt.set {
				t.Setenv(key, tt.value)
			} else {
				t.Setenv(key, "")
			}
			if got := getEnvBool(key, tt.fallback); got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.want)
			}
		})
	}
}
