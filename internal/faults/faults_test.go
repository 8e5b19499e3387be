package faults

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errors.New("disk gone")
	err := Wrap(ErrTransient, "enrich", "open", "reading exif", cause)

	if !errors.Is(err, ErrTransient) {
		t.Error("Expected wrapped error to match ErrTransient")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected wrapped error to match its cause")
	}
	want := "transient failure: enrich: open: reading exif: disk gone"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestWrapDefaults(t *testing.T) {
	err := Wrap(nil, "", " ", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Error("Expected nil marker to default to ErrTransient")
	}
	if !strings.HasSuffix(err.Error(), "indexer failure") {
		t.Errorf("Expected default detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"cancelled", fmt.Errorf("stage: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"explicit transient", Transient("source", "walk", errors.New("x")), KindTransient},
		{"explicit persistence", Persistence("db", "upsert", errors.New("x")), KindPersistence},
		{"explicit data", Data("enrich", "exif", errors.New("x")), KindData},
		{"configuration", Wrap(ErrConfiguration, "geocode", "open", "", nil), KindConfiguration},
		{"stale handle", &os.PathError{Op: "open", Path: "/x", Err: syscall.ESTALE}, KindTransient},
		{"permission revoked", &os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, KindTransient},
		{"fs permission", fs.ErrPermission, KindTransient},
		{"missing file", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, KindUnknown},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, KindTransient},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, KindPersistence},
		{"sqlite corrupt", fmt.Errorf("query: %w", sqlite3.Error{Code: sqlite3.ErrCorrupt}), KindPersistence},
		{"plain", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarkerBeatsInference(t *testing.T) {
	err := Persistence("db", "insert", &os.PathError{Op: "write", Path: "/db", Err: syscall.EIO})
	if Classify(err) != KindPersistence {
		t.Errorf("Expected explicit persistence marker to win, got %v", Classify(err))
	}
	if Retryable(err) {
		t.Error("Persistence errors must not be retryable")
	}
}

func TestKindString(t *testing.T) {
	if KindTransient.String() != "transient" {
		t.Errorf("Expected transient, got %s", KindTransient.String())
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("Expected unknown, got %s", Kind(99).String())
	}
}

func TestStorage(t *testing.T) {
	if Storage("c", "op", nil) != nil {
		t.Error("Storage(nil) should be nil")
	}

	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	if got := Classify(Storage("c", "op", busy)); got != KindTransient {
		t.Errorf("busy classified as %v, want transient", got)
	}
	if got := Classify(Storage("c", "op", errors.New("disk image is malformed"))); got != KindPersistence {
		t.Errorf("generic classified as %v, want persistence", got)
	}
	if err := Storage("c", "op", context.Canceled); err != context.Canceled {
		t.Errorf("cancellation should pass through, got %v", err)
	}
}
