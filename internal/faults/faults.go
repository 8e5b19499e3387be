package faults

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrPersistence   = errors.New("persistence failure")
	ErrData          = errors.New("data error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// Kind is the coarse failure class a stage error falls into.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindPersistence
	KindData
	KindCancelled
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPersistence:
		return "persistence"
	case KindData:
		return "data"
	case KindCancelled:
		return "cancelled"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Wrap builds an error message carrying component context while tagging it with
// marker for later classification. marker should be one of the sentinels above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Transient tags err as retryable I/O.
func Transient(component, operation string, err error) error {
	return Wrap(ErrTransient, component, operation, "", err)
}

// Persistence tags err as a storage failure.
func Persistence(component, operation string, err error) error {
	return Wrap(ErrPersistence, component, operation, "", err)
}

// Data tags err as malformed input.
func Data(component, operation string, err error) error {
	return Wrap(ErrData, component, operation, "", err)
}

// Storage tags an error returned by the index store. Busy and locked
// databases stay transient, cancellation passes through unchanged, and
// anything else is a persistence failure.
func Storage(component, operation string, err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case KindCancelled:
		return err
	case KindTransient:
		return Transient(component, operation, err)
	default:
		return Persistence(component, operation, err)
	}
}

// Classify inspects err and reports which failure class it belongs to. Explicit
// markers win over inferred ones.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrData):
		return KindData
	case errors.Is(err, ErrTransient):
		return KindTransient
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return KindTransient
		default:
			return KindPersistence
		}
	}

	if IsTransientIO(err) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// IsTransientIO reports whether err is an I/O failure worth retrying: stale NFS
// handles, interrupted or busy calls, and permission revoked mid-pass.
func IsTransientIO(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ESTALE, syscall.EAGAIN, syscall.EINTR, syscall.EIO,
			syscall.EBUSY, syscall.ETIMEDOUT, syscall.EACCES, syscall.EPERM:
			return true
		}
		return false
	}
	return errors.Is(err, fs.ErrPermission)
}

// Retryable reports whether the orchestrator should run the failed stage again.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "indexer failure"
	}
	return strings.Join(parts, ": ")
}
