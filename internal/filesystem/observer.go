package filesystem

import "sync/atomic"

// Observer records filesystem operation metrics. The metrics package provides
// the Prometheus implementation so this package stays free of that import.
type Observer interface {
	// ObserveOperation records duration and error status for an operation
	// ("stat", "open", "readdir") against a volume label ("library", "other").
	ObserveOperation(volume, operation string, durationSeconds float64, err error)

	ObserveRetryAttempt(retryOp, volume string)
	ObserveRetrySuccess(retryOp, volume string)
	ObserveRetryFailure(retryOp, volume string)
	ObserveRetryDuration(retryOp, volume string, durationSeconds float64)
	ObserveStaleError(retryOp, volume string)
}

type observerHolder struct{ o Observer }

var defaultObserver atomic.Pointer[observerHolder]

// SetObserver sets the package-level metrics observer. nil disables recording.
func SetObserver(o Observer) {
	defaultObserver.Store(&observerHolder{o: o})
}

func observe() Observer {
	if h := defaultObserver.Load(); h != nil {
		return h.o
	}
	return nil
}
