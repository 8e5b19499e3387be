/*
Package filesystem wraps the library reads done by the source walker and the
metadata enricher with bounded retry.

Only stale NFS handles (ESTALE) and interrupted or would-block calls (EINTR,
EAGAIN) are retried, with exponential backoff capped at MaxBackoff. Every other
error is returned on the first attempt so the caller can classify it.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Defaults: 3 retries, 50ms initial backoff, 500ms cap.

Metrics are reported through an Observer installed with SetObserver; with no
observer installed nothing is recorded.
*/
package filesystem
