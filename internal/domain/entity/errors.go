package entity

import "errors"

// Pipeline-fatal errors. A sampler failure aborts the run before any frame is
// dispatched; callers must not conflate these with per-frame failures, which
// are absorbed into the report.
var (
	ErrInvalidConfiguration = errors.New("invalid sampling configuration")
	ErrSourceNotFound       = errors.New("video source not found")
	ErrExtractionFailed     = errors.New("frame extraction failed")
	ErrNoFramesProduced     = errors.New("no frames produced")
	ErrNoFramesProcessed    = errors.New("no frames processed")
	ErrAllFramesFailed      = errors.New("all frames failed detection")
)

// FailureKind classifies a per-frame detection failure.
type FailureKind string

const (
	// FailureWorkerUnreachable covers transport-level failures (connection
	// refused, timeout, DNS, 5xx). Retryable.
	FailureWorkerUnreachable FailureKind = "worker_unreachable"

	// FailureWorkerRejected is an application error reported by the worker
	// in a well-formed payload. Not retryable.
	FailureWorkerRejected FailureKind = "worker_rejected"

	// FailureMalformedResponse is a response the client could not parse as
	// a valid detection count. Not retryable.
	FailureMalformedResponse FailureKind = "malformed_response"
)

// WorkerError is a classified failure from one detection attempt.
type WorkerError struct {
	Kind    FailureKind
	Message string
}

func (e *WorkerError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Retryable reports whether the failure is transient. Rejections and
// malformed responses indicate a data problem and repeat deterministically.
func (e *WorkerError) Retryable() bool {
	return e.Kind == FailureWorkerUnreachable
}

// AsWorkerError unwraps err into a *WorkerError if it is one.
func AsWorkerError(err error) (*WorkerError, bool) {
	var we *WorkerError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
