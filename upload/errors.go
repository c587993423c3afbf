package upload

import (
	"errors"
	"fmt"
)

// Kind classifies a failed upload.
type Kind int

const (
	// KindTransientNetwork is a dropped connection, a timeout or an unexpected status while
	// transferring. Rerunning resumes the upload from the server's offset.
	KindTransientNetwork Kind = iota + 1
	// KindValidationRejected means the server refused the upload (4xx), or redirected a write.
	KindValidationRejected
	// KindServerFault is a 5xx or an unparseable success on finalize.
	KindServerFault
	// KindUnhandledResponse is a response matching none of the protocol's outcomes.
	KindUnhandledResponse
	// KindUnsupportedChecksum means the server asked for a digest algorithm shippy cannot compute.
	KindUnsupportedChecksum
	// KindCanceled means the context was cancelled, usually while waiting out a rate limit.
	KindCanceled
	// KindLocal is a local file system failure.
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient network error"
	case KindValidationRejected:
		return "validation rejected"
	case KindServerFault:
		return "server fault"
	case KindUnhandledResponse:
		return "unhandled response"
	case KindUnsupportedChecksum:
		return "unsupported checksum"
	case KindCanceled:
		return "canceled"
	case KindLocal:
		return "local error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operator facing messages.
const (
	msgUnknownUploadError = "An unknown error occurred while uploading the build. Rerun shippy to resume the upload."
	msgUnknownResponse    = "An unknown error occurred parsing the response."
	msgInternalError      = "An internal server error occurred. Please contact the admins."
)

// Error is the single error type returned by Session.Run and Orchestrator.Upload.
type Error struct {
	Kind  Kind
	Phase State
	// Message is the operator facing reason, taken from the server when it sent one.
	Message    string
	URL        string
	StatusCode int
	// Body is the response body, compacted if it was JSON.
	Body string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindUnhandledResponse && e.Err != nil {
		return e.Err.Error()
	}

	var msg string
	switch {
	case e.Message != "":
		msg = e.Message
	case e.Err != nil:
		msg = e.Err.Error()
	default:
		msg = e.Kind.String()
	}

	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Phase, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Phase, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether rerunning the upload may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransientNetwork
}

// IsRetryable reports whether err is an upload error worth rerunning.
func IsRetryable(err error) bool {
	var uploadErr *Error
	return errors.As(err, &uploadErr) && uploadErr.Retryable()
}

// KindOf returns the kind of an upload error, or 0 if err is not one.
func KindOf(err error) Kind {
	var uploadErr *Error
	if errors.As(err, &uploadErr) {
		return uploadErr.Kind
	}
	return 0
}
