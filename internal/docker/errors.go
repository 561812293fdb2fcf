package docker

import (
	"errors"
	"fmt"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/client"
)

// ErrorKind classifies a failure crossing the engine boundary. The frontend
// switches on it to decide how a failure is presented.
type ErrorKind string

const (
	// KindConnection means the engine was unreachable or never initialized.
	KindConnection ErrorKind = "connection_error"
	// KindOperation means the engine was reached but reported failure, or a
	// local computation over its output failed.
	KindOperation ErrorKind = "operation_error"
	// KindNotFound means the referenced container, image or stats sample is
	// absent.
	KindNotFound ErrorKind = "not_found"
	// KindPermissionDenied means the engine rejected the call as unauthorized.
	KindPermissionDenied ErrorKind = "permission_denied"
	// KindUnknown covers everything unclassified.
	KindUnknown ErrorKind = "unknown"
)

// Error is the recovered form of every failure this package reports. Message
// is safe to show to the user as-is.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindConnection:
		return "docker connection error: " + e.Message
	case KindOperation:
		return "docker operation failed: " + e.Message
	case KindNotFound:
		return "resource not found: " + e.Message
	case KindPermissionDenied:
		return "permission denied: " + e.Message
	default:
		return "unknown docker error: " + e.Message
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Classify maps an arbitrary failure onto the stable taxonomy. Errors that
// are already classified pass through unchanged. Engine-reported statuses map
// deterministically (404 to not found, 403 to permission denied, any other
// daemon status to operation failure); transport errors whose text indicates
// a connection problem map to connection errors; the rest is unknown.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}

	msg := err.Error()
	switch {
	case client.IsErrConnectionFailed(err):
		return &Error{Kind: KindConnection, Message: msg, cause: err}
	case cerrdefs.IsNotFound(err):
		return &Error{Kind: KindNotFound, Message: msg, cause: err}
	case cerrdefs.IsPermissionDenied(err):
		return &Error{Kind: KindPermissionDenied, Message: msg, cause: err}
	case daemonReported(err):
		return &Error{Kind: KindOperation, Message: msg, cause: err}
	case strings.Contains(strings.ToLower(msg), "connect"):
		return &Error{Kind: KindConnection, Message: msg, cause: err}
	}
	return &Error{Kind: KindUnknown, Message: msg, cause: err}
}

// daemonReported reports whether err carries a daemon HTTP status other than
// 404/403, i.e. the engine was reached and rejected the operation.
func daemonReported(err error) bool {
	return cerrdefs.IsInvalidArgument(err) ||
		cerrdefs.IsConflict(err) ||
		cerrdefs.IsAlreadyExists(err) ||
		cerrdefs.IsFailedPrecondition(err) ||
		cerrdefs.IsResourceExhausted(err) ||
		cerrdefs.IsNotImplemented(err) ||
		cerrdefs.IsInternal(err) ||
		cerrdefs.IsUnavailable(err) ||
		cerrdefs.IsUnauthorized(err) ||
		cerrdefs.IsDataLoss(err) ||
		cerrdefs.IsAborted(err) ||
		cerrdefs.IsOutOfRange(err)
}

func notFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func opErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindOperation, Message: fmt.Sprintf(format, args...)}
}
