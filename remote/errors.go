package remote

import (
	"errors"
	"fmt"
	"strings"
)

// Operation classes. Every *Error wraps exactly one of these so callers can
// tell an upload failure from a transform failure without inspecting Op.
var (
	ErrUpload    = errors.New("upload failed")
	ErrTransform = errors.New("transform failed")
	ErrFetch     = errors.New("fetch failed")
)

// Causes. Every *Error also wraps one of these.
var (
	// ErrNetwork is a transport-level failure: connection refused, timeout,
	// cancelled context.
	ErrNetwork = errors.New("network failure")

	// ErrRejected means the backend answered but reported failure, either
	// with success=false or a non-2xx status.
	ErrRejected = errors.New("rejected by backend")

	// ErrNotFound is a 404 from the backend.
	ErrNotFound = errors.New("not found")

	// ErrMalformed means the response could not be decoded or lacked a
	// required field.
	ErrMalformed = errors.New("malformed response")
)

// Error describes a failed remote call.
type Error struct {
	// Op is the client operation, e.g. "compress".
	Op string

	// ImageID is empty for uploads.
	ImageID string

	// FileName is set for uploads.
	FileName string

	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int

	// Message is the backend's explanation, when it gave one.
	Message string

	class error
	cause error
	err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.ImageID != "" {
		fmt.Fprintf(&b, " %s", e.ImageID)
	} else if e.FileName != "" {
		fmt.Fprintf(&b, " %s", e.FileName)
	}
	b.WriteString(": ")
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.err != nil:
		b.WriteString(e.err.Error())
	default:
		b.WriteString(e.cause.Error())
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	return b.String()
}

// Unwrap exposes the operation class, the cause and the underlying error to
// errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := []error{e.class, e.cause}
	if e.err != nil {
		out = append(out, e.err)
	}
	return out
}

// Reason returns the most specific human readable explanation.
func (e *Error) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.cause.Error()
}

func classFor(op string) error {
	switch op {
	case opUpload:
		return ErrUpload
	case opCompress, opWatermark, opBasicOperation:
		return ErrTransform
	default:
		return ErrFetch
	}
}

func newError(op, imageID string, cause, err error) *Error {
	return &Error{Op: op, ImageID: imageID, class: classFor(op), cause: cause, err: err}
}

// Reason extracts a short failure reason from any error returned by this
// package, falling back to err.Error().
func Reason(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Reason()
	}
	return err.Error()
}
