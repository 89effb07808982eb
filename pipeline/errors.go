package pipeline

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	DeviceError
	TransportError
	HttpError
	EmptyResponse
	MalformedResponse
	RemoteError
	InvalidFormat
	UnsupportedContentType
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceError:
		return "device_error"
	case TransportError:
		return "transport_error"
	case HttpError:
		return "http_error"
	case EmptyResponse:
		return "empty_response"
	case MalformedResponse:
		return "malformed_response"
	case RemoteError:
		return "remote_error"
	case InvalidFormat:
		return "invalid_format"
	case UnsupportedContentType:
		return "unsupported_content_type"
	}
	return "unknown"
}

// ErrBusy is returned by Submit when another request is still in flight.
var ErrBusy = errors.New("pipeline: a request is already in flight")

// Error is a terminal failure for one request. Status is set for HttpError,
// DeclaredType for UnsupportedContentType and Message always holds the
// human-readable text shown to the user.
type Error struct {
	Kind         ErrorKind
	Status       int
	DeclaredType string
	Message      string
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, &pipeline.Error{Kind: pipeline.EmptyResponse}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a pipeline error, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func NewPermissionDenied(err error) *Error {
	return &Error{Kind: PermissionDenied, Message: "microphone access denied", Err: err}
}

func NewDeviceError(msg string, err error) *Error {
	return &Error{Kind: DeviceError, Message: msg, Err: err}
}

func newTransportError(err error) *Error {
	return &Error{Kind: TransportError, Message: "failed to send message", Err: err}
}

func newHttpError(status int) *Error {
	return &Error{Kind: HttpError, Status: status, Message: fmt.Sprintf("HTTP error! status: %d", status)}
}

func newEmptyResponse() *Error {
	return &Error{Kind: EmptyResponse, Message: "empty response from server"}
}

func newMalformedResponse(err error) *Error {
	return &Error{Kind: MalformedResponse, Message: "invalid JSON response from server", Err: err}
}

func newRemoteError(msg string) *Error {
	return &Error{Kind: RemoteError, Message: msg}
}

func newInvalidFormat() *Error {
	return &Error{Kind: InvalidFormat, Message: "invalid response format from server"}
}

func newUnsupportedContentType(declared string) *Error {
	return &Error{
		Kind:         UnsupportedContentType,
		DeclaredType: declared,
		Message:      fmt.Sprintf("unsupported response type: %q", declared),
	}
}
