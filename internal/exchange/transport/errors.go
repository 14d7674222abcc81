package transport

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ConnectError is a failure below the Exchange protocol: the server could
// not be reached or offered no authentication scheme we support.
type ConnectError struct {
	Message string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConnectError) Unwrap() error { return e.Err }

// LoginError means the server rejected the credentials.
type LoginError struct {
	Message string
	Err     error
}

func (e *LoginError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *LoginError) Unwrap() error { return e.Err }

// FaultError is a well-formed response whose response message reports an
// error. Detail holds the flattened MessageXml values with their
// "InnerError" prefix removed.
type FaultError struct {
	Action  string
	Code    string
	Message string
	Detail  map[string]string
}

func (e *FaultError) Error() string {
	var sb strings.Builder
	if e.Action != "" {
		sb.WriteString(e.Action)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Code != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Code)
		sb.WriteString(")")
	}
	return sb.String()
}

// TransportError is any non-success HTTP status that is not an
// authentication failure.
type TransportError struct {
	Action       string
	Status       int
	StatusText   string
	Code         string
	Message      string
	Detail       any
	ResponseText string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Action, e.Message, e.Code)
}

// IsFaultCode reports whether err is a FaultError or a TransportError
// carrying one of codes.
func IsFaultCode(err error, codes ...string) bool {
	var actual string
	var fault *FaultError
	var transportErr *TransportError
	switch {
	case errors.As(err, &fault):
		actual = fault.Code
	case errors.As(err, &transportErr):
		actual = transportErr.Code
	default:
		return false
	}
	for _, code := range codes {
		if actual == code {
			return true
		}
	}
	return false
}
