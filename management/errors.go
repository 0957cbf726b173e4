package management

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
)

// Error kinds. Every error returned by this package unwraps to exactly one of
// these, so callers can branch with errors.Is.
var (
	// Transport kinds.
	ErrTimeout          = errors.New("socket timeout")
	ErrAddress          = errors.New("socket address error")
	ErrSocket           = errors.New("socket error")
	ErrConnectionClosed = errors.New("connection closed by server")

	// Protocol kinds.
	ErrServer             = errors.New("error received")
	ErrUnsupportedVersion = errors.New("unsupported management interface version")
	ErrSessionClosed      = errors.New("session has been closed")
	ErrMalformedReply     = errors.New("malformed reply")
	ErrInvalidCommand     = errors.New("invalid command")
)

// TransportError reports a failure of the underlying socket: connect
// timeouts, address resolution, I/O errors and read/write deadlines.
type TransportError struct {
	Msg    string
	Detail string
	Kind   error
	Err    error
}

func (e *TransportError) Error() string {
	if e.Detail == "" {
		return e.Msg
	}
	return e.Msg + ": " + e.Detail
}

func (e *TransportError) Unwrap() []error {
	return nonNil(e.Kind, e.Err)
}

// ProtocolError reports a failure at the management protocol level: an
// ERROR line from the server, a rejected handshake, use of a closed session
// or a reply that cannot be parsed.
type ProtocolError struct {
	Msg    string
	Detail string
	Kind   error
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Msg
	}
	return e.Msg + ": " + e.Detail
}

func (e *ProtocolError) Unwrap() []error {
	return nonNil(e.Kind, e.Err)
}

func nonNil(errs ...error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func protocolError(kind error, detail string) *ProtocolError {
	return &ProtocolError{Msg: kind.Error(), Detail: detail, Kind: kind}
}

func malformed(format string, line string) *ProtocolError {
	return &ProtocolError{Msg: ErrMalformedReply.Error(), Detail: format + ": " + quote(line), Kind: ErrMalformedReply}
}

func quote(s string) string {
	const max = 120
	if len(s) > max {
		s = s[:max] + "..."
	}
	return "\"" + s + "\""
}

// transportError classifies a socket error. Deadline expiry, whether from a
// configured timeout or a cancelled context, maps to ErrTimeout.
func transportError(err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}

	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		return &TransportError{Msg: ErrConnectionClosed.Error(), Kind: ErrConnectionClosed, Err: err}
	case errors.As(err, &dnsErr), errors.As(err, &addrErr):
		return &TransportError{Msg: ErrAddress.Error(), Detail: err.Error(), Kind: ErrAddress, Err: err}
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &TransportError{Msg: ErrTimeout.Error(), Detail: err.Error(), Kind: ErrTimeout, Err: err}
	default:
		return &TransportError{Msg: ErrSocket.Error(), Detail: err.Error(), Kind: ErrSocket, Err: err}
	}
}
