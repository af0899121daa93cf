package protocol

import (
	"errors"
	"fmt"
)

// Error taxonomy for a single connection. Detailed errors wrap one of these
// so callers can classify them with errors.Is.
var (
	// ErrFrame covers malformed length prefixes and compression framing.
	ErrFrame = errors.New("frame error")
	// ErrSchema means packet fields did not match the schema for their id.
	ErrSchema = errors.New("schema error")
	// ErrUnknownPacket means no schema is registered for the id in the current state.
	ErrUnknownPacket = errors.New("unknown packet")
	// ErrAuth is an encryption handshake or forwarding verification failure.
	ErrAuth = errors.New("authentication failed")
	// ErrCapacity means the session registry was full at login.
	ErrCapacity = errors.New("server at capacity")
	// ErrTimeout is a missed keep-alive, teleport or handshake deadline.
	ErrTimeout = errors.New("timed out")
)

func frameErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFrame, fmt.Sprintf(format, args...))
}

func schemaErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}

// Kind returns a short name for the taxonomy class of err, used in logs and
// the session audit trail.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrFrame):
		return "frame"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrUnknownPacket):
		return "unknown_packet"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "io"
	}
}
