package engine

import "github.com/pkg/errors"

var (
	// ErrUnavailable reports that no engine process could answer the query.
	ErrUnavailable = errors.New("routing engine unavailable")
	// ErrNoPath reports that the engine answered with an empty line.
	ErrNoPath = errors.New("no path found")

	ErrDisabled   = errors.WithMessage(ErrUnavailable, "engine disabled")
	ErrNotReady   = errors.WithMessage(ErrUnavailable, "engine not ready")
	ErrTimeout    = errors.WithMessage(ErrUnavailable, "query timed out")
	ErrOverloaded = errors.WithMessage(ErrUnavailable, "too many pending queries")
	ErrProtocol   = errors.WithMessage(ErrUnavailable, "malformed engine response")
	ErrExited     = errors.WithMessage(ErrUnavailable, "engine process exited")
	ErrClosed     = errors.WithMessage(ErrUnavailable, "engine closed")
)

// outcome names a query result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoPath):
		return "no_path"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "unavailable"
	}
}
