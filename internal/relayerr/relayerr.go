// Package relayerr defines the error taxonomy surfaced to clients as
// error_msg events. Every error the core returns carries a machine-
// readable Kind plus a human-readable message, mirroring the teacher's
// auth.AuthErr pattern of a typed error wrapping a stable code.
package relayerr

// Kind is the machine-readable error taxonomy from the external interface
// spec (client-visible via error_msg.kind).
type Kind string

// Error kinds. Values are wire-visible; do not rename without a protocol
// version bump.
const (
	Unauthenticated  Kind = "unauthenticated"
	InvalidArgument  Kind = "invalid_argument"
	TooLarge         Kind = "too_large"
	RateLimited      Kind = "rate_limited"
	UsernameTaken    Kind = "username_taken"
	InvalidOrExpired Kind = "invalid_or_expired"
	KVUnavailable    Kind = "kv_unavailable"
)

// Error is the typed error returned by core components. It is never
// logged with payload bytes attached (callers must not embed payloads in
// Message).
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// New builds an Error for the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	re, ok := err.(*Error)
	return re, ok
}
