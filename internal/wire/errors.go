package wire

import "errors"

// Sentinel errors returned by the wire and session layers. Callers use
// errors.Is to classify failures for the retry/fallback semantics in
// spec.md §7.
var (
	// ErrVersionMismatch is returned when a peer's protocol version does not
	// match ours during the Hello handshake.
	ErrVersionMismatch = errors.New("wire: protocol version mismatch")

	// ErrProtocolViolation is returned when a frame arrives out of sequence
	// for the current session state, or a frame type is unrecognized.
	ErrProtocolViolation = errors.New("wire: protocol violation")

	// ErrPathViolation is returned when a relative path escapes its root or
	// otherwise fails validation.
	ErrPathViolation = errors.New("wire: path violation")

	// ErrFrameTooLarge is returned when a frame's declared or actual length
	// exceeds the negotiated maximum.
	ErrFrameTooLarge = errors.New("wire: frame too large")

	// ErrIOTimeout is returned when a read or write deadline elapses.
	ErrIOTimeout = errors.New("wire: io timeout")

	// ErrIOTransient marks an I/O error judged retryable (single retry per
	// spec.md §7).
	ErrIOTransient = errors.New("wire: transient io error")

	// ErrIOPermanent marks an I/O error judged non-retryable.
	ErrIOPermanent = errors.New("wire: permanent io error")

	// ErrDeltaMismatch reports a weak rolling-checksum hit whose strong hash
	// does not confirm the block; the window is then sent as a literal.
	ErrDeltaMismatch = errors.New("wire: delta verification mismatch")

	// ErrCancelled is returned when a session is torn down in response to
	// context cancellation.
	ErrCancelled = errors.New("wire: cancelled")
)
