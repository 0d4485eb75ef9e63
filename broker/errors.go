package broker

import "errors"

var (
	// ErrBrokerUnavailable means a broker connection could not be
	// established or was lost.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrMalformedEnvelope means a payload read from a channel is not a
	// valid event envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)
