package domain

import "errors"

var (
	// ErrRegistryFull is returned by Registry.Insert when every slot is
	// occupied. It is a normal rejection, not a fault: the caller closes
	// the new connection and moves on.
	ErrRegistryFull = errors.New("registry full")

	// ErrChannelDisabled is returned when a channel is started with port 0.
	ErrChannelDisabled = errors.New("channel disabled")

	// ErrNoFrame is returned by a frame source when no frame buffer became
	// available within the source's own timeout.
	ErrNoFrame = errors.New("no frame available")
)
