package live

import "errors"

var (
	// ErrTransport is returned or reported when the model connection fails
	ErrTransport = errors.New("live transport failed")

	// ErrSessionActive is returned when starting a session that is already running
	ErrSessionActive = errors.New("live session already active")

	// ErrNotOpen is returned when sending on a session that is not open
	ErrNotOpen = errors.New("live session not open")
)
