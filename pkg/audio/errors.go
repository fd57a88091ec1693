package audio

import "errors"

var (
	// ErrPermissionDenied is returned when microphone access is refused or no
	// input device can be opened. Retrying needs user action.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable is returned when an input or output device is
	// missing or already closed.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrMalformedPayload is returned when wire text is not valid base64
	ErrMalformedPayload = errors.New("malformed audio payload")

	// ErrInvalidFrameLength is returned when a PCM16 buffer does not hold a
	// whole number of sample frames
	ErrInvalidFrameLength = errors.New("invalid PCM frame length")
)
