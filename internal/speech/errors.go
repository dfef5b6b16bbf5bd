package speech

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy rejects a recording attempt while the avatar is speaking.
	ErrBusy = errors.New("cannot record while avatar is speaking")
	// ErrAlreadyRecording rejects a second Start while an utterance is open.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording rejects Stop/Append when no utterance is open.
	ErrNotRecording = errors.New("no recording in progress")
	// ErrNoSpeech is the empty-transcription case. It is not a failure:
	// the caller prompts the user to retry and no turn is created.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrReleased rejects use of a capture whose audio source was freed.
	ErrReleased = errors.New("audio capture released")
)

// TranscriptionError reports a speech-to-text service failure.
type TranscriptionError struct {
	Status int
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transcription failed: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// DeviceErrorKind classifies microphone acquisition failures reported
// by the capturing client.
type DeviceErrorKind string

const (
	DevicePermissionDenied DeviceErrorKind = "permission_denied"
	DeviceNotFound         DeviceErrorKind = "device_not_found"
	DeviceBusy             DeviceErrorKind = "device_busy"
	DeviceUnknown          DeviceErrorKind = "unknown"
)

// DeviceError carries a classified microphone failure plus the user
// guidance shown for it.
type DeviceError struct {
	Kind DeviceErrorKind
}

func (e *DeviceError) Error() string { return "microphone unavailable: " + string(e.Kind) }

// Guidance returns the user-facing hint for this failure kind.
func (e *DeviceError) Guidance() string {
	switch e.Kind {
	case DevicePermissionDenied:
		return "Microphone permission denied - please allow microphone access"
	case DeviceNotFound:
		return "No microphone found - please connect a microphone"
	case DeviceBusy:
		return "Microphone is being used by another application"
	default:
		return "Microphone access failed"
	}
}

// ClassifyDeviceError maps a capture-side error name (the DOM
// getUserMedia taxonomy) to a DeviceError.
func ClassifyDeviceError(name string) *DeviceError {
	switch name {
	case "NotAllowedError", "PermissionDeniedError":
		return &DeviceError{Kind: DevicePermissionDenied}
	case "NotFoundError", "DevicesNotFoundError":
		return &DeviceError{Kind: DeviceNotFound}
	case "NotReadableError", "TrackStartError":
		return &DeviceError{Kind: DeviceBusy}
	default:
		return &DeviceError{Kind: DeviceUnknown}
	}
}
