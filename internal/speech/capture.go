package speech

import (
	"context"
	"strings"
	"sync"
)

// Status tracks the capture lifecycle for one call.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusTranscribing Status = "transcribing"
)

// Transcriber converts a sealed audio payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// Capture buffers one spoken utterance at a time and submits it for
// transcription when sealed. It exclusively owns the call's audio
// source until Release.
type Capture struct {
	transcriber Transcriber
	language    string

	// busy reports whether the avatar is currently speaking; recording
	// is mutually exclusive with avatar output.
	busy func() bool

	mu         sync.Mutex
	status     Status
	buf        []byte
	open       bool
	sampleRate int
	released   bool
}

func NewCapture(transcriber Transcriber, language string, busy func() bool) *Capture {
	if busy == nil {
		busy = func() bool { return false }
	}
	return &Capture{
		transcriber: transcriber,
		language:    language,
		busy:        busy,
		status:      StatusIdle,
	}
}

// Start opens a new utterance. Rejected while the avatar is speaking
// and while another utterance is open.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if c.open {
		return ErrAlreadyRecording
	}
	if c.busy() {
		return ErrBusy
	}
	c.open = true
	c.buf = nil
	c.sampleRate = 0
	c.status = StatusRecording
	return nil
}

// Append buffers audio into the open utterance.
func (c *Capture) Append(pcm []byte, sampleRate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if !c.open {
		return ErrNotRecording
	}
	if c.sampleRate == 0 && sampleRate > 0 {
		c.sampleRate = sampleRate
	}
	c.buf = append(c.buf, pcm...)
	return nil
}

// Stop seals the open utterance and submits it for transcription. The
// utterance is discarded after the result, success or failure. An
// empty or whitespace-only result is ErrNoSpeech, not a failure.
func (c *Capture) Stop(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return "", ErrReleased
	}
	if !c.open {
		c.mu.Unlock()
		return "", ErrNotRecording
	}
	sealed := encodeWAV(c.buf, c.sampleRate)
	c.open = false
	c.buf = nil
	c.status = StatusTranscribing
	c.mu.Unlock()

	text, err := c.transcriber.Transcribe(ctx, sealed, c.language)

	c.mu.Lock()
	c.status = StatusIdle
	c.mu.Unlock()

	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// Status reports the current capture state.
func (c *Capture) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Recording reports whether an utterance is open.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Release frees the audio source and drops any open utterance. The
// capture is unusable afterwards; a new call acquires a fresh one.
func (c *Capture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.open = false
	c.buf = nil
	c.status = StatusIdle
}
