package call

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/mlaurenti/eleonora/internal/protocol"
	"github.com/mlaurenti/eleonora/internal/speech"
)

// RunConnection drives one websocket client for a call: inbound carries
// parsed client messages, outbound receives state, turn and error events.
// It returns when the client hangs up, the inbound channel closes or the
// context is cancelled; the call itself survives a dropped websocket.
func (o *Orchestrator) RunConnection(ctx context.Context, c *Call, inbound <-chan any, outbound chan<- any) error {
	turnCursor := 0
	if turns, err := o.Transcript(c.ID); err == nil {
		turnCursor = len(turns)
	}

	lastState := protocol.CallState{}
	emitState := func() {
		snap, err := o.Snapshot(c.ID)
		if err != nil {
			return
		}
		msg := protocol.CallState{
			Type:   protocol.TypeCallState,
			CallID: c.ID,
			State:  string(snap.State),
			Phase:  string(snap.Phase),
		}
		if msg == lastState {
			return
		}
		lastState = msg
		o.send(ctx, outbound, msg)
	}
	emitNewTurns := func() {
		turns, err := o.Transcript(c.ID)
		if err != nil {
			return
		}
		for ; turnCursor < len(turns); turnCursor++ {
			t := turns[turnCursor]
			o.send(ctx, outbound, protocol.TurnEvent{
				Type:    protocol.TypeTurnEvent,
				CallID:  c.ID,
				Speaker: t.Speaker,
				Text:    t.Text,
				TSMs:    t.At.UnixMilli(),
			})
		}
	}

	emitState()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			switch msg := raw.(type) {
			case protocol.ClientAudioChunk:
				pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
				if err != nil {
					o.sendError(ctx, outbound, c.ID, "invalid_audio", "client", false, err)
					continue
				}
				if err := o.AppendAudio(c.ID, pcm, msg.SampleRate); err != nil {
					o.sendStatusFor(ctx, outbound, c.ID, err)
				}
			case protocol.ClientText:
				if err := o.SubmitMessage(ctx, c.ID, msg.Text); err != nil {
					o.sendStatusFor(ctx, outbound, c.ID, err)
				}
				emitNewTurns()
				emitState()
			case protocol.ClientControl:
				done := o.handleControl(ctx, c.ID, msg, outbound)
				emitNewTurns()
				emitState()
				if done {
					return nil
				}
			}
		}
	}
}

// handleControl reports true when the connection loop should stop.
func (o *Orchestrator) handleControl(ctx context.Context, callID string, msg protocol.ClientControl, outbound chan<- any) bool {
	switch msg.Action {
	case protocol.ActionStartRecording:
		if err := o.StartRecording(callID); err != nil {
			o.sendStatusFor(ctx, outbound, callID, err)
		}
	case protocol.ActionStopRecording:
		if _, err := o.StopRecording(ctx, callID); err != nil {
			o.sendStatusFor(ctx, outbound, callID, err)
		}
	case protocol.ActionConnect:
		if err := o.Connect(ctx, callID); err != nil {
			o.sendError(ctx, outbound, callID, "connect_failed", "media", true, err)
		}
	case protocol.ActionDeviceError:
		// The microphone lives on the client; classify its failure and
		// answer with actionable guidance.
		derr := speech.ClassifyDeviceError(msg.ErrorName)
		o.send(ctx, outbound, protocol.StatusEvent{
			Type:   protocol.TypeStatusEvent,
			CallID: callID,
			Code:   string(derr.Kind),
			Detail: derr.Guidance(),
		})
	case protocol.ActionHangUp:
		o.HangUp(callID)
		o.send(ctx, outbound, protocol.CallState{
			Type:   protocol.TypeCallState,
			CallID: callID,
			State:  string(StateEnded),
			Phase:  string(PhaseIdle),
		})
		return true
	}
	return false
}

// sendStatusFor maps operation errors onto user-facing status or error
// events. Expected turn-taking refusals become soft statuses, provider
// failures become error events.
func (o *Orchestrator) sendStatusFor(ctx context.Context, outbound chan<- any, callID string, err error) {
	status := func(code string) {
		o.send(ctx, outbound, protocol.StatusEvent{
			Type:   protocol.TypeStatusEvent,
			CallID: callID,
			Code:   code,
		})
	}

	switch {
	case errors.Is(err, speech.ErrBusy):
		status("recording_busy")
	case errors.Is(err, speech.ErrAlreadyRecording):
		status("already_recording")
	case errors.Is(err, speech.ErrNotRecording):
		status("not_recording")
	case errors.Is(err, speech.ErrNoSpeech):
		status("no_speech")
	case errors.Is(err, ErrNotConnected):
		status("not_connected")
	default:
		var terr *speech.TranscriptionError
		if errors.As(err, &terr) {
			o.sendError(ctx, outbound, callID, "transcription_failed", "speech", true, err)
			return
		}
		o.sendError(ctx, outbound, callID, "call_error", "call", false, err)
	}
}

func (o *Orchestrator) sendError(ctx context.Context, outbound chan<- any, callID, code, source string, retryable bool, err error) {
	o.send(ctx, outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		CallID:    callID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    err.Error(),
	})
}

func (o *Orchestrator) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		o.logf("outbound queue stalled, dropping %T", msg)
	}
}
