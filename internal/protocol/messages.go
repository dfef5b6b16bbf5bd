package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeClientText       MessageType = "client_text"
	TypeCallState        MessageType = "call_state"
	TypeStatusEvent      MessageType = "status_event"
	TypeTurnEvent        MessageType = "turn_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted inside a client_control message.
const (
	ActionStartRecording = "start_recording"
	ActionStopRecording  = "stop_recording"
	ActionConnect        = "connect"
	ActionHangUp         = "hang_up"
	// ActionDeviceError reports a microphone acquisition failure from
	// the client, carrying the DOM error name in error_name.
	ActionDeviceError = "device_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	CallID      string      `json:"call_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	CallID    string      `json:"call_id"`
	Action    string      `json:"action"`
	ErrorName string      `json:"error_name,omitempty"`
}

type ClientText struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	Text   string      `json:"text"`
}

type CallState struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	State  string      `json:"state"`
	Phase  string      `json:"phase,omitempty"`
}

type StatusEvent struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type TurnEvent struct {
	Type    MessageType `json:"type"`
	CallID  string      `json:"call_id"`
	Speaker string      `json:"speaker"`
	Text    string      `json:"text"`
	TSMs    int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	CallID    string      `json:"call_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func validControlAction(action string) bool {
	switch action {
	case ActionStartRecording, ActionStopRecording, ActionConnect, ActionHangUp, ActionDeviceError:
		return true
	default:
		return false
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || !validControlAction(msg.Action) {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
