package avatar

import "time"

// Session is one provisioned avatar stream: the provider-assigned id,
// the live media endpoint and the session-scoped access credential.
type Session struct {
	SessionID     string    `json:"session_id"`
	MediaEndpoint string    `json:"media_endpoint"`
	AccessToken   string    `json:"access_token"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskType selects how the provider handles a speak request.
type TaskType string

const (
	// TaskTalk asks the provider to generate and speak its own reply.
	TaskTalk TaskType = "talk"
	// TaskRepeat asks the provider to speak the given text verbatim.
	TaskRepeat TaskType = "repeat"
)

// StreamSettings are the fixed parameters sent on stream creation.
type StreamSettings struct {
	AvatarID      string
	Quality       string
	VideoEncoding string
	PersonaPrompt string
}
