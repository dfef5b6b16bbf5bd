package transcript

import (
	"context"
	"time"
)

// TurnRecord is one archived conversation turn.
type TurnRecord struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// CallRecord is the archived record of one completed advisor call.
// The live transcript dies with the call; this copy backs the user's
// call history.
type CallRecord struct {
	CallID    string       `json:"call_id"`
	UserID    string       `json:"user_id"`
	Advisor   string       `json:"advisor"`
	ReplyMode string       `json:"reply_mode"`
	Turns     []TurnRecord `json:"turns"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
}

// Store archives completed call transcripts.
type Store interface {
	SaveCall(ctx context.Context, record CallRecord) error
	RecentCalls(ctx context.Context, userID string, limit int) ([]CallRecord, error)
	Close() error
}
