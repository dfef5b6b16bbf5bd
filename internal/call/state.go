package call

// ConnState is the lifecycle state of one advisor call. Every call walks
// idle → provisioning → provisioned → connecting → connected and ends in
// ended; errored provisioning or connection attempts land in error, from
// which a manual retry of the failed step is allowed.
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateProvisioning ConnState = "provisioning"
	StateProvisioned  ConnState = "provisioned"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateEnded        ConnState = "ended"
	StateError        ConnState = "error"
)

var connTransitions = map[ConnState][]ConnState{
	StateIdle:         {StateProvisioning, StateEnded},
	StateProvisioning: {StateProvisioned, StateError, StateEnded},
	StateProvisioned:  {StateConnecting, StateEnded},
	StateConnecting:   {StateConnected, StateError, StateEnded},
	StateConnected:    {StateEnded},
	StateError:        {StateProvisioning, StateConnecting, StateEnded},
	StateEnded:        {},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to ConnState) bool {
	for _, next := range connTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TurnPhase is the conversational sub-state while a call is connected.
type TurnPhase string

const (
	PhaseIdle         TurnPhase = "idle"
	PhaseListening    TurnPhase = "listening"
	PhaseTranscribing TurnPhase = "transcribing"
	PhaseThinking     TurnPhase = "thinking"
	PhaseSpeaking     TurnPhase = "speaking"
)

// Busy reports whether the advisor side of the turn is in flight, which
// blocks a new recording from starting.
func (p TurnPhase) Busy() bool {
	return p == PhaseThinking || p == PhaseSpeaking
}

// ReplyMode selects how the avatar answers: talk lets the avatar provider
// generate the reply itself, repeat makes it speak text we computed.
type ReplyMode string

const (
	ModeTalk   ReplyMode = "talk"
	ModeRepeat ReplyMode = "repeat"
)

func ParseReplyMode(s string) (ReplyMode, bool) {
	switch ReplyMode(s) {
	case ModeTalk:
		return ModeTalk, true
	case ModeRepeat:
		return ModeRepeat, true
	default:
		return "", false
	}
}
