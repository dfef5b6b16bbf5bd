package call

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mlaurenti/eleonora/internal/avatar"
	"github.com/mlaurenti/eleonora/internal/brain"
	"github.com/mlaurenti/eleonora/internal/observability"
	"github.com/mlaurenti/eleonora/internal/speech"
	"github.com/mlaurenti/eleonora/internal/transcript"
)

// StreamProvider provisions avatar streaming sessions and carries speak
// requests to them.
type StreamProvider interface {
	Provision(ctx context.Context) (*avatar.Session, error)
	Release(ctx context.Context, sessionID string) error
	SendTask(ctx context.Context, sessionID, text string, taskType avatar.TaskType) error
}

// MediaLink binds local playback to a provisioned session.
type MediaLink interface {
	Connect(ctx context.Context, sess *avatar.Session) error
	Connected() bool
	Disconnect()
}

// LinkFactory builds the media link for one call. onDown fires at most
// once when an established link drops out from under the call.
type LinkFactory func(callID string, onDown func(reason string)) MediaLink

// Speakers recorded in the live transcript.
const (
	SpeakerUser    = "user"
	SpeakerAdvisor = "advisor"
)

// Turn is one entry of the live transcript, in strict append order.
type Turn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

var (
	ErrNotConnected   = errors.New("call is not connected")
	ErrNotProvisioned = errors.New("call has no provisioned session")
)

// runtime holds the per-call resources the registry record does not:
// the provider session, media link, microphone capture and transcript.
// Its mutex serializes user-facing operations on the call, so a second
// message waits for the in-flight turn to finish.
type runtime struct {
	mu      sync.Mutex
	sess    *avatar.Session
	link    MediaLink
	capture *speech.Capture
	turns   []Turn
}

// Orchestrator drives advisor calls end to end: provisioning, media
// connection, the recording/turn loop and teardown.
type Orchestrator struct {
	registry     *Registry
	provider     StreamProvider
	newLink      LinkFactory
	completer    brain.Completer
	transcriber  speech.Transcriber
	language     string
	archive      transcript.Store
	metrics      *observability.Metrics
	teardownWait time.Duration
	logf         func(format string, args ...any)

	mu       sync.Mutex
	runtimes map[string]*runtime
}

func NewOrchestrator(
	registry *Registry,
	provider StreamProvider,
	newLink LinkFactory,
	completer brain.Completer,
	transcriber speech.Transcriber,
	language string,
	archive transcript.Store,
	metrics *observability.Metrics,
) *Orchestrator {
	o := &Orchestrator{
		registry:     registry,
		provider:     provider,
		newLink:      newLink,
		completer:    completer,
		transcriber:  transcriber,
		language:     language,
		archive:      archive,
		metrics:      metrics,
		teardownWait: 10 * time.Second,
		logf:         log.Printf,
		runtimes:     make(map[string]*runtime),
	}
	registry.SetExpireHook(func(c *Call) {
		o.Teardown(c.ID, "inactive")
	})
	return o
}

// Place registers a new call and allocates its runtime. Nothing touches
// the avatar provider until Start.
func (o *Orchestrator) Place(userID, advisor string, mode ReplyMode) *Call {
	c := o.registry.Create(userID, advisor, mode)

	rt := &runtime{}
	rt.capture = speech.NewCapture(o.transcriber, o.language, func() bool {
		return o.registry.Phase(c.ID).Busy()
	})
	rt.link = o.newLink(c.ID, func(reason string) {
		o.logf("call %s: media link down: %s", c.ID, reason)
		o.metrics.CallEvents.WithLabelValues("media_down").Inc()
		o.Teardown(c.ID, "media_down")
	})

	o.mu.Lock()
	o.runtimes[c.ID] = rt
	o.mu.Unlock()

	o.metrics.ActiveCalls.Set(float64(o.registry.ActiveCount()))
	o.metrics.CallEvents.WithLabelValues("placed").Inc()
	return c
}

// Start provisions an avatar session for the call and then connects the
// media link, one automatic connect per provisioned session. If the
// connect fails the session stays usable for a manual Connect; if
// provisioning itself fails Start can be called again for a fresh
// session.
func (o *Orchestrator) Start(ctx context.Context, callID string) error {
	rt, err := o.runtime(callID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := o.registry.SetState(callID, StateProvisioning); err != nil {
		return err
	}

	sess, err := o.provider.Provision(ctx)
	if err != nil {
		_ = o.registry.SetState(callID, StateError)
		code := "provision"
		if errors.Is(err, avatar.ErrQuotaExceeded) {
			code = "quota"
		}
		o.metrics.ProviderErrors.WithLabelValues("avatar", code).Inc()
		return err
	}
	if rt.sess != nil {
		// Re-provisioning after a failed connect; drop the old session.
		if err := o.provider.Release(ctx, rt.sess.SessionID); err != nil {
			o.logf("call %s: release stale session: %v", callID, err)
		}
	}
	rt.sess = sess
	if err := o.registry.SetState(callID, StateProvisioned); err != nil {
		return err
	}
	o.metrics.CallEvents.WithLabelValues("provisioned").Inc()

	return o.connectLocked(ctx, callID, rt)
}

// Connect establishes the media link. Calling it while already connected
// is a no-op, so a retry button can be mashed safely.
func (o *Orchestrator) Connect(ctx context.Context, callID string) error {
	rt, err := o.runtime(callID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.link.Connected() {
		return nil
	}
	return o.connectLocked(ctx, callID, rt)
}

func (o *Orchestrator) connectLocked(ctx context.Context, callID string, rt *runtime) error {
	if rt.sess == nil {
		return ErrNotProvisioned
	}
	if err := o.registry.SetState(callID, StateConnecting); err != nil {
		return err
	}
	if err := rt.link.Connect(ctx, rt.sess); err != nil {
		_ = o.registry.SetState(callID, StateError)
		o.metrics.ProviderErrors.WithLabelValues("media", "connect").Inc()
		return err
	}
	if err := o.registry.SetState(callID, StateConnected); err != nil {
		return err
	}
	o.metrics.CallEvents.WithLabelValues("connected").Inc()
	return nil
}

// SubmitMessage runs one conversation turn for a typed or transcribed
// user message. In talk mode the avatar provider generates the reply, in
// repeat mode the completer writes it and the avatar speaks it verbatim.
func (o *Orchestrator) SubmitMessage(ctx context.Context, callID, text string) error {
	rt, err := o.runtime(callID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return o.submitLocked(ctx, callID, rt, text)
}

func (o *Orchestrator) submitLocked(ctx context.Context, callID string, rt *runtime, text string) error {
	c, err := o.registry.Get(callID)
	if err != nil {
		return err
	}
	if c.State != StateConnected {
		return ErrNotConnected
	}

	started := time.Now()
	rt.turns = append(rt.turns, Turn{Speaker: SpeakerUser, Text: text, At: started.UTC()})
	_ = o.registry.SetPhase(callID, PhaseThinking)
	defer func() {
		_ = o.registry.SetPhase(callID, PhaseIdle)
	}()

	speak := text
	taskType := avatar.TaskTalk
	if c.ReplyMode == ModeRepeat {
		reply, err := o.completer.Complete(ctx, text)
		if err != nil {
			o.metrics.ProviderErrors.WithLabelValues("brain", "completion").Inc()
			return err
		}
		rt.turns = append(rt.turns, Turn{Speaker: SpeakerAdvisor, Text: reply, At: time.Now().UTC()})
		speak = reply
		taskType = avatar.TaskRepeat
	}

	_ = o.registry.SetPhase(callID, PhaseSpeaking)
	o.metrics.ObserveTurnLatency(time.Since(started))

	if err := o.provider.SendTask(ctx, rt.sess.SessionID, speak, taskType); err != nil {
		if errors.Is(err, avatar.ErrSessionGone) {
			// The provider closed the stream under us. The turn is kept,
			// the speak request is simply lost.
			o.logf("call %s: dropping speak request, %v", callID, err)
			return nil
		}
		o.metrics.ProviderErrors.WithLabelValues("avatar", "task").Inc()
		return err
	}
	o.metrics.CallEvents.WithLabelValues("turn").Inc()
	return nil
}

// StartRecording opens a microphone utterance. Rejected while the
// advisor side of a turn is still in flight.
func (o *Orchestrator) StartRecording(callID string) error {
	rt, err := o.runtime(callID)
	if err != nil {
		return err
	}
	// An in-flight turn holds rt.mu until the advisor finishes; reject
	// up front instead of queueing behind it.
	if o.registry.Phase(callID).Busy() {
		return speech.ErrBusy
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	c, err := o.registry.Get(callID)
	if err != nil {
		return err
	}
	if c.State != StateConnected {
		return ErrNotConnected
	}
	if err := rt.capture.Start(); err != nil {
		return err
	}
	_ = o.registry.SetPhase(callID, PhaseListening)
	return nil
}

// AppendAudio feeds microphone samples into the open utterance.
func (o *Orchestrator) AppendAudio(callID string, pcm []byte, sampleRate int) error {
	rt, err := o.runtime(callID)
	if err != nil {
		return err
	}
	_ = o.registry.Touch(callID)
	return rt.capture.Append(pcm, sampleRate)
}

// StopRecording seals the utterance, transcribes it and submits the text
// as a turn. speech.ErrNoSpeech comes back unwrapped so callers can show
// a "didn't catch that" hint; no turn is recorded for it.
func (o *Orchestrator) StopRecording(ctx context.Context, callID string) (string, error) {
	rt, err := o.runtime(callID)
	if err != nil {
		return "", err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	_ = o.registry.SetPhase(callID, PhaseTranscribing)
	text, err := rt.capture.Stop(ctx)
	if err != nil {
		_ = o.registry.SetPhase(callID, PhaseIdle)
		if errors.Is(err, speech.ErrNoSpeech) {
			return "", err
		}
		o.metrics.ProviderErrors.WithLabelValues("speech", "transcribe").Inc()
		return "", err
	}
	return text, o.submitLocked(ctx, callID, rt, text)
}

// HangUp ends the call at the user's request.
func (o *Orchestrator) HangUp(callID string) {
	o.Teardown(callID, "hang_up")
}

// Teardown releases everything the call holds: media link, provider
// session, microphone. It is idempotent and unconditionally safe; every
// cleanup error is logged and swallowed so hanging up can never fail.
func (o *Orchestrator) Teardown(callID, reason string) {
	o.mu.Lock()
	rt, ok := o.runtimes[callID]
	if ok {
		delete(o.runtimes, callID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.teardownWait)
	defer cancel()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.link.Disconnect()
	if rt.sess != nil {
		if err := o.provider.Release(ctx, rt.sess.SessionID); err != nil {
			o.logf("call %s: release session: %v", callID, err)
		}
	}
	rt.capture.Release()

	ended, err := o.registry.End(callID)
	if err != nil {
		o.logf("call %s: end: %v", callID, err)
	}
	if ended != nil && o.archive != nil {
		if err := o.archive.SaveCall(ctx, o.record(ended, rt.turns)); err != nil {
			o.logf("call %s: archive transcript: %v", callID, err)
		}
	}

	o.metrics.ActiveCalls.Set(float64(o.registry.ActiveCount()))
	o.metrics.CallEvents.WithLabelValues("ended_" + reason).Inc()
}

func (o *Orchestrator) record(c *Call, turns []Turn) transcript.CallRecord {
	rec := transcript.CallRecord{
		CallID:    c.ID,
		UserID:    c.UserID,
		Advisor:   c.Advisor,
		ReplyMode: string(c.ReplyMode),
		StartedAt: c.StartedAt,
		EndedAt:   time.Now().UTC(),
		Turns:     make([]transcript.TurnRecord, 0, len(turns)),
	}
	for _, t := range turns {
		rec.Turns = append(rec.Turns, transcript.TurnRecord{Speaker: t.Speaker, Text: t.Text, At: t.At})
	}
	return rec
}

// Transcript returns a copy of the live transcript in append order.
func (o *Orchestrator) Transcript(callID string) ([]Turn, error) {
	rt, err := o.runtime(callID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]Turn, len(rt.turns))
	copy(out, rt.turns)
	return out, nil
}

// Snapshot returns the registry's view of the call.
func (o *Orchestrator) Snapshot(callID string) (*Call, error) {
	return o.registry.Get(callID)
}

func (o *Orchestrator) runtime(callID string) (*runtime, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.runtimes[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return rt, nil
}
