package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("call not found")
	ErrInvalidTransition = errors.New("invalid call state transition")
)

// Call is the registry's view of one advisor call. Media and provider
// resources live in the orchestrator's runtime; this record carries the
// state machine and bookkeeping.
type Call struct {
	ID             string    `json:"call_id"`
	UserID         string    `json:"user_id"`
	Advisor        string    `json:"advisor"`
	ReplyMode      ReplyMode `json:"reply_mode"`
	State          ConnState `json:"state"`
	Phase          TurnPhase `json:"phase"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Registry tracks live calls. It owns the ConnState/TurnPhase machine;
// callers mutate state only through SetState/SetPhase so every illegal
// transition is caught in one place.
type Registry struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	callByUser        map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Call)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Registry{
		calls:             make(map[string]*Call),
		callByUser:        make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Create(userID, advisor string, mode ReplyMode) *Call {
	now := time.Now().UTC()
	c := &Call{
		ID:             uuid.NewString(),
		UserID:         userID,
		Advisor:        advisor,
		ReplyMode:      mode,
		State:          StateIdle,
		Phase:          PhaseIdle,
		StartedAt:      now,
		LastActivityAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
	if userID != "" {
		r.callByUser[userID] = c.ID
	}
	return clone(c)
}

func (r *Registry) Get(callID string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (r *Registry) Touch(callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// SetState moves the call through the connection state machine.
func (r *Registry) SetState(callID string, to ConnState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if c.State == to {
		return nil
	}
	if !CanTransition(c.State, to) {
		return ErrInvalidTransition
	}
	c.State = to
	if to != StateConnected {
		c.Phase = PhaseIdle
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *Registry) SetPhase(callID string, phase TurnPhase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Phase = phase
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// Phase reads the current turn phase without copying the whole record.
func (r *Registry) Phase(callID string) TurnPhase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	if !ok {
		return PhaseIdle
	}
	return c.Phase
}

// End marks the call ended regardless of its current state. Teardown must
// always be able to finish, so this bypasses the transition table.
func (r *Registry) End(callID string) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	c.State = StateEnded
	c.Phase = PhaseIdle
	c.LastActivityAt = time.Now().UTC()
	if c.UserID != "" {
		delete(r.callByUser, c.UserID)
	}
	return clone(c), nil
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, c := range r.calls {
		if c.State != StateEnded {
			count++
		}
	}
	return count
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []*Call

	r.mu.Lock()
	hook := r.onExpire
	for id, c := range r.calls {
		if c.State == StateEnded {
			// Ended records stay readable for one timeout window, then
			// the janitor drops them so the map cannot grow forever.
			if now.Sub(c.LastActivityAt) >= r.inactivityTimeout {
				delete(r.calls, id)
			}
			continue
		}
		if now.Sub(c.LastActivityAt) < r.inactivityTimeout {
			continue
		}
		expired = append(expired, clone(c))
		if hook == nil {
			// Nobody to tear resources down; at least close the record.
			c.State = StateEnded
			c.Phase = PhaseIdle
			if c.UserID != "" {
				delete(r.callByUser, c.UserID)
			}
		}
	}
	r.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Call) *Call {
	cp := *c
	return &cp
}
