package avatar

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuotaExceeded reports provider-side quota exhaustion. Callers
	// should back off and retry manually instead of re-provisioning.
	ErrQuotaExceeded = errors.New("avatar provider quota exceeded")

	// ErrSessionGone reports that the provider no longer has a live
	// session for a speak request. The orchestrator drops such sends.
	ErrSessionGone = errors.New("avatar session no longer active")
)

// ProvisionError reports which provisioning step failed and the HTTP
// status the provider returned.
type ProvisionError struct {
	Step   string
	Status int
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provisioning failed at %s: status %d: %v", e.Step, e.Status, e.Err)
	}
	return fmt.Sprintf("provisioning failed at %s: %v", e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// SendError reports a failed speak request.
type SendError struct {
	Status int
	Err    error
}

func (e *SendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("send task failed: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("send task failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func isQuotaBody(status int, body string) bool {
	return status == 400 && strings.Contains(body, "quota_not_enough")
}

func isSessionGoneBody(status int, body string) bool {
	if status != 400 && status != 404 {
		return false
	}
	lower := strings.ToLower(body)
	if !strings.Contains(lower, "session") {
		return false
	}
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "state wrong") ||
		strings.Contains(lower, "closed")
}
