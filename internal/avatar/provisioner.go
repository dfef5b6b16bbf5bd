package avatar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provisioner obtains exactly one live avatar session, cleaning up any
// stale sessions registered under the same credentials first.
type Provisioner struct {
	client        *Client
	settings      StreamSettings
	cleanupSettle time.Duration
	stepSettle    time.Duration
}

func NewProvisioner(client *Client, settings StreamSettings, cleanupSettle, stepSettle time.Duration) *Provisioner {
	return &Provisioner{
		client:        client,
		settings:      settings,
		cleanupSettle: cleanupSettle,
		stepSettle:    stepSettle,
	}
}

// CloseAll stops every session the provider still holds for the
// account, then waits a short settle interval so the provider can
// release resources. Individual stop failures are ignored: a session
// that fails to stop is either already gone or will be expired
// provider-side.
func (p *Provisioner) CloseAll(ctx context.Context) error {
	ids, err := p.client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		_ = p.client.StopSession(ctx, id)
	}
	return sleep(ctx, p.cleanupSettle)
}

// Provision runs the full provisioning sequence: cleanup, token,
// stream creation, stream start. Any failing step is reported with its
// name and HTTP status; quota exhaustion surfaces as ErrQuotaExceeded.
// On failure, cleanup is attempted once more before returning so a
// half-created session does not hold provider quota.
func (p *Provisioner) Provision(ctx context.Context) (*Session, error) {
	if err := p.CloseAll(ctx); err != nil {
		// Cleanup is best effort: stale-session listing failures must
		// not block a fresh provisioning attempt.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	token, err := p.client.CreateToken(ctx)
	if err != nil {
		return nil, p.fail(ctx, "create_token", 0, err)
	}
	if err := sleep(ctx, p.stepSettle); err != nil {
		return nil, err
	}

	sess, status, err := p.client.CreateStream(ctx, token, p.settings)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			p.cleanupAfterFailure(ctx)
			return nil, ErrQuotaExceeded
		}
		return nil, p.fail(ctx, "create_stream", status, err)
	}
	if err := sleep(ctx, p.stepSettle); err != nil {
		return nil, err
	}

	if status, err := p.client.StartStream(ctx, token, sess.SessionID); err != nil {
		return nil, p.fail(ctx, "start_stream", status, err)
	}

	return sess, nil
}

// Release stops one session. Used on call teardown; errors are
// returned so the caller can log them, but a missing session is fine.
func (p *Provisioner) Release(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return p.client.StopSession(ctx, sessionID)
}

// SendTask forwards a speak request to the active session.
func (p *Provisioner) SendTask(ctx context.Context, sessionID, text string, taskType TaskType) error {
	return p.client.SendTask(ctx, sessionID, text, taskType)
}

func (p *Provisioner) fail(ctx context.Context, step string, status int, err error) error {
	p.cleanupAfterFailure(ctx)
	return &ProvisionError{Step: step, Status: status, Err: err}
}

func (p *Provisioner) cleanupAfterFailure(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_ = p.CloseAll(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
