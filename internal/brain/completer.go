package brain

import (
	"context"
	"errors"
	"fmt"
)

// ErrCompletionFailed wraps chat-completion provider failures.
var ErrCompletionFailed = errors.New("completion failed")

// Completer generates the advisor's reply text for a user message.
// Used in repeat mode, where the avatar speaks the generated text
// verbatim; talk mode bypasses the completer entirely.
type Completer interface {
	Complete(ctx context.Context, userMessage string) (string, error)
}

func completionError(err error) error {
	return fmt.Errorf("%w: %v", ErrCompletionFailed, err)
}
