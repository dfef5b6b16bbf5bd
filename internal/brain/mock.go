package brain

import (
	"context"
	"strings"
)

// MockCompleter is a keyless fallback for local development and tests.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(_ context.Context, userMessage string) (string, error) {
	msg := strings.TrimSpace(userMessage)
	if msg == "" {
		return "Could you say that again?", nil
	}
	return "Here is a simulated advisor take on: " + msg, nil
}
