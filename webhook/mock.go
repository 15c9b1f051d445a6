package webhook

import (
	"context"
	"log/slog"
	"net/http"
)

// MockPoster is a mock poster for local development and dry runs.
type MockPoster struct {
	logger *slog.Logger
}

// NewMockPoster creates a new mock webhook poster.
func NewMockPoster(logger *slog.Logger) *MockPoster {
	return &MockPoster{
		logger: logger,
	}
}

// Post logs the message instead of sending it.
func (m *MockPoster) Post(ctx context.Context, url string, body []byte) (int, error) {
	m.logger.Info("MOCK WEBHOOK",
		"target", redact(url),
		"body", string(body))
	return http.StatusOK, nil
}
