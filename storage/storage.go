// Package storage persists the dedup state and diagnostic artifacts.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quake-notifier/pkg/quake"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
)

// StateKey is the key of the single dedup state record.
const StateKey = "state.json"

// ErrNotFound is returned by a Backend when the key does not exist.
var ErrNotFound = errors.New("storage: object doesn't exist")

// Backend stores opaque blobs by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the value at key as a single write.
	Put(ctx context.Context, key string, data []byte) error
	Name() string
}

// StateIOError indicates the state record could not be read, decoded or written.
type StateIOError struct {
	Err error
	Op  string
	Key string
}

func (e *StateIOError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StateIOError) Unwrap() error { return e.Err }

// IsStateIOError checks if an error is a StateIOError.
func IsStateIOError(err error) bool {
	var se *StateIOError
	return errors.As(err, &se)
}

// Store handles state persistence on top of a Backend.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new storage handler.
func New(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// Load reads the dedup state. It returns nil, nil when no state has been
// saved yet and a *StateIOError when the record is unreadable or corrupt.
func (s *Store) Load(ctx context.Context) (*quake.State, error) {
	data, err := s.backend.Get(ctx, StateKey)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info("No saved state", "backend", s.backend.Name(), "key", StateKey)
		return nil, nil
	}
	if err != nil {
		return nil, &StateIOError{Op: "read", Key: StateKey, Err: err}
	}

	var state quake.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &StateIOError{Op: "decode", Key: StateKey, Err: err}
	}
	if state.Seen == nil {
		return nil, &StateIOError{Op: "decode", Key: StateKey, Err: errors.New("missing entry list")}
	}

	s.logger.Debug("State loaded",
		"backend", s.backend.Name(),
		"last_modified", state.LastModified.UTC().Format(time.RFC3339),
		"entries", len(state.Seen))
	return &state, nil
}

// Save replaces the dedup state record.
func (s *Store) Save(ctx context.Context, state *quake.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &StateIOError{Op: "encode", Key: StateKey, Err: err}
	}
	if err := s.backend.Put(ctx, StateKey, data); err != nil {
		return &StateIOError{Op: "write", Key: StateKey, Err: err}
	}

	s.logger.Info("State saved",
		"backend", s.backend.Name(),
		"last_modified", state.LastModified.UTC().Format(time.RFC3339),
		"entries", len(state.Seen))
	return nil
}

// SaveArtifact stores a raw document under a unique diagnostics key and returns the key.
func (s *Store) SaveArtifact(ctx context.Context, prefix string, body []byte) (string, error) {
	key := ArtifactKey(prefix, s.now(), uuid.NewString())
	if err := s.backend.Put(ctx, key, body); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	return key, nil
}

// ArtifactKey builds the key of a diagnostic artifact.
func ArtifactKey(prefix string, at time.Time, id string) string {
	return fmt.Sprintf("diagnostics/%s-%s-%s.xml", prefix, at.UTC().Format("20060102T150405Z"), id)
}

// withRetry runs fn with the retry policy shared by the remote backends.
// ErrNotFound is not retried and is returned as is.
func withRetry(ctx context.Context, logger *slog.Logger, op, key string, fn func() error) error {
	var missing bool
	err := retry.Do(
		func() error {
			err := fn()
			if errors.Is(err, ErrNotFound) {
				missing = true
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			logger.Info("Retrying "+op+" operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if missing {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s after retries: %w", op, err)
	}
	return nil
}

func contentType(key string) string {
	if key == StateKey {
		return "application/json"
	}
	return "application/xml"
}
