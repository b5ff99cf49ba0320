package benchmark

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Session is the per-adapter state owned by the orchestrator. It outlives
// runs, so signers, accounts and clients created in one run are reused by
// the next.
type Session struct {
	name string
	log  logrus.FieldLogger

	mu     sync.Mutex
	values map[string]any
}

// NewSession creates an empty session.
func NewSession(log logrus.FieldLogger, name string) *Session {
	return &Session{
		name:   name,
		log:    log.WithField("session", name),
		values: make(map[string]any),
	}
}

// Name returns the adapter name the session belongs to.
func (s *Session) Name() string {
	return s.name
}

// Has reports whether key has been initialised.
func (s *Session) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.values[key]
	return ok
}

// Reset drops every cached value.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]any)
}

// Load returns the value cached under key, calling init to create it on first
// use. Concurrent callers wait for a running init. A failed init is not
// cached and the next call retries.
func Load[T any](ctx context.Context, s *Session, key string, init func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.values[key]; ok {
		typed, ok := v.(T)
		if !ok {
			return zero, fmt.Errorf("session %s: value %q has type %T", s.name, key, v)
		}
		return typed, nil
	}

	v, err := init(ctx)
	if err != nil {
		return zero, err
	}

	s.values[key] = v
	s.log.WithField("key", key).Debug("Session value initialised")

	return v, nil
}
