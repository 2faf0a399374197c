package service

import (
	"context"
	"sync"
	"time"

	"github.com/sessiond/sessiond/internal/domain"
	"github.com/sessiond/sessiond/internal/provider"
	"github.com/sessiond/sessiond/internal/repository"
	"github.com/sessiond/sessiond/internal/security"
)

func testCodec() *security.TokenCodec {
	return security.NewTokenCodec(
		"sessiond-test",
		"sessiond-test",
		"access-secret-abcdefghijklmnopqrstuvwx",
		"refresh-secret-abcdefghijklmnopqrstuvw",
	)
}

// inMemorySessionStore mirrors the Redis store's contract: serialized
// mutates, version bumps, idempotent revoke. conflictsToInject forces
// ErrConflict on the next N Mutate calls to exercise the retry path.
type inMemorySessionStore struct {
	mu                sync.Mutex
	sessions          map[string]*domain.Session
	byUser            map[string][]string
	conflictsToInject int
	mutateCalls       int
}

func newInMemorySessionStore() *inMemorySessionStore {
	return &inMemorySessionStore{
		sessions: map[string]*domain.Session{},
		byUser:   map[string][]string{},
	}
}

func (s *inMemorySessionStore) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[cp.ID] = &cp
	s.byUser[cp.Principal.Subject] = append(s.byUser[cp.Principal.Subject], cp.ID)
	return nil
}

func (s *inMemorySessionStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, repository.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *inMemorySessionStore) Mutate(_ context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutateCalls++
	if s.conflictsToInject > 0 {
		s.conflictsToInject--
		return nil, repository.ErrConflict
	}
	sess, ok := s.sessions[sessionID]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, repository.ErrSessionNotFound
	}
	cp := *sess
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.Version++
	s.sessions[sessionID] = &cp
	out := cp
	return &out, nil
}

func (s *inMemorySessionStore) Revoke(ctx context.Context, sessionID, reason string) error {
	_, err := s.Mutate(ctx, sessionID, func(sess *domain.Session) error {
		if sess.Revoked {
			return nil
		}
		sess.Revoked = true
		sess.RevokedReason = reason
		return nil
	})
	if err == repository.ErrSessionNotFound {
		return nil
	}
	return err
}

func (s *inMemorySessionStore) ListByUser(_ context.Context, subject string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.byUser[subject]...), nil
}

// inMemoryFlowStore is a single-use pending-flow store.
type inMemoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]*domain.PendingFlow
}

func newInMemoryFlowStore() *inMemoryFlowStore {
	return &inMemoryFlowStore{flows: map[string]*domain.PendingFlow{}}
}

func (s *inMemoryFlowStore) Put(_ context.Context, flow *domain.PendingFlow, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *flow
	s.flows[cp.State] = &cp
	return nil
}

func (s *inMemoryFlowStore) Consume(_ context.Context, state string) (*domain.PendingFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[state]
	if !ok {
		return nil, repository.ErrFlowNotFound
	}
	delete(s.flows, state)
	cp := *flow
	return &cp, nil
}

// fakeProvider lets tests script the provider's answers.
type fakeProvider struct {
	exchangeFn func(ctx context.Context, code, verifier string) (*provider.Identity, error)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) AuthCodeURL(state, nonce, challenge string) string {
	return "https://idp.example.com/authorize?state=" + state + "&nonce=" + nonce + "&code_challenge=" + challenge
}

func (p *fakeProvider) Exchange(ctx context.Context, code, verifier string) (*provider.Identity, error) {
	if p.exchangeFn != nil {
		return p.exchangeFn(ctx, code, verifier)
	}
	return &provider.Identity{Subject: "user-1", Email: "user@example.com", Name: "User One"}, nil
}
