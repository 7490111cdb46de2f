package token

import (
	"context"
	"sync"
	"time"
)

// Store is the persistence boundary for issued tokens. The in-memory
// implementation serves single-process deployments and tests; the redis
// implementation serves horizontally scaled deployments. Both keep a
// per-subject index and a revoked-set alongside the token records.
type Store interface {
	Save(ctx context.Context, tok *Token) error
	Get(ctx context.Context, jti string) (*Token, error)
	Update(ctx context.Context, tok *Token) error
	Delete(ctx context.Context, jti string) error
	SubjectTokens(ctx context.Context, subject string) ([]string, error)
	MarkRevoked(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	All(ctx context.Context) ([]*Token, error)
}

// MemoryStore is a map-backed Store guarded by one mutex. The token map and
// the revoked set are mutated together under the same lock so revocation
// checks can never observe a half-applied transition.
type MemoryStore struct {
	mu        sync.RWMutex
	tokens    map[string]*Token
	bySubject map[string]map[string]struct{}
	revoked   map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:    make(map[string]*Token),
		bySubject: make(map[string]map[string]struct{}),
		revoked:   make(map[string]struct{}),
	}
}

func (s *MemoryStore) Save(_ context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tok
	s.tokens[tok.JTI] = &cp

	idx, ok := s.bySubject[tok.Subject]
	if !ok {
		idx = make(map[string]struct{})
		s.bySubject[tok.Subject] = idx
	}
	idx[tok.JTI] = struct{}{}

	return nil
}

func (s *MemoryStore) Get(_ context.Context, jti string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[jti]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[tok.JTI]; !ok {
		return ErrTokenNotFound
	}
	cp := *tok
	s.tokens[tok.JTI] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[jti]
	if !ok {
		return nil
	}
	delete(s.tokens, jti)
	if idx, ok := s.bySubject[tok.Subject]; ok {
		delete(idx, jti)
		if len(idx) == 0 {
			delete(s.bySubject, tok.Subject)
		}
	}
	return nil
}

func (s *MemoryStore) SubjectTokens(_ context.Context, subject string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.bySubject[subject]
	jtis := make([]string, 0, len(idx))
	for jti := range idx {
		jtis = append(jtis, jti)
	}
	return jtis, nil
}

func (s *MemoryStore) MarkRevoked(_ context.Context, jti string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revoked[jti] = struct{}{}
	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.revoked[jti]
	return ok, nil
}

func (s *MemoryStore) All(_ context.Context) ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Token, 0, len(s.tokens))
	for _, tok := range s.tokens {
		cp := *tok
		out = append(out, &cp)
	}
	return out, nil
}
