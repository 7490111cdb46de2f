package session

import (
	"context"
	"sort"
	"sync"
)

// Store is the persistence boundary for live sessions, devices, and
// activity logs. The live session index and the per-user index are mutated
// together under one synchronization domain so the concurrent-session cap
// check-then-insert stays atomic per store.
//
// Terminated sessions are deleted from the live index; their activity log
// entries remain readable for audit.
type Store interface {
	Save(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	UserSessions(ctx context.Context, userID string) ([]*Session, error)
	All(ctx context.Context) ([]*Session, error)

	SaveDevice(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, id string) (*Device, error)

	AppendActivity(ctx context.Context, entry Activity) error
	Activities(ctx context.Context, sessionID string, limit int) ([]Activity, error)
}

const defaultActivityLimit = 100

// MemoryStore is a map-backed Store guarded by one mutex.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	byUser        map[string]map[string]struct{}
	devices       map[string]*Device
	activities    map[string][]Activity
	activityLimit int
}

// NewMemoryStore creates an empty MemoryStore. activityLimit caps the
// retained log entries per session; non-positive values use the default.
func NewMemoryStore(activityLimit int) *MemoryStore {
	if activityLimit <= 0 {
		activityLimit = defaultActivityLimit
	}
	return &MemoryStore{
		sessions:      make(map[string]*Session),
		byUser:        make(map[string]map[string]struct{}),
		devices:       make(map[string]*Device),
		activities:    make(map[string][]Activity),
		activityLimit: activityLimit,
	}
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneSession(sess)
	s.sessions[sess.ID] = cp

	idx, ok := s.byUser[sess.UserID]
	if !ok {
		idx = make(map[string]struct{})
		s.byUser[sess.UserID] = idx
	}
	idx[sess.ID] = struct{}{}

	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	delete(s.sessions, id)
	if idx, ok := s.byUser[sess.UserID]; ok {
		delete(idx, id)
		if len(idx) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
	return nil
}

func (s *MemoryStore) UserSessions(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byUser[userID]
	out := make([]*Session, 0, len(idx))
	for id := range idx {
		if sess, ok := s.sessions[id]; ok {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) All(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	return out, nil
}

func (s *MemoryStore) SaveDevice(_ context.Context, device *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *device
	s.devices[device.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDevice(_ context.Context, id string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *device
	return &cp, nil
}

func (s *MemoryStore) AppendActivity(_ context.Context, entry Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.activities[entry.SessionID], entry)
	if len(log) > s.activityLimit {
		log = log[len(log)-s.activityLimit:]
	}
	s.activities[entry.SessionID] = log
	return nil
}

func (s *MemoryStore) Activities(_ context.Context, sessionID string, limit int) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.activities[sessionID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]Activity, len(log))
	copy(out, log)
	return out, nil
}

func cloneSession(sess *Session) *Session {
	cp := *sess
	if sess.Roles != nil {
		cp.Roles = append([]string(nil), sess.Roles...)
	}
	if sess.Permissions != nil {
		cp.Permissions = append([]string(nil), sess.Permissions...)
	}
	if sess.Flags != nil {
		cp.Flags = make(map[string]bool, len(sess.Flags))
		for k, v := range sess.Flags {
			cp.Flags[k] = v
		}
	}
	return &cp
}
