package storage

import (
	"context"
	"sync"
	"time"

	"github.com/minus-twelve/csrfguard/types"
)

type MemoryStore struct {
	sessions     map[string]types.SessionData
	userSessions map[string]map[string]struct{}
	mutex        sync.RWMutex
	maxSessions  int
}

func NewMemoryStore(maxSessions int) *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]types.SessionData),
		userSessions: make(map[string]map[string]struct{}),
		maxSessions:  maxSessions,
	}
}

func (s *MemoryStore) GetAllByUserID(_ context.Context, userID string) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tokensMap, exists := s.userSessions[userID]
	if !exists {
		return nil, nil
	}

	tokens := make([]string, 0, len(tokensMap))
	for token := range tokensMap {
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (s *MemoryStore) Save(_ context.Context, token string, session types.SessionData) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.sessions[token]; !exists && s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		oldestToken := s.findOldestSession()
		if oldestToken == "" {
			return types.ErrMaxSessions
		}
		s.deleteInternal(oldestToken)
	}

	s.unindex(token)
	s.sessions[token] = session

	if _, exists := s.userSessions[session.UserID]; !exists {
		s.userSessions[session.UserID] = make(map[string]struct{})
	}
	s.userSessions[session.UserID][token] = struct{}{}

	return nil
}

func (s *MemoryStore) SwapCSRFToken(_ context.Context, token, expected, next string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	session, exists := s.sessions[token]
	if !exists {
		return types.ErrSessionNotFound
	}
	if session.CSRFToken != expected {
		return types.ErrCSRFTokenStale
	}

	session.CSRFToken = next
	session.LastActivity = time.Now()
	s.sessions[token] = session
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	session, exists := s.sessions[token]
	if !exists {
		return types.ErrSessionNotFound
	}
	session.LastActivity = time.Now()
	s.sessions[token] = session
	return nil
}

func (s *MemoryStore) findOldestSession() string {
	var oldestToken string
	oldestTime := time.Now()

	for token, sess := range s.sessions {
		if !sess.LastActivity.After(oldestTime) {
			oldestToken = token
			oldestTime = sess.LastActivity
		}
	}
	return oldestToken
}

func (s *MemoryStore) unindex(token string) {
	session, exists := s.sessions[token]
	if !exists {
		return
	}
	if tokens, ok := s.userSessions[session.UserID]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(s.userSessions, session.UserID)
		}
	}
}

func (s *MemoryStore) deleteInternal(token string) {
	s.unindex(token)
	delete(s.sessions, token)
}

func (s *MemoryStore) Get(_ context.Context, token string) (types.SessionData, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, exists := s.sessions[token]
	if !exists {
		return types.SessionData{}, types.ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.deleteInternal(token)
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for token, session := range s.sessions {
		if now.Sub(session.LastActivity) > ttl {
			s.deleteInternal(token)
		}
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}
