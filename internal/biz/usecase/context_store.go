package usecase

import (
	"strings"
	"sync"
)

// ContextStore keeps the operator's just-in-time store updates per bot
type ContextStore struct {
	mu   sync.RWMutex
	data map[int64]string
}

// NewContextStore creates an empty store
func NewContextStore() *ContextStore {
	return &ContextStore{data: make(map[int64]string)}
}

// Get returns the live context of a bot
func (s *ContextStore) Get(botID int64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[botID]
}

// Append adds one "- instruction" line
func (s *ContextStore) Append(botID int64, instruction string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[botID] = strings.TrimLeft(s.data[botID]+"\n- "+instruction, "\n")
	return s.data[botID]
}

// Reset clears the live context of a bot
func (s *ContextStore) Reset(botID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, botID)
}
