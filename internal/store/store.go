// Package store provides conversation storage backends for CareFlow.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends for persistent deployments. Conversations are stored
// as JSON documents keyed by user ID; the orchestrator owns the aggregate
// for the duration of one processing call and the store only moves it
// between calls.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BridgeWell/CareFlow/internal/models"
)

// Store defines the persistence boundary consumed by the orchestrator.
type Store interface {
	// CreateConversation creates a fresh conversation context for the user.
	CreateConversation(userID string) (*models.ConversationContext, error)
	// GetConversation returns the conversation for the user, or nil if none exists.
	GetConversation(userID string) (*models.ConversationContext, error)
	// SaveConversation persists the full conversation context.
	SaveConversation(ctx *models.ConversationContext) error
	// DeleteConversation removes the conversation for the user.
	DeleteConversation(userID string) error
	// Close releases any underlying resources.
	Close() error
}

// InMemoryStore is a mutex-guarded map-backed store.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]byte // stored serialized so reads are true copies
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("store.NewInMemoryStore: creating in-memory store")
	return &InMemoryStore{conversations: make(map[string][]byte)}
}

// CreateConversation creates a fresh conversation context for the user.
func (s *InMemoryStore) CreateConversation(userID string) (*models.ConversationContext, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	conv := models.NewConversationContext(userID)
	if err := s.SaveConversation(conv); err != nil {
		return nil, err
	}
	slog.Debug("InMemoryStore.CreateConversation: created", "userID", userID)
	return conv, nil
}

// GetConversation returns the conversation for the user, or nil if none exists.
func (s *InMemoryStore) GetConversation(userID string) (*models.ConversationContext, error) {
	s.mu.RLock()
	data, ok := s.conversations[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var conv models.ConversationContext
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation for %s: %w", userID, err)
	}
	return &conv, nil
}

// SaveConversation persists the full conversation context.
func (s *InMemoryStore) SaveConversation(conv *models.ConversationContext) error {
	if conv == nil || conv.UserID == "" {
		return models.ErrEmptyUserID
	}
	conv.UpdatedAt = time.Now()
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation for %s: %w", conv.UserID, err)
	}
	s.mu.Lock()
	s.conversations[conv.UserID] = data
	s.mu.Unlock()
	return nil
}

// DeleteConversation removes the conversation for the user.
func (s *InMemoryStore) DeleteConversation(userID string) error {
	s.mu.Lock()
	delete(s.conversations, userID)
	s.mu.Unlock()
	slog.Debug("InMemoryStore.DeleteConversation: deleted", "userID", userID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
