// Package store provides storage backends for CareFlow.
//
// This file implements an SQLite-backed conversation store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BridgeWell/CareFlow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversations in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewSQLiteStore: migrations applied")

	return &SQLiteStore{db: db}, nil
}

// CreateConversation creates a fresh conversation context for the user.
func (s *SQLiteStore) CreateConversation(userID string) (*models.ConversationContext, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	conv := models.NewConversationContext(userID)
	if err := s.SaveConversation(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation returns the conversation for the user, or nil if none exists.
func (s *SQLiteStore) GetConversation(userID string) (*models.ConversationContext, error) {
	var document string
	err := s.db.QueryRow(`SELECT document FROM conversations WHERE user_id = ?`, userID).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetConversation failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load conversation for %s: %w", userID, err)
	}
	var conv models.ConversationContext
	if err := json.Unmarshal([]byte(document), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation for %s: %w", userID, err)
	}
	return &conv, nil
}

// SaveConversation persists the full conversation context.
func (s *SQLiteStore) SaveConversation(conv *models.ConversationContext) error {
	if conv == nil || conv.UserID == "" {
		return models.ErrEmptyUserID
	}
	conv.UpdatedAt = time.Now()
	document, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation for %s: %w", conv.UserID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (user_id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		conv.UserID, string(document), conv.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveConversation failed", "error", err, "userID", conv.UserID)
		return fmt.Errorf("failed to save conversation for %s: %w", conv.UserID, err)
	}
	return nil
}

// DeleteConversation removes the conversation for the user.
func (s *SQLiteStore) DeleteConversation(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore.DeleteConversation failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete conversation for %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
