// Package store provides storage backends for CareFlow.
//
// This file implements a PostgreSQL-backed conversation store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BridgeWell/CareFlow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewPostgresStore: migrations applied")

	return &PostgresStore{db: db}, nil
}

// CreateConversation creates a fresh conversation context for the user.
func (s *PostgresStore) CreateConversation(userID string) (*models.ConversationContext, error) {
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
func (s *PostgresStore) GetConversation(userID string) (*models.ConversationContext, error) {
	var document string
	err := s.db.QueryRow(`SELECT document FROM conversations WHERE user_id = $1`, userID).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetConversation failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load conversation for %s: %w", userID, err)
	}
	var conv models.ConversationContext
	if err := json.Unmarshal([]byte(document), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation for %s: %w", userID, err)
	}
	return &conv, nil
}

// SaveConversation persists the full conversation context.
func (s *PostgresStore) SaveConversation(conv *models.ConversationContext) error {
	if conv == nil || conv.UserID == "" {
		return models.ErrEmptyUserID
	}
	conv.UpdatedAt = time.Now()
	document, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation for %s: %w", conv.UserID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (user_id, document, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		conv.UserID, string(document), conv.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveConversation failed", "error", err, "userID", conv.UserID)
		return fmt.Errorf("failed to save conversation for %s: %w", conv.UserID, err)
	}
	return nil
}

// DeleteConversation removes the conversation for the user.
func (s *PostgresStore) DeleteConversation(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore.DeleteConversation failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete conversation for %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
