package store

import "strings"

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use the URL scheme or key=value form; everything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Opts holds configuration values shared by the database-backed stores.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string (or file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
