package config

import (
	"os"
)

// Server captures process-level configuration. Audit pipeline tunables live
// in internal/audit/config and are managed separately so they can be
// hot-reloaded.
type Server struct {
	Addr          string
	Environment   string
	DatabaseURL   string
	ArchiveDir    string
	JWTSigningKey string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("EDUAUDIT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	archiveDir := os.Getenv("EDUAUDIT_ARCHIVE_DIR")
	if archiveDir == "" {
		archiveDir = "archives"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          addr,
		Environment:   os.Getenv("EDUAUDIT_ENV"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ArchiveDir:    archiveDir,
		JWTSigningKey: jwtSigningKey,
	}
}
