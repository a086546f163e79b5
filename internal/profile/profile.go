package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// Addr is the binding address for the server.
	Addr string
	// Port is the binding port for the server.
	Port int
	// Data is the data directory. Ingestion working directories live under it.
	Data string
	// Driver is the database driver (sqlite or postgres).
	Driver string
	// DSN points to where riverchat stores its own data.
	DSN string
	// Version is the current version of the server.
	Version string

	// JWTSecret signs and verifies access tokens issued by the auth service.
	JWTSecret string

	// AI configuration.
	AIBaseURL        string // RIVERCHAT_AI_BASE_URL (default: https://api.openai.com/v1)
	AIAPIKey         string // RIVERCHAT_AI_API_KEY
	AIChatModel      string // RIVERCHAT_AI_CHAT_MODEL (default: gpt-4o-mini)
	AIEmbeddingModel string // RIVERCHAT_AI_EMBEDDING_MODEL (default: text-embedding-3-small)

	// Redis configuration. Required for cluster-wide ingestion locking;
	// when empty the server falls back to an in-process lock.
	RedisAddr     string // RIVERCHAT_REDIS_ADDR
	RedisPassword string // RIVERCHAT_REDIS_PASSWORD

	// CacheTTL bounds staleness of chat/message listing caches.
	CacheTTL time.Duration
	// IngestLockLease is the lease granted to one repository ingestion attempt.
	// Must comfortably exceed the worst-case clone-and-index time.
	IngestLockLease time.Duration
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled reports whether the generation and ingestion subsystems can
// reach a model provider.
func (p *Profile) IsAIEnabled() bool {
	return p.AIAPIKey != "" || p.AIBaseURL != ""
}

// ReposDir returns the root directory for ingestion working copies.
func (p *Profile) ReposDir() string {
	return filepath.Join(p.Data, "repos")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from RIVERCHAT_* environment variables,
// overriding zero-valued fields only.
func (p *Profile) FromEnv() {
	if p.AIBaseURL == "" {
		p.AIBaseURL = getEnvOrDefault("RIVERCHAT_AI_BASE_URL", "https://api.openai.com/v1")
	}
	if p.AIAPIKey == "" {
		p.AIAPIKey = os.Getenv("RIVERCHAT_AI_API_KEY")
	}
	if p.AIChatModel == "" {
		p.AIChatModel = getEnvOrDefault("RIVERCHAT_AI_CHAT_MODEL", "gpt-4o-mini")
	}
	if p.AIEmbeddingModel == "" {
		p.AIEmbeddingModel = getEnvOrDefault("RIVERCHAT_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	}
	if p.RedisAddr == "" {
		p.RedisAddr = os.Getenv("RIVERCHAT_REDIS_ADDR")
	}
	if p.RedisPassword == "" {
		p.RedisPassword = os.Getenv("RIVERCHAT_REDIS_PASSWORD")
	}
	if p.JWTSecret == "" {
		p.JWTSecret = os.Getenv("RIVERCHAT_JWT_SECRET")
	}
}

// Validate normalizes the profile and fails fast on unusable configuration.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}

	if p.Data == "" {
		if p.IsDev() {
			p.Data = filepath.Join(os.TempDir(), "riverchat")
		} else {
			p.Data = "/var/opt/riverchat"
		}
	}
	absData, err := filepath.Abs(p.Data)
	if err != nil {
		return errors.Wrapf(err, "unable to resolve data directory %q", p.Data)
	}
	p.Data = absData
	if err := os.MkdirAll(p.Data, 0o750); err != nil {
		return errors.Wrapf(err, "unable to create data directory %q", p.Data)
	}

	switch p.Driver {
	case "sqlite", "":
		p.Driver = "sqlite"
		if p.DSN == "" {
			dbFile := fmt.Sprintf("riverchat_%s.db", p.Mode)
			p.DSN = filepath.Join(p.Data, dbFile)
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for the postgres driver")
		}
	default:
		return errors.Errorf("unsupported database driver %q: only 'postgres' and 'sqlite' are supported", p.Driver)
	}

	if p.CacheTTL <= 0 {
		p.CacheTTL = 5 * time.Minute
	}
	if p.IngestLockLease <= 0 {
		p.IngestLockLease = 10 * time.Minute
	}

	return nil
}

func (p *Profile) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mode=%s addr=%s port=%d driver=%s data=%s", p.Mode, p.Addr, p.Port, p.Driver, p.Data)
	if p.RedisAddr != "" {
		fmt.Fprintf(&sb, " redis=%s", p.RedisAddr)
	}
	return sb.String()
}
