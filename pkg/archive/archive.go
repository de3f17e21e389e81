package archive

import (
	"context"
	"fmt"
	"time"

	"crisis-monitor/pkg/circuitbreaker"
	"crisis-monitor/pkg/session"

	"github.com/sirupsen/logrus"
)

// Backend names
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Store persists summaries of ended sessions
type Store interface {
	session.Archive
	// List returns up to limit summaries, most recently ended first
	List(ctx context.Context, limit int) ([]*session.Summary, error)
	Close() error
}

// Config selects and configures the archive backend
type Config struct {
	Backend    string      `yaml:"backend"`
	MaxEntries int         `yaml:"max_entries"`
	SQLitePath string      `yaml:"sqlite_path"`
	Redis      RedisConfig `yaml:"redis"`

	// Breaker guards the redis and sqlite backends
	Breaker circuitbreaker.Config `yaml:"breaker"`
}

// RedisConfig holds Redis archive configuration
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	Database    int           `yaml:"database"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// New opens the configured backend. Remote backends are wrapped in a
// circuit breaker.
func New(config Config, logger *logrus.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch config.Backend {
	case "", BackendMemory:
		return NewMemoryStore(config.MaxEntries), nil
	case BackendRedis:
		store, err = NewRedisStore(config.Redis, logger)
	case BackendSQLite:
		store, err = NewSQLiteStore(config.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", config.Backend)
	}
	if err != nil {
		return nil, err
	}
	breaker := circuitbreaker.NewCircuitBreaker("archive_"+config.Backend, config.Breaker, logger)
	return NewGuardedStore(store, breaker), nil
}
