package store

import (
	"fmt"
	"os"
	"time"
)

// Config holds output-store connection settings. A single sqlite file
// backs the whole store; modernc.org/sqlite is pure Go, so no cgo toolchain
// is needed to open it.
type Config struct {
	Path string

	// modernc.org/sqlite serializes writers internally; a single open
	// connection avoids SQLITE_BUSY contention on a single-file database
	// better than a large pool would.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sqlite connection defaults tuned for a single
// embedded writer.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 0,
	}
}

// LoadConfigFromEnv resolves the store path from WORKFLOW_STORE_PATH,
// falling back to the given default when unset.
func LoadConfigFromEnv(defaultPath string) (Config, error) {
	path := os.Getenv("WORKFLOW_STORE_PATH")
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return Config{}, fmt.Errorf("store path must be set via WORKFLOW_STORE_PATH or explicitly")
	}
	return DefaultConfig(path), nil
}
