package records

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backends.
const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
)

// Config selects and configures a Store.
type Config struct {
	Store           string `yaml:"store"`
	SQLitePath      string `yaml:"sqlite_path"`
	GCPProject      string `yaml:"gcp_project"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DefaultSQLitePath is ~/.cardiobot/records.db.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cardiobot", "records.db")
	}
	return filepath.Join(home, ".cardiobot", "records.db")
}

// Open creates the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Store {
	case "", StoreMemory:
		return NewMemoryStore(), nil
	case StoreSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = DefaultSQLitePath()
		}
		return NewSQLiteStore(path)
	case StoreFirestore:
		return NewFirestoreStore(ctx, FirestoreConfig{ProjectID: cfg.GCPProject, CredentialsFile: cfg.CredentialsFile})
	default:
		return nil, fmt.Errorf("unknown records store %q", cfg.Store)
	}
}
