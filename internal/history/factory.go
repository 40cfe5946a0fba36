package history

import (
	"context"
	"path/filepath"
	"strings"
)

// NewStore picks a backend: postgres when a database URL is
// configured, sqlite when requested, otherwise per-user JSON files
// under dataDir.
func NewStore(ctx context.Context, databaseURL, backend, dataDir string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.EqualFold(strings.TrimSpace(backend), "sqlite") {
		return NewSQLiteStore(filepath.Join(dataDir, "murshid.db"))
	}
	return NewFileStore(dataDir)
}
