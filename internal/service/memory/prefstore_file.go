package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one JSON file per tenant under a storage directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the storage directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(tenantKey string) string {
	// Tenant keys come from trusted internal derivation, but keep the name flat.
	name := strings.ReplaceAll(tenantKey, string(os.PathSeparator), "_")
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(_ context.Context, tenantKey string) (map[string]string, error) {
	data, err := os.ReadFile(s.path(tenantKey))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant record: %w", err)
	}

	prefs := make(map[string]string)
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("decode tenant record: %w", err)
	}
	return prefs, nil
}

func (s *FileStore) Store(_ context.Context, tenantKey string, prefs map[string]string) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode tenant record: %w", err)
	}
	if err := os.WriteFile(s.path(tenantKey), data, 0o600); err != nil {
		return fmt.Errorf("write tenant record: %w", err)
	}
	return nil
}
