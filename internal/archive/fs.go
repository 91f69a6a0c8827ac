package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore writes blobs below a base directory.
type FSStore struct {
	base string
}

// NewFSStore creates a filesystem archive rooted at base.
func NewFSStore(base string) *FSStore {
	return &FSStore{base: base}
}

// Put writes body to base/key, creating parent directories. The write goes
// through a temp file so readers never see a partial document.
func (s *FSStore) Put(ctx context.Context, key, _ string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.base, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)

		return "", fmt.Errorf("rename %s: %w", key, err)
	}

	return target, nil
}
