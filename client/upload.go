package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// StageFile copies an attachment into the staging area and returns the staged
// path to reference from an upload payload. Staged files outlive restarts, so
// a queued upload can still be replayed after the process comes back.
func (m *SyncManager) StageFile(r io.Reader, fileName string) (string, error) {
	dir := filepath.Join(m.stagingDir, "staged")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+"-"+filepath.Base(fileName))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("stage %s: %w", fileName, err)
	}
	return path, nil
}
