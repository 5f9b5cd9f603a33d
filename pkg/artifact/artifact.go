package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// Artifact is a versioned plugin package observed by a watcher: either a
// downloaded archive or an extracted directory. Immutable once observed.
// Identity is (ID, Version).
type Artifact struct {
	ID           string
	Version      string
	Path         string
	Hash         string
	DiscoveredAt time.Time
}

// Key returns the registry identity for the artifact.
func (a Artifact) Key() string {
	return fmt.Sprintf("%s@%s", a.ID, a.Version)
}

// HashFile computes the content hash used for artifact dedup. Errors are
// returned rather than logged; the hash is optional.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
