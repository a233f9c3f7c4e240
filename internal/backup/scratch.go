package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"dumpkeep/internal/logging"
)

// Scratch is a private working directory for in-flight artifacts. Nothing
// inside it is ever visible under the backup root, so a crash mid-pipeline
// leaves no partial artifact behind.
type Scratch struct {
	dir    string
	logger *logging.Logger
}

// NewScratch creates a fresh scratch directory. An empty root falls back to
// the system temp directory.
func NewScratch(root string, logger *logging.Logger) (*Scratch, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, NewStorageError("failed to create scratch root", err)
		}
	}

	dir, err := os.MkdirTemp(root, "dumpkeep-*")
	if err != nil {
		return nil, NewStorageError("failed to create scratch directory", err)
	}

	return &Scratch{dir: dir, logger: logger}, nil
}

// Dir returns the scratch directory path
func (s *Scratch) Dir() string {
	return s.dir
}

// Path returns the location for a named scratch file
func (s *Scratch) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Release removes the scratch directory and everything in it
func (s *Scratch) Release() {
	if s.dir == "" {
		return
	}
	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Warn(fmt.Sprintf("Failed to remove scratch directory %s: %v", s.dir, err))
	}
	s.dir = ""
}
