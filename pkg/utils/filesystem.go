package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirName is the directory finrag keeps local state in.
const DataDirName = ".finrag"

// EnsureDataDir creates {basePath}/.finrag (or ./.finrag for an empty or "."
// base) plus any sub directories, and returns the full path.
//
// Used for the embedded vector store, the sqlite database and exported reports.
func EnsureDataDir(basePath string, sub ...string) (string, error) {
	dir := DataDirName
	if basePath != "" && basePath != "." {
		dir = filepath.Join(basePath, DataDirName)
	}
	dir = filepath.Join(append([]string{dir}, sub...)...)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory '%s': %w", dir, err)
	}
	return dir, nil
}
