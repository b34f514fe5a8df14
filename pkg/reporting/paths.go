package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultOutputPath returns reports/<prefix>_<timestamp>.<ext>
func DefaultOutputPath(prefix, ext string, now time.Time) string {
	if prefix == "" {
		prefix = "bridge"
	}
	return filepath.Join("reports", fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102_150405"), ext))
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
