// Package fileutil locates configuration files.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// SystemConfigDir is the last place DefaultConfigPaths looks.
const SystemConfigDir = "/etc/mergeboard"

// SearchPaths returns the first existing path, or an error if none exists.
func SearchPaths(paths []string) (string, error) {
	if path := SearchPathsOptional(paths); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("file not found in any of the search paths: %v", paths)
}

// SearchPathsOptional returns the first existing path, or "" if none exists.
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths returns the search order for filename:
// ./<filename>, ./config/<filename>, /etc/mergeboard/<filename>.
func DefaultConfigPaths(filename string) []string {
	return []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
		filepath.Join(SystemConfigDir, filename),
	}
}

// FindConfigOptional searches the default locations for filename.
func FindConfigOptional(filename string) string {
	return SearchPathsOptional(DefaultConfigPaths(filename))
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
