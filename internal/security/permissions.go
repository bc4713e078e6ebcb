package security

import (
	"fmt"
	"os"
	"path/filepath"
)

// Modes for the files mergeboard writes. The config file carries the webhook
// secret and stays owner-only; the log and the audit journal may be read by
// the service group.
const (
	PermConfigFile os.FileMode = 0600
	PermLogFile    os.FileMode = 0640
	PermDBFile     os.FileMode = 0640
	PermDirectory  os.FileMode = 0750
)

// EnsureParentDir creates the directory that will hold path, e.g. the log
// or journal directory under /var/lib/mergeboard.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, PermDirectory); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return nil
}

// CreateConfigFile creates or truncates the config file at path. The mode is
// forced to PermConfigFile even when the file already existed with a looser
// one, so `config init --force` repairs a leaked secret file.
func CreateConfigFile(path string) (*os.File, error) {
	if err := EnsureParentDir(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, PermConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create config file: %w", err)
	}
	if err := file.Chmod(PermConfigFile); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to restrict config file: %w", err)
	}
	return file, nil
}

// OpenLogFile opens the service log for appending, creating it and its
// directory when missing.
func OpenLogFile(path string) (*os.File, error) {
	if err := EnsureParentDir(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, PermLogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// IsWorldReadable reports whether other users can read a file with perm.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// CheckConfigFile warns about a config file other users can read or modify:
// reading leaks the webhook secret, writing lets them swap it.
func CheckConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	perm := info.Mode().Perm()
	switch {
	case perm&0002 != 0:
		return fmt.Errorf("config file %s is world-writable (%04o); run chmod 600 on it", path, perm)
	case IsWorldReadable(perm):
		return fmt.Errorf("config file %s is world-readable (%04o) and exposes the webhook secret; run chmod 600 on it", path, perm)
	}
	return nil
}
