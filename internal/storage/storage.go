package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// IconStore writes fetched favicons below {baseDir}/favicons
type IconStore struct {
	root string
	mu   sync.Mutex // guards index.txt
}

// NewIconStore creates the favicon directory under baseDir
func NewIconStore(baseDir string) (*IconStore, error) {
	root := filepath.Join(baseDir, "favicons")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create favicon directory: %w", err)
	}
	return &IconStore{root: root}, nil
}

// Root returns the directory favicons are written to
func (s *IconStore) Root() string {
	return s.root
}

// SanitizeHost sanitizes a hostname for use in directory paths
// Handles ports and IPv6 literals (e.g., 2001:db8::1 -> 2001_db8__1)
func SanitizeHost(host string) string {
	sanitized := strings.ReplaceAll(host, ":", "_")
	sanitized = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, sanitized)
	return sanitized
}

// BuildStoragePath creates the full path for storing a favicon
// Structure: {root}/{sanitized_host}/{md5}.ico
func BuildStoragePath(root, host, digest string) string {
	return filepath.Join(root, SanitizeHost(host), digest+".ico")
}

// EnsureDir creates a directory and all parent directories if they don't exist
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}

// Store writes data for host under its digest and records it in the index.
// Returns the path where the file was stored.
func (s *IconStore) Store(host, digest, sourceURL string, data []byte) (string, error) {
	storagePath := BuildStoragePath(s.root, host, digest)

	if err := EnsureDir(storagePath); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.WriteFile(storagePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write favicon: %w", err)
	}

	if err := s.AppendToIndex(storagePath, sourceURL, digest); err != nil {
		return storagePath, err
	}
	return storagePath, nil
}

// AppendToIndex adds one line to {root}/index.txt
// Format: {relative_path} {url} ({md5})
func (s *IconStore) AppendToIndex(storagePath, sourceURL, digest string) error {
	rel, err := filepath.Rel(s.root, storagePath)
	if err != nil {
		rel = storagePath
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.root, "index.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s %s (%s)\n", filepath.ToSlash(rel), sourceURL, digest); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
