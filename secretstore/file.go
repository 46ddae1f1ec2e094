package secretstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// FileStore implements interfaces.SecretStore on the local filesystem.
// Each secret path maps to a directory under the base directory, with one
// file per version named by its number. The latest version is the highest
// numbered file.
//
// FileStore is for development and single-node deployments; it never
// reports sealed and has no authentication.
type FileStore struct {
	baseDir string
	log     *slog.Logger

	// mu serializes version assignment so concurrent writers within one
	// process cannot claim the same version number.
	mu sync.Mutex
}

// NewFileStore creates a file-backed secret store rooted at baseDir,
// creating the directory if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	log.Debug("Created file secret store", slog.String("baseDir", baseDir))

	return &FileStore{
		baseDir: baseDir,
		log:     log,
	}, nil
}

// Put writes the next version of the secret at path and returns its number.
func (s *FileStore) Put(ctx context.Context, path string, value []byte) (int, error) {
	const op = "secretstore.put"

	dir, err := s.secretDir(path)
	if err != nil {
		return 0, interfaces.E(op, path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return 0, interfaces.E(op, path, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
	}

	version, err := latestVersion(dir)
	if err != nil {
		return 0, interfaces.E(op, path, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
	}
	version++

	if err := os.WriteFile(filepath.Join(dir, strconv.Itoa(version)), value, 0600); err != nil {
		return 0, interfaces.E(op, path, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
	}

	s.log.Debug("Stored secret in file",
		slog.String("path", path),
		slog.Int("version", version))

	return version, nil
}

// Get reads the secret at path. Version 0 requests the latest version.
func (s *FileStore) Get(ctx context.Context, path string, version int) ([]byte, error) {
	const op = "secretstore.get"

	dir, err := s.secretDir(path)
	if err != nil {
		return nil, interfaces.E(op, path, err)
	}

	if version == 0 {
		latest, err := latestVersion(dir)
		if err != nil {
			return nil, interfaces.E(op, path, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
		}
		if latest == 0 {
			return nil, interfaces.E(op, path, interfaces.ErrSecretNotFound)
		}
		version = latest
	}

	data, err := os.ReadFile(filepath.Join(dir, strconv.Itoa(version)))
	if os.IsNotExist(err) {
		return nil, interfaces.E(op, path, interfaces.ErrSecretNotFound)
	}
	if err != nil {
		return nil, interfaces.E(op, path, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
	}

	s.log.Debug("Fetched secret from file",
		slog.String("path", path),
		slog.Int("version", version),
		slog.Int("size", len(data)))

	return data, nil
}

// Health reports the store available whenever the base directory exists.
func (s *FileStore) Health(ctx context.Context) (interfaces.StoreHealth, error) {
	const op = "secretstore.health"

	if _, err := os.Stat(s.baseDir); err != nil {
		return interfaces.StoreHealth{}, interfaces.E(op, s.baseDir,
			fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
	}
	return interfaces.StoreHealth{Initialized: true, Sealed: false}, nil
}

// Authenticate is a no-op; the file store has no credentials.
func (s *FileStore) Authenticate(ctx context.Context) error {
	return nil
}

// secretDir maps a logical secret path onto a directory, rejecting path
// elements that would escape the base directory.
func (s *FileStore) secretDir(path string) (string, error) {
	clean := strings.Trim(path, "/")
	if clean == "" {
		return "", fmt.Errorf("empty secret path")
	}
	for _, part := range strings.Split(clean, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("invalid secret path element %q", part)
		}
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

// latestVersion returns the highest version number present in dir, or 0
// when the directory is missing or holds no versions.
func latestVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	latest := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		n, err := strconv.Atoi(entry.Name())
		if err != nil || n <= 0 {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}
