package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemBackend stores blobs as files under a root directory, used for
// development and single-node deployments.
type FilesystemBackend struct {
	rootDir string
}

// NewFilesystemBackend creates a filesystem-based backend rooted at rootDir
func NewFilesystemBackend(rootDir string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FilesystemBackend{rootDir: rootDir}, nil
}

// Name implements Backend.Name
func (b *FilesystemBackend) Name() string { return "filesystem" }

func (b *FilesystemBackend) path(key string) string {
	return filepath.Join(b.rootDir, filepath.FromSlash(key))
}

// Put implements Backend.Put. The blob is written to a temporary file and
// renamed into place so a crash never leaves a partial object under the key.
func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := b.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close object file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize object: %w", err)
	}
	return nil
}

// Get implements Backend.Get
func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectMissing
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Exists implements Backend.Exists
func (b *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// Delete implements Backend.Delete
func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Healthy implements Backend.Healthy
func (b *FilesystemBackend) Healthy(ctx context.Context) error {
	if _, err := os.Stat(b.rootDir); err != nil {
		return fmt.Errorf("%w: root directory unavailable: %v", ErrBackendUnavailable, err)
	}
	return nil
}
