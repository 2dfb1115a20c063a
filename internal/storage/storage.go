// Package storage persists raw uploaded document bytes. Documents reference
// their payload through an opaque locator, so the knowledge store never holds
// file contents and the blob backend can be swapped without touching it.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore stores and retrieves raw document payloads by opaque locator.
type BlobStore interface {
	// Store writes the payload and returns a locator for later retrieval.
	Store(ctx context.Context, name string, r io.Reader) (locator string, err error)

	// Open returns a reader for the payload behind the locator.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)

	// Delete removes the payload behind the locator. Deleting an absent
	// locator is not an error.
	Delete(ctx context.Context, locator string) error
}

// LocalStore is a BlobStore backed by a directory on local disk. Locators are
// paths relative to the root directory.
type LocalStore struct {
	root string
}

var _ BlobStore = (*LocalStore)(nil)

// NewLocalStore creates the root directory if needed and returns a LocalStore.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: root directory must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create root %s: %w", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

// resolve maps a locator to an absolute path under the root, rejecting
// locators that would escape it.
func (l *LocalStore) resolve(locator string) (string, error) {
	clean := filepath.Clean(locator)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("storage: invalid locator %q", locator)
	}
	return filepath.Join(l.root, clean), nil
}

// Store writes the payload to disk under a sanitized name. The write goes
// through a temp file and rename so readers never observe a partial payload.
func (l *LocalStore) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("storage: store: %w", err)
	}

	locator := sanitizeName(name)
	path, err := l.resolve(locator)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("storage: create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("storage: write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("storage: finalize payload: %w", err)
	}
	return locator, nil
}

// Open returns a reader for the payload behind the locator.
func (l *LocalStore) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	path, err := l.resolve(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", locator, err)
	}
	return f, nil
}

// Delete removes the payload. Absent locators are ignored.
func (l *LocalStore) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	path, err := l.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete %s: %w", locator, err)
	}
	return nil
}

// sanitizeName reduces an arbitrary upload name to a flat, safe file name.
func sanitizeName(name string) string {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "upload"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
