// Package uploads persists uploaded PDF files into a session's directory.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidFileType is returned for file names that do not end in .pdf.
	ErrInvalidFileType = errors.New("uploads: invalid file type")
	// ErrStorage is returned when the file could not be written.
	ErrStorage = errors.New("uploads: file save failed")
	// ErrTooLarge is returned when an upload exceeds Store.MaxBytes.
	ErrTooLarge = errors.New("uploads: file too large")
)

// Store writes uploads to disk. The zero value is ready to use.
type Store struct {
	// MaxBytes caps the size of a single upload. Zero means unlimited.
	MaxBytes int64
}

// Allowed reports whether filename ends in the lower-case ".pdf" extension.
func Allowed(filename string) bool {
	return strings.HasSuffix(filename, ".pdf")
}

// CleanName reduces filename to its base name so a client-supplied path
// can never escape the target directory.
func CleanName(filename string) string {
	// Browsers on Windows may send backslash separated paths.
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// Save writes r to dir/filename, creating dir if needed, and returns the
// path written. An existing file with the same name is replaced.
func (s *Store) Save(dir string, r io.Reader, filename string) (string, error) {
	name := CleanName(filename)
	if name == "" || !Allowed(name) {
		return "", ErrInvalidFileType
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: create directory: %w", ErrStorage, err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: create file: %w", ErrStorage, err)
	}

	src := r
	if s.MaxBytes > 0 {
		src = io.LimitReader(r, s.MaxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: write file: %w", ErrStorage, err)
	}
	if s.MaxBytes > 0 && n > s.MaxBytes {
		_ = os.Remove(path)
		return "", ErrTooLarge
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: file missing after write: %w", ErrStorage, err)
	}
	return path, nil
}
