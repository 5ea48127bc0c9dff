package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// RotatingWriter is an io.Writer backed by a file that rotates once it
// reaches maxBytes, keeping up to backups gzip-compressed rotations
// named <path>.1.gz (newest) through <path>.<backups>.gz (oldest).
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	backups  int
	f        *os.File
	size     int64
}

// NewRotatingWriter opens path for appending, creating the parent
// directory if needed. An existing file keeps its contents; its size
// counts toward the next rotation.
func NewRotatingWriter(path string, maxBytes int64, backups int) (*RotatingWriter, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("logging: max bytes must be positive, got %d", maxBytes)
	}
	if backups < 0 {
		return nil, fmt.Errorf("logging: backups must not be negative, got %d", backups)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	w := &RotatingWriter{path: path, maxBytes: maxBytes, backups: backups}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat log file: %w", err)
	}
	w.f = f
	w.size = fi.Size()
	return nil
}

// Write appends p, rotating first if the file would grow past the
// limit. A single record larger than the limit is still written whole.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the underlying file. Further writes fail.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// rotate shifts existing backups up one slot, compresses the live file
// into slot 1, and reopens a fresh live file. With zero backups the
// live file is simply dropped and recreated.
func (w *RotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("logging: close for rotation: %w", err)
	}
	w.f = nil

	if w.backups == 0 {
		if err := os.Remove(w.path); err != nil {
			return fmt.Errorf("logging: drop rotated file: %w", err)
		}
		return w.open()
	}

	oldest := w.backupPath(w.backups)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("logging: prune %s: %w", oldest, err)
	}
	for i := w.backups - 1; i >= 1; i-- {
		src := w.backupPath(i)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(src, w.backupPath(i+1)); err != nil {
			return fmt.Errorf("logging: shift %s: %w", src, err)
		}
	}
	if err := compressFile(w.path, w.backupPath(1)); err != nil {
		return err
	}
	return w.open()
}

func (w *RotatingWriter) backupPath(i int) string {
	return fmt.Sprintf("%s.%d.gz", w.path, i)
}

// compressFile gzips src into dst and removes src.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("logging: open rotated file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("logging: create %s: %w", dst, err)
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		return fmt.Errorf("logging: compress %s: %w", src, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return fmt.Errorf("logging: finish %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("logging: close %s: %w", dst, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("logging: remove rotated original: %w", err)
	}
	return nil
}
