package localstorage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"partigrab/internal/core/domain"
)

const (
	sinkBufferSize = 1 << 20

	// untitledStem names recordings whose title sanitizes to nothing.
	untitledStem = "parti_video"
)

var nonAlnumRun = regexp.MustCompile(`[^\p{L}\p{M}\p{N}]+`)

// Sanitize replaces every run of characters that are not letters, combining
// marks or digits with a single underscore and trims underscores from both ends.
func Sanitize(s string) string {
	return strings.Trim(nonAlnumRun.ReplaceAllString(s, "_"), "_")
}

// LocalStorage implements ports.Storage for the local filesystem.
type LocalStorage struct {
	BaseDir string // used when a request names no output directory
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

// FileName returns "<sanitized title>_<date>.<ext>".
func FileName(meta *domain.VideoMetadata, format domain.Format) string {
	stem := Sanitize(meta.Title)
	if stem == "" {
		stem = untitledStem
	}
	return fmt.Sprintf("%s_%s.%s", stem, meta.Date(), format)
}

// OutputPath places FileName in dir, or in BaseDir when dir is empty.
func (s *LocalStorage) OutputPath(dir string, meta *domain.VideoMetadata, format domain.Format) string {
	if dir == "" {
		dir = s.BaseDir
	}
	name := FileName(meta, format)
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// CreateOutput creates the file at path (and its directory) behind a write buffer.
func (s *LocalStorage) CreateOutput(ctx context.Context, path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return &bufferedFile{Writer: bufio.NewWriterSize(f, sinkBufferSize), file: f}, nil
}

// SaveMetadata saves the raw API response.
func (s *LocalStorage) SaveMetadata(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Discard removes path if it exists.
func (s *LocalStorage) Discard(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

type bufferedFile struct {
	*bufio.Writer
	file *os.File
}

// Close flushes buffered bytes and closes the file. The file is closed even
// when the flush fails.
func (b *bufferedFile) Close() error {
	flushErr := b.Flush()
	closeErr := b.file.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush %s: %w", b.file.Name(), flushErr)
	}
	return closeErr
}
