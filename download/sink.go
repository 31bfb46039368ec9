package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DirSink writes exported files into a local directory. Each file is written
// to a temporary name, synced and then renamed into place, so a partially
// written export never appears under its final name.
type DirSink struct {
	Dir string
}

// Put writes body to Dir/name.
func (s DirSink) Put(ctx context.Context, name string, body io.Reader, size int64) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	destPath := filepath.Join(s.Dir, name)
	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		if _, err := os.Stat(tmpPath); err == nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: body}); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmpFile.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to move file to destination: %w", err)
	}
	return destPath, nil
}

// validateName rejects names that would escape the output directory.
func validateName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return fmt.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, `/\`) || strings.Contains(name, "\x00"):
		return fmt.Errorf("file name %q must not contain path separators", name)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
