// Package local archives raw pages on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/archive"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// Config captures the parameters for the local filesystem archive.
type Config struct {
	// BaseDir is the root directory where pages are written.
	BaseDir string
	// Prefix is prepended to every object path below BaseDir.
	Prefix string
}

// Archive writes page bodies under BaseDir.
type Archive struct {
	baseDir string
	prefix  string
}

// New validates that BaseDir exists (creating it if needed) and is writable.
func New(cfg Config) (*Archive, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("archive.base_dir is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Archive{baseDir: filepath.Clean(cfg.BaseDir), prefix: cfg.Prefix}, nil
}

// PutPage writes data and returns a file:// URI.
func (a *Archive) PutPage(_ context.Context, ref etl.PageRef, data []byte) (string, error) {
	path, err := archive.ObjectPath(a.prefix, ref)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(a.baseDir, filepath.FromSlash(path))
	if !strings.HasPrefix(fullPath, a.baseDir+string(filepath.Separator)) {
		return "", errors.New("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write page: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}
