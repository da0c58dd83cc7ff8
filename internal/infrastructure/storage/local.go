package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
)

// LocalStorage keeps uploads on disk under baseDir. The files are served
// at publicURL by the HTTP layer.
type LocalStorage struct {
	baseDir   string
	publicURL string
	logger    *zap.Logger
	now       func() time.Time
}

// NewLocalStorage creates a LocalStorage
func NewLocalStorage(baseDir, publicURL string, logger *zap.Logger) *LocalStorage {
	return &LocalStorage{
		baseDir:   baseDir,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
		now:       time.Now,
	}
}

// BaseDir returns the directory uploads are written to
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

// Upload writes data under a fresh key and returns its URL
func (s *LocalStorage) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := ObjectKey(s.now(), name)
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := s.validatePath(fullPath); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create upload directory", zap.String("path", fullPath), zap.Error(err))
		return "", fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		s.logger.Error("Failed to write upload", zap.String("path", fullPath), zap.Error(err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Info("Document stored",
		zap.String("key", key),
		zap.String("content_type", contentType),
		zap.Int("size", len(data)),
	)
	return s.publicURL + "/" + key, nil
}

// Read returns the content stored under key
func (s *LocalStorage) Read(ctx context.Context, key string) ([]byte, error) {
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := s.validatePath(fullPath); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// validatePath checks that the path stays within baseDir
func (s *LocalStorage) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}
	return nil
}

var _ port.UploadService = (*LocalStorage)(nil)
