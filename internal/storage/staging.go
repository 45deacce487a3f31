package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tailorfit/internal/apperr"
)

// DefaultMaxUploadBytes caps each image buffer at 10 MiB.
const DefaultMaxUploadBytes int64 = 10 << 20

var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// Extension fallback for clients that upload images as a generic
// octet-stream.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Upload is one raw image buffer with its declared metadata.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Staging validates incoming image pairs and writes them to the staging
// directory, and best-effort removes artifacts on cleanup.
type Staging struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
}

// NewStaging creates the staging area, making the directory if needed.
func NewStaging(dir string, maxBytes int64, logger *zap.Logger) (*Staging, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "failed to create staging directory", err)
	}
	return &Staging{dir: dir, maxBytes: maxBytes, logger: logger.Named("staging")}, nil
}

// Validate checks one upload's declared type and size. It never touches
// disk, so a rejection leaves nothing to clean up.
func (s *Staging) Validate(u Upload) error {
	if len(u.Data) == 0 {
		return apperr.New(apperr.KindInvalidInput, "image file is required")
	}
	if int64(len(u.Data)) > s.maxBytes {
		return apperr.Newf(apperr.KindInvalidInput, "image exceeds the %d byte limit", s.maxBytes)
	}

	contentType := strings.ToLower(strings.TrimSpace(u.ContentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if allowedMIMETypes[contentType] {
		return nil
	}
	if contentType == "application/octet-stream" {
		if allowedExtensions[strings.ToLower(filepath.Ext(u.Filename))] {
			return nil
		}
	}
	return apperr.Newf(apperr.KindInvalidInput, "only JPEG and PNG images allowed, received %s", u.ContentType)
}

// StagePair validates both images, then writes them under request-unique
// names. Either both files exist afterwards or neither does.
func (s *Staging) StagePair(front, side Upload) (frontPath, sidePath string, err error) {
	if err := s.Validate(front); err != nil {
		return "", "", err
	}
	if err := s.Validate(side); err != nil {
		return "", "", err
	}

	token := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	frontPath = filepath.Join(s.dir, "front_"+token+extensionFor(front))
	sidePath = filepath.Join(s.dir, "side_"+token+extensionFor(side))

	if err := os.WriteFile(frontPath, front.Data, 0o644); err != nil {
		return "", "", apperr.Wrap(apperr.KindStorage, "failed to stage front image", err)
	}
	if err := os.WriteFile(sidePath, side.Data, 0o644); err != nil {
		s.Remove(frontPath)
		return "", "", apperr.Wrap(apperr.KindStorage, "failed to stage side image", err)
	}
	return frontPath, sidePath, nil
}

// Remove deletes staged artifacts best-effort. Failures are logged and never
// escalate, so cleanup cannot mask the error that triggered it.
func (s *Staging) Remove(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove staged artifact",
				zap.String("path", path), zap.Error(err))
		}
	}
}

func extensionFor(u Upload) string {
	if ext := strings.ToLower(filepath.Ext(u.Filename)); allowedExtensions[ext] {
		return ext
	}
	if strings.Contains(strings.ToLower(u.ContentType), "png") {
		return ".png"
	}
	return ".jpg"
}
