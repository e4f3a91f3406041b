package imagestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Hash returns the sha256 hex digest of the image bytes. The digest is
// the content address used to deduplicate stored images.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store is a content-addressed image directory. One file per unique
// hash, named <hash>.<ext>.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates the image directory under root if needed.
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	dir := filepath.Join(root, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Save writes the image if no file exists for that hash yet and returns
// the path relative to the store root. Saving the same content twice is
// a no-op, so concurrent writers of identical bytes are safe. Writes go
// to a temp file first and are renamed into place to avoid partial files.
func (s *Store) Save(data []byte, hash string) (string, error) {
	if hash == "" {
		hash = Hash(data)
	}
	name := hash + sniffExtension(data)
	rel := filepath.Join("images", name)
	abs := filepath.Join(s.root, rel)

	if _, err := os.Stat(abs); err == nil {
		return rel, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp image file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close image file: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move image into place: %w", err)
	}

	s.logger.Debug("Image stored", zap.String("hash", hash), zap.String("path", rel))
	return rel, nil
}

// Resolve turns a stored relative path into an absolute one for
// consumers outside the store (e.g. the training pipeline).
func (s *Store) Resolve(rel string) string {
	if rel == "" {
		return ""
	}
	if filepath.IsAbs(rel) {
		return rel
	}
	abs, err := filepath.Abs(filepath.Join(s.root, rel))
	if err != nil {
		return filepath.Join(s.root, rel)
	}
	return abs
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

func sniffExtension(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return ".png"
	case len(data) >= 12 && bytes.HasPrefix(data, riffMagic) && bytes.Equal(data[8:12], webpMagic):
		return ".webp"
	case bytes.HasPrefix(data, jpegMagic):
		return ".jpg"
	}
	return ".jpg"
}
