package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// allowedExtensions mirrors the media types the client can render:
// images, short videos, and voice clips.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".mp4":  true,
	".mp3":  true,
	".ogg":  true,
}

var (
	ErrMediaExtension = errors.New("server: media file type not allowed")
	ErrMediaTooLarge  = errors.New("server: media file too large")
)

// AllowedMediaFile reports whether a filename carries a permitted
// extension.
func AllowedMediaFile(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// saveUpload streams an uploaded file into the upload directory under a
// collision-free name and returns the durable URL path clients use to
// fetch it back.
func (s *Server) saveUpload(r io.Reader, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedExtensions[ext] {
		s.metrics.MediaRejected.Add(1)
		return "", ErrMediaExtension
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0750); err != nil {
		return "", fmt.Errorf("server: create upload dir: %w", err)
	}

	name := fmt.Sprintf("%d_%s%s", time.Now().UnixMilli(), uuid.NewString(), ext)
	path := filepath.Join(s.cfg.UploadDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640) //nolint:gosec // name is server-generated
	if err != nil {
		return "", fmt.Errorf("server: create media file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > s.cfg.MaxUploadBytes {
		err = ErrMediaTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrMediaTooLarge) {
			s.metrics.MediaRejected.Add(1)
			return "", err
		}
		return "", fmt.Errorf("server: store media: %w", err)
	}

	s.metrics.MediaUploads.Add(1)
	s.metrics.MediaBytesStored.Add(written)
	return "/media/" + name, nil
}
