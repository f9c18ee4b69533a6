package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SelectFile validates an upload and, if accepted, stores it as the pending
// payload. Type and size are checked against the allow-list and the byte cap
// before any content is read; a rejected file leaves the controller state
// and pending payload untouched.
func (c *Controller) SelectFile(f File) error {
	c.mu.Lock()
	busy := c.busyLocked()
	c.mu.Unlock()
	if busy {
		return ErrBusy
	}

	mimeType := NormalizeMIMEType(f.Type)
	if mimeType == "" || mimeType == "application/octet-stream" {
		inferred, err := MIMETypeForPath(f.Name)
		if err != nil {
			return err
		}
		mimeType = inferred
	}
	if !IsAllowedMIMEType(mimeType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	maxBytes := c.limits.MaxSizeBytes
	if f.Size > maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, f.Size, maxBytes)
	}
	if f.Content == nil {
		return fmt.Errorf("file %q has no content", f.Name)
	}

	// The declared size is advisory; never read past the cap.
	data, err := io.ReadAll(io.LimitReader(f.Content, maxBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", f.Name, err)
	}
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: content exceeds the %d byte limit", ErrFileTooLarge, maxBytes)
	}
	if len(data) == 0 {
		return fmt.Errorf("file %q is empty", f.Name)
	}

	var metadata map[string]string
	if MediaKind(mimeType) == "image" {
		data, mimeType, metadata = prepareImage(data, mimeType, c.limits.ImageMaxDimension)
	}

	p := &Payload{
		SessionID:  uuid.NewString(),
		Data:       data,
		MIMEType:   mimeType,
		Source:     SourceFileUpload,
		Filename:   filepath.Base(f.Name),
		Metadata:   metadata,
		CapturedAt: c.clock.Now(),
	}

	c.mu.Lock()
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.pending = p
	c.rec = nil
	c.transitionLocked(StateFileSelected)
	c.transitionLocked(StateReady)

	log.Info().
		Str("session", p.SessionID).
		Str("file", p.Filename).
		Str("mime_type", p.MIMEType).
		Int("size_bytes", len(p.Data)).
		Msg("File accepted for diagnosis")

	c.unlockAndNotify()
	return nil
}

// LoadFile opens a file from disk as an upload. The caller must close the
// returned closer once SelectFile has consumed the content.
func LoadFile(path string) (File, io.Closer, error) {
	log.Debug().Str("path", path).Msg("Loading media file")

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil, fmt.Errorf("file not found: %s", path)
		}
		return File{}, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return File{}, nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	mimeType, err := MIMETypeForPath(path)
	if err != nil {
		return File{}, nil, err
	}

	fh, err := os.Open(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("failed to open file: %w", err)
	}

	return File{
		Name:    filepath.Base(path),
		Type:    mimeType,
		Size:    info.Size(),
		Content: fh,
	}, fh, nil
}
