package capture

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// SupportedAudioExtensions maps accepted audio file extensions to MIME types.
var SupportedAudioExtensions = map[string]string{
	".webm": "audio/webm",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
}

// SupportedVideoExtensions maps accepted video file extensions to MIME types.
var SupportedVideoExtensions = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
}

// SupportedImageExtensions maps accepted image file extensions to MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// allowedMIMETypes is the upload allow-list.
var allowedMIMETypes = map[string]bool{
	// Audio
	"audio/webm":  true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/wave":  true,
	"audio/mpeg":  true,
	"audio/mp4":   true,
	"audio/x-m4a": true,
	"audio/aac":   true,
	"audio/ogg":   true,
	"audio/flac":  true,
	// Video
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
	// Images
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// NormalizeMIMEType lower-cases a MIME type and drops parameters, so
// "audio/webm;codecs=opus" becomes "audio/webm".
func NormalizeMIMEType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mediaType
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// IsAllowedMIMEType reports whether mimeType is on the upload allow-list.
func IsAllowedMIMEType(mimeType string) bool {
	return allowedMIMETypes[NormalizeMIMEType(mimeType)]
}

// MIMETypeForPath returns the MIME type for a file name based on its extension.
func MIMETypeForPath(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	for _, table := range []map[string]string{SupportedAudioExtensions, SupportedVideoExtensions, SupportedImageExtensions} {
		if mimeType, ok := table[ext]; ok {
			return mimeType, nil
		}
	}
	return "", fmt.Errorf("%w: extension %q", ErrUnsupportedType, ext)
}

// MediaKind returns "audio", "video" or "image" for an allowed MIME type,
// or "" otherwise.
func MediaKind(mimeType string) string {
	mt := NormalizeMIMEType(mimeType)
	if !allowedMIMETypes[mt] {
		return ""
	}
	kind, _, _ := strings.Cut(mt, "/")
	return kind
}
