package capture

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeMIMEType(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"audio/webm", "audio/webm"},
		{"audio/webm;codecs=opus", "audio/webm"},
		{" Audio/WAV ", "audio/wav"},
		{"image/jpeg; charset=binary", "image/jpeg"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeMIMEType(tt.input); got != tt.want {
				t.Errorf("NormalizeMIMEType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsAllowedMIMEType(t *testing.T) {
	tests := []struct {
		mime     string
		expected bool
	}{
		{"audio/webm", true},
		{"audio/wav", true},
		{"audio/x-wav", true},
		{"audio/mpeg", true},
		{"audio/ogg;codecs=opus", true},
		{"video/mp4", true},
		{"video/quicktime", true},
		{"image/jpeg", true},
		{"image/heic", true},
		{"image/gif", false},
		{"video/x-matroska", false},
		{"application/pdf", false},
		{"text/plain", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			if got := IsAllowedMIMEType(tt.mime); got != tt.expected {
				t.Errorf("IsAllowedMIMEType(%q) = %v, want %v", tt.mime, got, tt.expected)
			}
		})
	}
}

func TestMIMETypeForPath(t *testing.T) {
	tests := []struct {
		path        string
		expected    string
		expectError bool
	}{
		{"engine.wav", "audio/wav", false},
		{"ENGINE.WAV", "audio/wav", false},
		{"clip.webm", "audio/webm", false},
		{"/tmp/a/b/fan.mp3", "audio/mpeg", false},
		{"dash.mov", "video/quicktime", false},
		{"leak.jpeg", "image/jpeg", false},
		{"leak.heic", "image/heic", false},
		{"report.pdf", "", true},
		{"noextension", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := MIMETypeForPath(tt.path)
			if tt.expectError {
				if !errors.Is(err, ErrUnsupportedType) {
					t.Errorf("expected ErrUnsupportedType for %q, got %v", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.path, err)
			}
			if got != tt.expected {
				t.Errorf("MIMETypeForPath(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestMediaKind(t *testing.T) {
	tests := map[string]string{
		"audio/webm;codecs=opus": "audio",
		"video/mp4":              "video",
		"image/png":              "image",
		"application/json":       "",
	}
	for mime, want := range tests {
		if got := MediaKind(mime); got != want {
			t.Errorf("MediaKind(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestBuildRecordArgs(t *testing.T) {
	got := buildRecordArgs("pulse", "default")
	want := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", "default",
		"-vn", "-ac", "1",
		"-c:a", "libopus", "-b:a", "48k",
		"-f", "webm", "pipe:1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultInput(t *testing.T) {
	tests := []struct {
		goos, format, device string
	}{
		{"linux", "pulse", "default"},
		{"darwin", "avfoundation", ":0"},
		{"windows", "dshow", "audio=default"},
	}
	for _, tt := range tests {
		format, device := defaultInput(tt.goos)
		if format != tt.format || device != tt.device {
			t.Errorf("defaultInput(%q) = %q, %q; want %q, %q", tt.goos, format, device, tt.format, tt.device)
		}
	}
}
