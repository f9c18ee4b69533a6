package diagnosis

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecodeDataURL(t *testing.T) {
	audio := []byte{0x1a, 0x45, 0xdf, 0xa3, 0xfb, 0xff}
	std := base64.StdEncoding.EncodeToString(audio)
	url := base64.RawURLEncoding.EncodeToString(audio)

	tests := []struct {
		name     string
		input    string
		wantMIME string
		wantErr  bool
	}{
		{"webm with codecs", "data:audio/webm;codecs=opus;base64," + std, "audio/webm", false},
		{"plain", "data:audio/wav;base64," + std, "audio/wav", false},
		{"url alphabet unpadded", "data:image/png;base64," + url, "image/png", false},
		{"no prefix", std, "", true},
		{"not base64", "data:text/plain,hello", "", true},
		{"missing comma", "data:audio/wav;base64", "", true},
		{"missing mime", "data:;base64," + std, "", true},
		{"bad payload", "data:audio/wav;base64,@@@", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, mime, err := DecodeDataURL(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDataURL) {
					t.Fatalf("expected ErrInvalidDataURL, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mime != tt.wantMIME {
				t.Errorf("mime = %q, want %q", mime, tt.wantMIME)
			}
			if !bytes.Equal(data, audio) {
				t.Errorf("data = %x, want %x", data, audio)
			}
		})
	}
}
