package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fpang/sonic-diagnostic/internal/auth"
	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KiB"},
		{4 << 20, "4.0 MiB"},
		{25 << 20, "25.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.n); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{12 * time.Second, "12s"},
		{7500 * time.Millisecond, "7.5s"},
		{1234 * time.Millisecond, "1.2s"},
	}
	for _, tt := range tests {
		if got := FormatSeconds(tt.d); got != tt.want {
			t.Errorf("FormatSeconds(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestDescribeMedia(t *testing.T) {
	f := capture.File{Name: "engine.wav", Type: "audio/WAV", Size: 3 << 20}
	got := DescribeMedia(f, capture.Limits{MaxSizeBytes: 25 << 20})
	if want := "engine.wav (3.0 MiB of 25.0 MiB, audio/wav)"; got != want {
		t.Errorf("DescribeMedia = %q, want %q", got, want)
	}
}

func TestPromptCategory(t *testing.T) {
	tests := []struct {
		input string
		want  diagnosis.Category
	}{
		{"1\n", diagnosis.CategoryAutomotive},
		{"3\n", diagnosis.CategoryIndustrial},
		{"home appliance\n", diagnosis.CategoryHomeAppliance},
		{"9\nspaceship\n2\n", diagnosis.CategoryHomeAppliance},
		{"car", diagnosis.CategoryAutomotive},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			got, err := NewPrompter(strings.NewReader(tt.input), &out).Category()
			if err != nil {
				t.Fatalf("Category: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !strings.Contains(out.String(), "1) automotive") {
				t.Errorf("menu not shown:\n%s", out.String())
			}
		})
	}
}

func TestPromptCategoryEOF(t *testing.T) {
	_, err := NewPrompter(strings.NewReader(""), io.Discard).Category()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestFillContext(t *testing.T) {
	p := NewPrompter(strings.NewReader("2\nBosch Serie 6\n\n"), io.Discard)
	dc, err := p.FillContext(diagnosis.Context{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if dc.Category != diagnosis.CategoryHomeAppliance || dc.MakeModel != "Bosch Serie 6" || dc.Symptoms != "" {
		t.Errorf("unexpected context: %+v", dc)
	}

	// Fields given on the command line are not asked again.
	p = NewPrompter(strings.NewReader(""), io.Discard)
	given := diagnosis.Context{Category: "industrial", MakeModel: "Atlas Copco", Symptoms: "knocking"}
	dc, err = p.FillContext(given, true)
	if err != nil || dc != given {
		t.Errorf("got %+v, %v", dc, err)
	}
}

func TestMediaPatterns(t *testing.T) {
	got := mediaPatterns(map[string]string{".WAV": "audio/wav", ".mp3": "audio/mpeg"})
	if len(got) != 2 || got[0] != "*.mp3" || got[1] != "*.wav" {
		t.Errorf("mediaPatterns = %v", got)
	}
}

func TestSetupErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{auth.ErrNoKey, "No API key configured"},
		{&diagnosis.TransportError{Kind: diagnosis.KindCredential, Message: "x"}, "Invalid API key"},
		{fmt.Errorf("validate: %w", &diagnosis.TransportError{Kind: diagnosis.KindQuota, Message: "x"}), "quota exceeded"},
		{&diagnosis.TransportError{Kind: diagnosis.KindNetwork, Message: "x"}, "Network error"},
		{errors.New("boom"), "Setup failed: boom"},
	}
	for _, tt := range tests {
		if got := SetupErrorMessage(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("SetupErrorMessage(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}
