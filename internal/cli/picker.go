package cli

import (
	"errors"
	"sort"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"

	"github.com/fpang/sonic-diagnostic/internal/capture"
)

// ErrPickCanceled is returned when the user closes the file dialog.
var ErrPickCanceled = errors.New("file selection canceled")

// PickMediaFile opens the native file dialog filtered to accepted media.
func PickMediaFile() (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Title("Select a recording, video or photo"),
		zenity.FileFilters{
			{Name: "Audio", Patterns: mediaPatterns(capture.SupportedAudioExtensions)},
			{Name: "Video", Patterns: mediaPatterns(capture.SupportedVideoExtensions)},
			{Name: "Images", Patterns: mediaPatterns(capture.SupportedImageExtensions)},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrPickCanceled
		}
		log.Error().Err(err).Msg("File picker failed")
		return "", err
	}
	log.Debug().Str("path", selected).Msg("File picked via native dialog")
	return selected, nil
}

// mediaPatterns turns an extension table into sorted glob patterns.
func mediaPatterns(exts map[string]string) []string {
	patterns := make([]string, 0, len(exts))
	for ext := range exts {
		patterns = append(patterns, "*"+strings.ToLower(ext))
	}
	sort.Strings(patterns)
	return patterns
}
