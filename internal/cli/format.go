package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fpang/sonic-diagnostic/internal/capture"
)

// FormatSize renders a byte count with binary units, e.g. "2.5 MiB".
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// FormatSeconds renders a recording length in seconds, e.g. "12s" or "7.5s".
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Round(100*time.Millisecond).Seconds(), 'f', -1, 64) + "s"
}

// DescribeMedia summarizes a file about to be diagnosed against the upload cap.
func DescribeMedia(f capture.File, limits capture.Limits) string {
	return fmt.Sprintf("%s (%s of %s, %s)", f.Name, FormatSize(f.Size), FormatSize(limits.MaxSizeBytes), capture.NormalizeMIMEType(f.Type))
}
