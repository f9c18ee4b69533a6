package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// recordMIMEType is what FFmpegMicrophone produces: Opus in a WebM container.
	recordMIMEType = "audio/webm"

	// recordBitrate is enough for machine-sound analysis.
	recordBitrate = "48k"

	// openTimeout bounds how long we wait for the first encoded bytes,
	// i.e. for the device to actually open.
	openTimeout = 5 * time.Second

	// stopGrace is how long ffmpeg gets to write the container trailer
	// after being asked to quit.
	stopGrace = 2 * time.Second
)

// FFmpegMicrophone records the default input device with ffmpeg.
type FFmpegMicrophone struct {
	// Device overrides the platform default input device name.
	Device string
	// Format overrides the platform input format (pulse, alsa, avfoundation, dshow).
	Format string
}

// CheckFFmpegAvailable returns an error if ffmpeg is not on PATH.
func CheckFFmpegAvailable() error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: recording will be unavailable. Install FFmpeg with: brew install ffmpeg (macOS) or apt install ffmpeg (Linux)")
	}
	log.Debug().Str("path", path).Msg("ffmpeg found")
	return nil
}

// defaultInput returns the ffmpeg input format and device for goos.
func defaultInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// buildRecordArgs returns the ffmpeg arguments that capture audio from the
// input device and stream WebM/Opus to stdout.
func buildRecordArgs(format, device string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", format,
		"-i", device,
		"-vn",
		"-ac", "1",
		"-c:a", "libopus",
		"-b:a", recordBitrate,
		"-f", "webm",
		"pipe:1",
	}
}

// Open starts ffmpeg and waits until it produces the first encoded bytes.
// If the device cannot be opened the error wraps ErrPermissionDenied.
func (m FFmpegMicrophone) Open(ctx context.Context) (Stream, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrPermissionDenied)
	}

	format, device := defaultInput(runtime.GOOS)
	if m.Format != "" {
		format = m.Format
	}
	if m.Device != "" {
		device = m.Device
	}
	args := buildRecordArgs(format, device)

	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	cmd := exec.Command(ffmpegPath, args...)
	cmd.Stdout = pw
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}

	log.Debug().Strs("args", args).Msg("Starting ffmpeg recorder")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrPermissionDenied, err)
	}

	s := &ffmpegStream{
		cmd:    cmd,
		stdin:  stdin,
		pw:     pw,
		reader: bufio.NewReader(pr),
		pr:     pr,
		exited: make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		pw.Close()
		close(s.exited)
	}()

	peeked := make(chan error, 1)
	go func() {
		_, err := s.reader.Peek(1)
		peeked <- err
	}()

	select {
	case err := <-peeked:
		if err == nil {
			return s, nil
		}
		s.abort()
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, deviceError(stderr.String(), err))
	case <-time.After(openTimeout):
		s.abort()
		return nil, fmt.Errorf("%w: timed out waiting for input device", ErrPermissionDenied)
	case <-ctx.Done():
		s.abort()
		return nil, ctx.Err()
	}
}

// deviceError summarizes why ffmpeg could not open the device.
func deviceError(stderr string, err error) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return err.Error()
	}
	if lines := strings.Split(msg, "\n"); len(lines) > 3 {
		msg = strings.Join(lines[len(lines)-3:], "\n")
	}
	return msg
}

type ffmpegStream struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pw      *io.PipeWriter
	pr      *io.PipeReader
	reader  *bufio.Reader
	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

func (s *ffmpegStream) Read(p []byte) (int, error) { return s.reader.Read(p) }

func (s *ffmpegStream) MIMEType() string { return recordMIMEType }

// Close asks ffmpeg to quit so the WebM trailer is flushed, kills it after
// a grace period, and waits for the process to exit. Buffered output remains
// readable until EOF.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		if _, err := io.WriteString(s.stdin, "q"); err != nil {
			log.Debug().Err(err).Msg("ffmpeg stdin closed before quit request")
		}
		s.stdin.Close()

		select {
		case <-s.exited:
			return
		case <-time.After(stopGrace):
		}

		log.Warn().Msg("ffmpeg did not exit after quit request, killing")
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		select {
		case <-s.exited:
		case <-time.After(stopGrace):
			// Nobody is draining stdout; unblock the copy so Wait can return.
			s.pr.CloseWithError(io.ErrClosedPipe)
			<-s.exited
		}
	})
	return nil
}

// abort tears down a stream that was never handed out: output is discarded.
func (s *ffmpegStream) abort() {
	s.pr.CloseWithError(io.ErrClosedPipe)
	s.Close()
}
