// Package capture acquires a media sample for diagnosis, either from a live
// microphone session or from a user-selected file, and normalizes it into a
// Payload ready to hand to the diagnosis requester.
//
// The Controller is the single owner of the microphone stream between
// StartRecording and the end of the session. The stream is released on every
// exit path: manual stop, the recording ceiling, end of stream, a device
// error, or Reset.
package capture

import (
	"context"
	"errors"
	"io"
	"time"
)

// Source identifies how a payload was acquired.
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceFileUpload Source = "file_upload"
)

// State is the capture controller lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateStopped      State = "stopped"
	StateTimedOut     State = "timed_out"
	StateFileSelected State = "file_selected"
	StateReady        State = "ready"
)

// StopReason records why a recording session ended.
type StopReason string

const (
	StopManual    StopReason = "manual"
	StopTimedOut  StopReason = "timed_out"
	StopEndOfData StopReason = "end_of_stream"
	StopSizeLimit StopReason = "size_limit"
)

// Product limits for captures.
const (
	DefaultMaxDuration       = 12 * time.Second
	MaxUploadBytes     int64 = 25 * 1024 * 1024 // 25 MiB
	DefaultImageMaxDim       = 1536
)

var (
	// ErrPermissionDenied is returned when the microphone cannot be opened,
	// either because the user refused access or the platform blocked it.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnsupportedType is returned for uploads outside the MIME allow-list.
	ErrUnsupportedType = errors.New("unsupported media type")
	// ErrFileTooLarge is returned for uploads over the byte cap.
	ErrFileTooLarge = errors.New("file too large")
	// ErrBusy is returned when an operation conflicts with an active recording.
	ErrBusy = errors.New("capture already in progress")
	// ErrNotReady is returned by Take when no payload is pending.
	ErrNotReady = errors.New("no capture ready")
	// ErrEmptyRecording is returned when a recording finished without audio data.
	ErrEmptyRecording = errors.New("recording produced no data")
)

// Limits are the caps enforced before submission.
type Limits struct {
	MaxDuration       time.Duration
	MaxSizeBytes      int64
	ImageMaxDimension int
}

// DefaultLimits returns the product defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxDuration:       DefaultMaxDuration,
		MaxSizeBytes:      MaxUploadBytes,
		ImageMaxDimension: DefaultImageMaxDim,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDuration <= 0 {
		l.MaxDuration = d.MaxDuration
	}
	if l.MaxSizeBytes <= 0 {
		l.MaxSizeBytes = d.MaxSizeBytes
	}
	if l.ImageMaxDimension <= 0 {
		l.ImageMaxDimension = d.ImageMaxDimension
	}
	return l
}

// File is a user-selected upload. Type may be empty, in which case it is
// inferred from the extension of Name.
type File struct {
	Name    string
	Type    string
	Size    int64
	Content io.Reader
}

// Payload is a finalized capture: the binary sample plus what the requester
// needs to describe it. Ownership passes to the caller of Controller.Take.
type Payload struct {
	SessionID  string
	Data       []byte
	MIMEType   string
	Source     Source
	Filename   string
	StopReason StopReason
	Metadata   map[string]string
	CapturedAt time.Time
}

// Microphone opens an exclusive audio input stream.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open microphone session producing encoded audio.
type Stream interface {
	io.Reader
	// MIMEType is the container/codec negotiated by the recorder.
	MIMEType() string
	// Close releases the device. It must be safe to call once from any
	// goroutine and must unblock a pending Read.
	Close() error
}
