package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/sonic-diagnostic/internal/clock"
)

// ErrReset is returned by Await when the session was discarded by Reset.
var ErrReset = errors.New("capture reset")

// stopReset is the internal stop reason used by Reset; it never reaches a payload.
const stopReset StopReason = "reset"

// Controller runs one capture session at a time. All methods are safe for
// concurrent use.
type Controller struct {
	mic    Microphone
	clock  clock.Clock
	limits Limits

	mu           sync.Mutex
	state        State
	opening      *openAttempt
	rec          *recording
	pending      *Payload
	onTransition func(from, to State)
	transitions  [][2]State
}

// recording is one microphone session. buf and copyErr are written only by
// the drain goroutine and read only after copyDone is closed.
type recording struct {
	id        string
	stream    Stream
	timer     clock.Timer
	startedAt time.Time
	buf       bytes.Buffer
	copyErr   error
	copyDone  chan struct{}
	done      chan struct{}
	finishing bool
	payload   *Payload
	err       error
}

// openAttempt tracks a microphone Open running outside the lock.
type openAttempt struct {
	reset bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithMicrophone sets the audio input used by StartRecording.
func WithMicrophone(m Microphone) Option {
	return func(c *Controller) { c.mic = m }
}

// WithClock sets the clock that drives the recording ceiling.
func WithClock(cl clock.Clock) Option {
	return func(c *Controller) { c.clock = cl }
}

// WithLimits overrides the capture caps. Zero fields keep their defaults.
func WithLimits(l Limits) Option {
	return func(c *Controller) { c.limits = l.withDefaults() }
}

// NewController creates an idle Controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		clock:  clock.Real(),
		limits: DefaultLimits(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTransition registers a hook called after every state change, outside
// the controller lock.
func (c *Controller) OnTransition(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = fn
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Limits returns the caps the controller enforces.
func (c *Controller) Limits() Limits {
	return c.limits
}

// StartRecording opens the microphone and begins buffering audio. The
// session ends by StopRecording, by the MaxDuration ceiling, when the stream
// ends, or when MaxSizeBytes of audio have been buffered.
//
// If the microphone cannot be opened the error wraps ErrPermissionDenied
// and the controller stays idle. A cancelled ctx is returned as is.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.busyLocked() || c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start recording in state %s", ErrBusy, state)
	}
	if c.mic == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no microphone available", ErrPermissionDenied)
	}
	attempt := &openAttempt{}
	c.opening = attempt
	c.mu.Unlock()

	// Open may wait on the device; the lock stays free meanwhile.
	stream, err := c.mic.Open(ctx)

	c.mu.Lock()
	if c.opening == attempt {
		c.opening = nil
	}
	if err != nil {
		c.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, ctxErr) {
				err = ctxErr
			}
			return err
		}
		if !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		log.Warn().Err(err).Msg("Microphone access failed")
		return err
	}
	if attempt.reset {
		c.mu.Unlock()
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release microphone stream")
		}
		return ErrReset
	}

	rec := &recording{
		id:        uuid.NewString(),
		stream:    stream,
		startedAt: c.clock.Now(),
		copyDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.rec = rec
	c.pending = nil
	c.transitionLocked(StateRecording)
	rec.timer = c.clock.AfterFunc(c.limits.MaxDuration, func() {
		c.finish(rec, StopTimedOut, nil)
	})
	go c.drain(rec)

	log.Info().
		Str("session", rec.id).
		Str("mime_type", stream.MIMEType()).
		Dur("max_duration", c.limits.MaxDuration).
		Msg("Recording started")

	c.unlockAndNotify()
	return nil
}

// StopRecording finalizes the active recording. It is a no-op when not recording.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	rec := c.rec
	active := c.state == StateRecording
	c.mu.Unlock()

	if !active || rec == nil {
		return
	}
	c.finish(rec, StopManual, nil)
}

// Await blocks until the current recording session ends and returns its
// payload. When no recording is active it returns the pending payload, or
// ErrNotReady.
func (c *Controller) Await(ctx context.Context) (*Payload, error) {
	c.mu.Lock()
	rec := c.rec
	pending := c.pending
	c.mu.Unlock()

	if rec == nil {
		if pending != nil {
			return pending, nil
		}
		return nil, ErrNotReady
	}

	select {
	case <-rec.done:
		return rec.payload, rec.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Take hands the pending payload to the caller and returns the controller
// to idle.
func (c *Controller) Take() (*Payload, error) {
	c.mu.Lock()
	if c.busyLocked() {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.pending == nil {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	p := c.pending
	c.pending = nil
	c.rec = nil
	c.transitionLocked(StateIdle)
	c.unlockAndNotify()
	return p, nil
}

// Reset discards any pending payload and returns to idle. An active
// recording is abandoned and Reset returns only after its stream has been
// released.
func (c *Controller) Reset() {
	c.mu.Lock()
	rec := c.rec
	if c.opening != nil {
		c.opening.reset = true
		c.opening = nil
	}
	c.pending = nil
	c.rec = nil
	c.transitionLocked(StateIdle)
	c.unlockAndNotify()

	if rec != nil {
		c.finish(rec, stopReset, nil)
		<-rec.done
	}
}

// busyLocked reports whether a recording is opening or running.
func (c *Controller) busyLocked() bool {
	return c.opening != nil || c.state == StateRecording
}

// drain copies the stream into the session buffer until it ends, then
// finalizes the session.
func (c *Controller) drain(rec *recording) {
	limit := c.limits.MaxSizeBytes
	n, err := io.Copy(&rec.buf, io.LimitReader(rec.stream, limit))
	rec.copyErr = err
	close(rec.copyDone)

	reason := StopEndOfData
	if err == nil && n >= limit {
		reason = StopSizeLimit
	}
	c.finish(rec, reason, err)
}

// finish ends rec exactly once: it cancels the ceiling timer, releases the
// stream, waits for the drain goroutine and publishes the outcome. A session
// discarded by Reset in the meantime publishes nothing.
func (c *Controller) finish(rec *recording, reason StopReason, cause error) {
	c.mu.Lock()
	if rec.finishing {
		c.mu.Unlock()
		return
	}
	rec.finishing = true
	c.mu.Unlock()

	if rec.timer != nil {
		rec.timer.Stop()
	}
	if err := rec.stream.Close(); err != nil {
		log.Warn().Err(err).Str("session", rec.id).Msg("Failed to release microphone stream")
	}
	<-rec.copyDone

	c.mu.Lock()
	data := rec.buf.Bytes()
	switch {
	case c.rec != rec:
		rec.err = ErrReset

	case cause != nil:
		rec.err = fmt.Errorf("recording failed: %w", cause)
		c.transitionLocked(StateIdle)

	case len(data) == 0:
		rec.err = ErrEmptyRecording
		c.transitionLocked(StateIdle)

	default:
		mimeType := NormalizeMIMEType(rec.stream.MIMEType())
		if mimeType == "" {
			mimeType = "audio/webm"
		}
		rec.payload = &Payload{
			SessionID:  rec.id,
			Data:       bytes.Clone(data),
			MIMEType:   mimeType,
			Source:     SourceMicrophone,
			StopReason: reason,
			CapturedAt: rec.startedAt,
		}
		c.pending = rec.payload
		if reason == StopTimedOut {
			c.transitionLocked(StateTimedOut)
		} else {
			c.transitionLocked(StateStopped)
		}
		c.transitionLocked(StateReady)
	}
	close(rec.done)

	evt := log.Info()
	if rec.err != nil {
		evt = log.Warn().Err(rec.err)
	}
	evt.Str("session", rec.id).
		Str("reason", string(reason)).
		Int("bytes", len(data)).
		Dur("elapsed", c.clock.Now().Sub(rec.startedAt)).
		Msg("Recording finished")

	c.unlockAndNotify()
}

// transitionLocked records a state change; the hook runs in unlockAndNotify.
func (c *Controller) transitionLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.transitions = append(c.transitions, [2]State{from, to})
}

// unlockAndNotify releases the lock and delivers queued transitions.
func (c *Controller) unlockAndNotify() {
	queued := c.transitions
	c.transitions = nil
	hook := c.onTransition
	c.mu.Unlock()

	if hook == nil {
		return
	}
	for _, t := range queued {
		hook(t[0], t[1])
	}
}
