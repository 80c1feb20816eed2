package client

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RecState is the recorder's state. The recorder is a two-state
// machine: transitions happen only through Start and Stop, and both
// are safe to call from any goroutine.
type RecState int

const (
	RecIdle RecState = iota
	RecRecording
)

// MaxClipDuration caps a voice clip; recording stops automatically
// when it elapses.
const MaxClipDuration = 60 * time.Second

var ErrMicUnavailable = errors.New("client: microphone unavailable")

// CaptureSource yields PCM frames from a microphone. Start acquires
// the device; Stop must release it so other applications can record.
type CaptureSource interface {
	Start() error
	ReadFrame() ([]int16, error)
	Stop() error
}

// FrameEncoder compresses one PCM frame.
type FrameEncoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// ClipMuxer packages encoded frames into a playable file.
type ClipMuxer interface {
	Mux(frames [][]byte) ([]byte, error)
	// FileExt is the extension for muxed clips (e.g. ".ogg").
	FileExt() string
	// MIME is the content type for muxed clips (e.g. "audio/ogg").
	MIME() string
}

// Recorder captures a bounded voice clip from a microphone. The
// capture device is held only while recording.
type Recorder struct {
	mu     sync.Mutex
	state  RecState
	frames [][]byte
	timer  *time.Timer
	gen    int

	source      CaptureSource
	encoder     FrameEncoder
	muxer       ClipMuxer
	maxDuration time.Duration

	// OnStateChange fires on every Idle<->Recording transition.
	OnStateChange func(recording bool)
	// OnClip fires with the finished clip after a successful stop.
	OnClip func(data []byte, duration time.Duration)
	// OnError fires when the microphone cannot be acquired or read.
	OnError func(err error)
}

// NewRecorder creates a recorder with the default clip cap.
func NewRecorder(source CaptureSource, encoder FrameEncoder, muxer ClipMuxer) *Recorder {
	return &Recorder{
		source:      source,
		encoder:     encoder,
		muxer:       muxer,
		maxDuration: MaxClipDuration,
	}
}

// SetMaxDuration overrides the clip cap. Zero or negative restores the
// default.
func (r *Recorder) SetMaxDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d <= 0 {
		d = MaxClipDuration
	}
	r.maxDuration = d
}

// State returns the current recorder state.
func (r *Recorder) State() RecState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Muxer returns the clip muxer, for callers that need the clip's file
// extension and content type.
func (r *Recorder) Muxer() ClipMuxer {
	return r.muxer
}

// Start begins recording. Calling Start while already recording is a
// no-op; a failed device acquisition leaves the recorder idle.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.state == RecRecording {
		r.mu.Unlock()
		return nil
	}
	if err := r.source.Start(); err != nil {
		r.mu.Unlock()
		err = errors.Join(ErrMicUnavailable, err)
		if r.OnError != nil {
			r.OnError(err)
		}
		return err
	}
	r.state = RecRecording
	r.frames = nil
	r.gen++
	gen := r.gen
	max := r.maxDuration
	r.timer = time.AfterFunc(max, func() {
		r.autoStop(gen)
	})
	r.mu.Unlock()

	if r.OnStateChange != nil {
		r.OnStateChange(true)
	}

	go r.captureLoop(gen)
	return nil
}

// Stop ends recording and emits the clip. Calling Stop while idle is a
// no-op.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state != RecRecording {
		r.mu.Unlock()
		return
	}
	r.state = RecIdle
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	frames := r.frames
	r.frames = nil
	r.mu.Unlock()

	// Release the microphone before muxing.
	if err := r.source.Stop(); err != nil {
		slog.Debug("capture stop", "err", err)
	}

	if r.OnStateChange != nil {
		r.OnStateChange(false)
	}

	if len(frames) == 0 {
		return
	}
	clip, err := r.muxer.Mux(frames)
	if err != nil {
		slog.Error("mux clip", "err", err)
		if r.OnError != nil {
			r.OnError(err)
		}
		return
	}
	duration := time.Duration(len(frames)) * frameDuration
	if r.OnClip != nil {
		r.OnClip(clip, duration)
	}
}

// autoStop fires from the cap timer. The generation check makes a
// stale timer from a previous recording harmless.
func (r *Recorder) autoStop(gen int) {
	r.mu.Lock()
	current := r.gen == gen && r.state == RecRecording
	r.mu.Unlock()
	if current {
		slog.Info("clip duration cap reached", "cap", r.maxDuration)
		r.Stop()
	}
}

// frameDuration is the wall-clock length of one capture frame.
const frameDuration = 20 * time.Millisecond

func (r *Recorder) captureLoop(gen int) {
	for {
		pcm, err := r.source.ReadFrame()
		if err != nil {
			// Expected once the source is stopped.
			return
		}

		data, err := r.encoder.Encode(pcm)
		if err != nil {
			slog.Debug("encode frame", "err", err)
			continue
		}

		r.mu.Lock()
		if r.gen != gen || r.state != RecRecording {
			r.mu.Unlock()
			return
		}
		r.frames = append(r.frames, data)
		r.mu.Unlock()
	}
}
