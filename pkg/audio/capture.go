// Package audio provides microphone capture, Opus encoding/decoding,
// Ogg clip packaging, and clip playback.
package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	preInitOnce sync.Once
	preInitDone chan struct{} = make(chan struct{})
)

// PreInitAudio starts PortAudio initialization in the background.
// Call this early (e.g. at app startup) so the slow Windows device
// enumeration happens while the user types in the login form.
// CaptureDevice.Start will wait for it to finish before proceeding.
func PreInitAudio() {
	preInitOnce.Do(func() {
		go func() {
			slog.Debug("pre-initializing PortAudio...")
			if err := portaudio.Initialize(); err != nil {
				slog.Error("pre-init portaudio failed", "err", err)
			}
			slog.Debug("PortAudio pre-init complete")
			close(preInitDone)
		}()
	})
}

// WaitPreInit blocks until the background PreInitAudio completes.
// If PreInitAudio was never called, it triggers it now (blocking).
func WaitPreInit() {
	PreInitAudio() // ensure the init goroutine has been launched
	<-preInitDone
}

// CaptureDevice captures PCM audio from the default input device. The
// stream is opened on Start and fully released on Stop, so the
// microphone is only held while a clip is being recorded.
type CaptureDevice struct {
	stream     *portaudio.Stream
	sampleRate float64
	frameSize  int
	buffer     []int16
	mu         sync.Mutex
	running    bool
}

// NewCaptureDevice creates a new audio capture device.
// frameSize is the number of samples per frame (e.g., 960 for 20ms at 48kHz).
func NewCaptureDevice(sampleRate float64, frameSize int) *CaptureDevice {
	return &CaptureDevice{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		buffer:     make([]int16, frameSize),
	}
}

// Start acquires the input device and begins capture.
func (c *CaptureDevice) Start() error {
	WaitPreInit()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	input, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("audio: no input device: %w", err)
	}

	params := portaudio.LowLatencyParameters(input, nil)
	params.Input.Channels = 1
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = c.sampleRate
	params.FramesPerBuffer = c.frameSize

	stream, err := portaudio.OpenStream(params, c.buffer)
	if err != nil {
		return fmt.Errorf("audio: open capture stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("audio: start capture: %w", err)
	}

	c.stream = stream
	c.running = true
	slog.Debug("audio capture started", "device", input.Name, "rate", c.sampleRate)
	return nil
}

// ReadFrame reads one frame of PCM audio. Blocks until a frame is
// available. Returns a copy of the frame buffer.
func (c *CaptureDevice) ReadFrame() ([]int16, error) {
	c.mu.Lock()
	stream := c.stream
	running := c.running
	c.mu.Unlock()
	if !running || stream == nil {
		return nil, fmt.Errorf("audio: capture not running")
	}
	if err := stream.Read(); err != nil {
		return nil, fmt.Errorf("audio: read frame: %w", err)
	}
	frame := make([]int16, len(c.buffer))
	copy(frame, c.buffer)
	return frame, nil
}

// Stop stops capture and releases the input device.
func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	if c.stream != nil {
		_ = c.stream.Stop()
		_ = c.stream.Close()
		c.stream = nil
	}
	slog.Debug("audio capture stopped")
	return nil
}
