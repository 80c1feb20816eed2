package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// ClipPlayer decodes and plays Ogg Opus voice clips through the
// default output device. One clip plays at a time; starting a new one
// stops the current one.
type ClipPlayer struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewClipPlayer creates a clip player.
func NewClipPlayer() *ClipPlayer {
	return &ClipPlayer{}
}

// Play starts playing a clip in the background. Any clip currently
// playing is stopped first.
func (p *ClipPlayer) Play(clip []byte) error {
	frames, err := DemuxClip(clip)
	if err != nil {
		return err
	}
	dec, err := NewDecoder()
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer cancel()
		if err := playFrames(ctx, dec, frames); err != nil {
			slog.Debug("clip playback", "err", err)
		}
	}()
	return nil
}

// Stop stops the clip currently playing, if any.
func (p *ClipPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func playFrames(ctx context.Context, dec *Decoder, frames [][]byte) error {
	WaitPreInit()

	output, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("audio: no output device: %w", err)
	}

	params := portaudio.LowLatencyParameters(nil, output)
	params.Output.Channels = 1
	params.Input.Device = nil
	params.Input.Channels = 0
	params.SampleRate = float64(opusSampleRate)
	params.FramesPerBuffer = opusFrameSize

	buffer := make([]int16, opusFrameSize)
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return fmt.Errorf("audio: open playback stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("audio: start playback: %w", err)
	}
	defer func() { _ = stream.Stop() }()

	for _, frame := range frames {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pcm, err := dec.Decode(frame)
		if err != nil {
			slog.Debug("decode clip frame", "err", err)
			continue
		}
		copy(buffer, pcm)
		for i := len(pcm); i < len(buffer); i++ {
			buffer[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("audio: write frame: %w", err)
		}
	}
	return nil
}
