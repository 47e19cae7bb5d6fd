//go:build (linux && cgo) || windows || darwin

package audio

import (
	"fmt"
	"sync"
	"time"

	"harmony/logger"
	"harmony/model"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// SpeakerDevice is the system audio output.
type SpeakerDevice struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
	latency    time.Duration
	open       bool
}

// NewSpeakerDevice does not touch the hardware; that happens on first Open.
func NewSpeakerDevice(sampleRate int, latency time.Duration) *SpeakerDevice {
	return &SpeakerDevice{
		sampleRate: beep.SampleRate(sampleRate),
		latency:    latency,
	}
}

func (d *SpeakerDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil
	}
	if err := speaker.Init(d.sampleRate, d.sampleRate.N(d.latency)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDeviceUnavailable, err)
	}
	d.open = true
	logger.Info("audio output opened",
		logger.Int("sampleRate", int(d.sampleRate)),
		logger.Duration("latency", d.latency))
	return nil
}

func (d *SpeakerDevice) SampleRate() beep.SampleRate { return d.sampleRate }

func (d *SpeakerDevice) Play(s beep.Streamer) { speaker.Play(s) }

func (d *SpeakerDevice) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		speaker.Clear()
	}
}

func (d *SpeakerDevice) Lock()   { speaker.Lock() }
func (d *SpeakerDevice) Unlock() { speaker.Unlock() }

func (d *SpeakerDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		speaker.Close()
		d.open = false
	}
}
