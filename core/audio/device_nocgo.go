//go:build linux && !cgo

package audio

import (
	"fmt"
	"sync"
	"time"

	"harmony/model"

	"github.com/gopxl/beep/v2"
)

// SpeakerDevice is unavailable without cgo: the native sound libraries
// cannot be linked, so Open always fails and the player runs without output.
type SpeakerDevice struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
}

func NewSpeakerDevice(sampleRate int, _ time.Duration) *SpeakerDevice {
	return &SpeakerDevice{sampleRate: beep.SampleRate(sampleRate)}
}

func (d *SpeakerDevice) Open() error {
	return fmt.Errorf("%w: built without cgo", model.ErrDeviceUnavailable)
}

func (d *SpeakerDevice) SampleRate() beep.SampleRate { return d.sampleRate }
func (d *SpeakerDevice) Play(beep.Streamer)          {}
func (d *SpeakerDevice) Clear()                      {}
func (d *SpeakerDevice) Lock()                       { d.mu.Lock() }
func (d *SpeakerDevice) Unlock()                     { d.mu.Unlock() }
func (d *SpeakerDevice) Close()                      {}
