package audio

import (
	"github.com/gopxl/beep/v2"
)

// Device is the hardware output the engine plays into. Lock and Unlock guard
// any state the device's playback goroutine reads from attached streamers.
type Device interface {
	// Open acquires the output. Calling it again once open is a no-op.
	Open() error
	SampleRate() beep.SampleRate
	// Play attaches s to the output mixer. Must not be called under Lock.
	Play(s beep.Streamer)
	// Clear detaches every streamer.
	Clear()
	Lock()
	Unlock()
	// Close releases the output.
	Close()
}
