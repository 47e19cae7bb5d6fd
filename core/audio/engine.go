package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"harmony/core/utils"
	"harmony/logger"
	"harmony/model"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// State 播放引擎状态
type State int

const (
	StateIdle State = iota
	StateLoaded
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

const resampleQuality = 4

// session is one opened track: decoder, gain stage and pause switch.
type session struct {
	path     string
	streamer beep.StreamSeekCloser
	format   beep.Format
	gain     *effects.Volume
	ctrl     *beep.Ctrl
	attached bool
	drained  atomic.Bool
}

func (s *session) duration() time.Duration {
	return s.format.SampleRate.D(s.streamer.Len())
}

// Engine owns at most one playback session and the output device. All
// methods are safe for concurrent use; one mutex serialises them.
type Engine struct {
	mu       sync.Mutex
	device   Device
	sess     *session
	state    State
	volume   float64
	position time.Duration
}

// NewEngine 创建播放引擎, volume 为初始音量 0.0-1.0
func NewEngine(device Device, volume float64) *Engine {
	return &Engine{
		device: device,
		volume: ClampLevel(volume),
	}
}

// Load tears down any current session and opens path, leaving it paused at
// zero. On failure the engine is Idle and nothing is left open.
func (e *Engine) Load(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardownLocked()

	if err := utils.CheckReadable(path); err != nil {
		logger.Warn("cannot read audio file", logger.String("path", path), logger.ErrorField(err))
		return fmt.Errorf("%w: %s: %v", model.ErrUnreadableFile, path, err)
	}

	streamer, format, err := decode(path)
	if err != nil {
		logger.Warn("cannot decode audio file", logger.String("path", path), logger.ErrorField(err))
		return err
	}

	if err := e.device.Open(); err != nil {
		streamer.Close()
		logger.Error("audio output unavailable", logger.ErrorField(err))
		return fmt.Errorf("%w: %v", model.ErrDeviceUnavailable, err)
	}

	var src beep.Streamer = streamer
	if outRate := e.device.SampleRate(); outRate != format.SampleRate {
		src = beep.Resample(resampleQuality, format.SampleRate, outRate, streamer)
	}
	gain := &effects.Volume{Streamer: src, Base: 10}
	applyGain(gain, e.volume)

	e.sess = &session{
		path:     path,
		streamer: streamer,
		format:   format,
		gain:     gain,
		ctrl:     &beep.Ctrl{Streamer: gain, Paused: true},
	}
	e.state = StateLoaded
	e.position = 0

	logger.Info("track loaded",
		logger.String("path", path),
		logger.Int("sampleRate", int(format.SampleRate)),
		logger.Duration("duration", e.sess.duration()))
	return nil
}

// Play starts or resumes output from the current position.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		logger.Warn("play requested with nothing loaded")
		return model.ErrNotLoaded
	}
	if e.state == StatePlaying {
		return nil
	}
	e.startOutputLocked()
	e.state = StatePlaying
	return nil
}

// Pause stops output and remembers the position.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil || e.state != StatePlaying {
		return
	}
	s := e.sess
	e.device.Lock()
	s.ctrl.Paused = true
	e.position = s.format.SampleRate.D(s.streamer.Position())
	e.device.Unlock()
	e.state = StatePaused
}

// Seek moves to seconds clamped to [0, duration-1]. Playing stays playing,
// anything else ends up paused at the new position.
func (e *Engine) Seek(seconds int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		logger.Warn("seek requested with nothing loaded")
		return model.ErrNotLoaded
	}
	s := e.sess
	durSec := int(s.duration() / time.Second)
	target := time.Duration(ClampSeek(seconds, durSec)) * time.Second
	wasPlaying := e.state == StatePlaying

	e.device.Lock()
	s.ctrl.Paused = true
	err := s.streamer.Seek(clampSample(s.format.SampleRate.N(target), s.streamer.Len()))
	if err != nil {
		_ = s.streamer.Seek(0)
		target = 0
	}
	e.device.Unlock()
	e.position = target

	if err != nil {
		logger.Warn("seek failed, rewound to start", logger.String("path", s.path), logger.ErrorField(err))
		e.state = StatePaused
		return fmt.Errorf("seek %s: %w", s.path, err)
	}

	if wasPlaying {
		e.startOutputLocked()
		return nil
	}
	e.state = StatePaused
	return nil
}

// SetVolume records the level and applies it to the open session. It returns
// false when nothing is loaded; the level is still used for the next load.
func (e *Engine) SetVolume(level float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.volume = ClampLevel(level)
	if e.sess == nil {
		logger.Debug("volume stored, no open session", logger.Float64("level", e.volume))
		return false
	}
	e.device.Lock()
	applyGain(e.sess.gain, e.volume)
	e.device.Unlock()
	return true
}

// Volume returns the current level.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Position is the current position in whole seconds, 0 when idle.
func (e *Engine) Position() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.positionLocked() / time.Second)
}

// Duration is the track length in whole seconds, 0 when idle.
func (e *Engine) Duration() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return 0
	}
	return int(e.sess.duration() / time.Second)
}

// Progress reads position, duration and state in one step.
func (e *Engine) Progress() (position, duration int, state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return 0, 0, e.state
	}
	return int(e.positionLocked() / time.Second), int(e.sess.duration() / time.Second), e.state
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Path returns the loaded file, or "" when idle.
func (e *Engine) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.path
}

// Drained reports whether the loaded stream has played to its end.
func (e *Engine) Drained() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.drained.Load()
}

// Reset releases the current session and returns to Idle. Safe in any state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

// Dispose is Reset; the device stays open for the next Load.
func (e *Engine) Dispose() { e.Reset() }

// Close releases the session and the output device.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
	e.device.Close()
}

func (e *Engine) positionLocked() time.Duration {
	if e.sess == nil {
		return 0
	}
	if e.state == StatePlaying {
		e.device.Lock()
		e.position = e.sess.format.SampleRate.D(e.sess.streamer.Position())
		e.device.Unlock()
	}
	return e.position
}

// startOutputLocked unpauses the session, attaching it to the device first if
// it was never attached or has already drained out of the mixer.
func (e *Engine) startOutputLocked() {
	s := e.sess
	if !s.attached || s.drained.Load() {
		e.device.Lock()
		_ = s.streamer.Seek(clampSample(s.format.SampleRate.N(e.position), s.streamer.Len()))
		e.device.Unlock()

		s.drained.Store(false)
		e.device.Play(beep.Seq(s.ctrl, beep.Callback(func() {
			s.drained.Store(true)
		})))
		s.attached = true
	}
	e.device.Lock()
	s.ctrl.Paused = false
	e.device.Unlock()
}

func (e *Engine) teardownLocked() {
	if e.sess == nil {
		e.state = StateIdle
		e.position = 0
		return
	}
	s := e.sess
	e.device.Lock()
	s.ctrl.Paused = true
	e.device.Unlock()
	if s.attached {
		e.device.Clear()
	}
	if err := s.streamer.Close(); err != nil {
		logger.Debug("closing stream", logger.String("path", s.path), logger.ErrorField(err))
	}
	e.sess = nil
	e.state = StateIdle
	e.position = 0
}

func applyGain(v *effects.Volume, level float64) {
	v.Volume = GainDB(level) / 20
	v.Silent = false
}

func clampSample(n, length int) int {
	if n > length {
		return length
	}
	if n < 0 {
		return 0
	}
	return n
}
