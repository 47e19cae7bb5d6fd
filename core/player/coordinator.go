package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"harmony/core/audio"
	"harmony/core/playlist"
	"harmony/core/utils"
	"harmony/core/worker"
	"harmony/logger"
	"harmony/model"
	"harmony/repository"
)

// ErrClosed is returned by operations issued after Shutdown.
var ErrClosed = errors.New("player closed")

// Engine is the audio engine as the coordinator uses it.
type Engine interface {
	Load(path string) error
	Play() error
	Pause()
	Seek(seconds int) error
	SetVolume(level float64) bool
	Volume() float64
	Progress() (position, duration int, state audio.State)
	State() audio.State
	Path() string
	Reset()
}

// Options 协调器配置
type Options struct {
	PollInterval time.Duration
	StuckPolls   int
	Rand         playlist.Rand
	// Accessible reports whether a track file can still be opened.
	Accessible func(path string) bool
	// Session is optional; nil disables save and restore.
	Session repository.SessionRepository
}

// Snapshot is a consistent copy of the observable player state.
type Snapshot struct {
	Track    *model.Track
	Index    int
	Position int
	Duration int
	Playing  bool
	State    audio.State
	Shuffle  bool
	Loop     bool
	Volume   float64
	Tracks   []model.Track
}

// Coordinator keeps the playlist consistent with the catalog and drives the
// engine. All of its state is owned by one goroutine; the exported methods
// post work to it and wait for the answer. Blocking I/O runs on the runner
// and comes back through its completion channel. The engine is only touched
// from the loop while no load is queued on the runner.
type Coordinator struct {
	engine   Engine
	catalog  repository.TrackRepository
	runner   *worker.Runner
	listener Listener
	opts     Options

	// loop-owned
	list         *playlist.Playlist
	detector     *CompletionDetector
	generation   uint64
	loading      bool
	loadResume   bool
	active       bool
	loadFailures int
	pendingLoads int
	volume       float64
	seekPath     string
	seekTo       int
	lastProgress Progress
	monitorOff   bool

	started  atomic.Bool
	ops      chan func()
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator 创建播放协调器
func NewCoordinator(engine Engine, catalog repository.TrackRepository, runner *worker.Runner, listener Listener, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Accessible == nil {
		opts.Accessible = utils.Readable
	}
	if listener == nil {
		listener = nopListener{}
	}
	return &Coordinator{
		engine:   engine,
		catalog:  catalog,
		runner:   runner,
		listener: listener,
		opts:     opts,
		list:     playlist.New(opts.Rand),
		detector: NewCompletionDetector(opts.StuckPolls),
		volume:   engine.Volume(),
		ops:      make(chan func()),
		stopChan: make(chan struct{}),
	}
}

// Start runs the coordinator and background worker, then reconciles the
// catalog and restores the saved session.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.runner.Start(ctx)
	c.wg.Add(1)
	go c.loop()

	_ = c.post(ctx, func() {
		c.reconcile(func(int, error) { c.restoreSession() })
	})
	logger.Info("player started", logger.Duration("pollInterval", c.opts.PollInterval))
}

// Shutdown stops the monitor, pauses and releases the engine, saves the
// session and runs a last catalog reconciliation.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.started.Load() {
		return ErrClosed
	}
	var state model.SessionState
	var saved bool
	err := c.post(ctx, func() {
		c.monitorOff = true
		if !c.engineBusy() {
			c.engine.Pause()
		}
		state, saved = c.sessionState()
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
	c.runner.Stop()
	c.engine.Reset()

	if saved && c.opts.Session != nil {
		if serr := c.opts.Session.Save(ctx, state); serr != nil {
			logger.Warn("failed to save session", logger.ErrorField(serr))
		}
	}

	res, verr := c.catalog.Validate(ctx)
	if verr != nil {
		logger.Error("final catalog cleanup failed", logger.ErrorField(verr))
		return verr
	}
	logger.Info("player shut down", logger.Int("removed", res.Removed))
	return err
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case op := <-c.ops:
			op()
		case done := <-c.runner.Completions():
			done()
		case <-ticker.C:
			c.poll()
		}
	}
}

// post runs fn on the loop and waits until it has returned.
func (c *Coordinator) post(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.ops <- func() { fn(); close(finished) }:
	case <-c.stopChan:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type reply[T any] struct {
	v   T
	err error
}

// request starts op on the loop and waits for it to call done, which may
// happen later from a background completion.
func request[T any](ctx context.Context, c *Coordinator, op func(done func(T, error))) (T, error) {
	var zero T
	ch := make(chan reply[T], 1)
	var once sync.Once
	done := func(v T, err error) {
		once.Do(func() { ch <- reply[T]{v, err} })
	}
	if err := c.post(ctx, func() { op(done) }); err != nil {
		return zero, err
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.stopChan:
		return zero, ErrClosed
	}
}

// AddFiles adds paths to the catalog and returns how many were new.
func (c *Coordinator) AddFiles(ctx context.Context, paths []string) (int, error) {
	return request(ctx, c, func(done func(int, error)) { c.addFiles(paths, done) })
}

// Refresh reconciles the catalog with the filesystem and returns how many
// entries were removed.
func (c *Coordinator) Refresh(ctx context.Context) (int, error) {
	return request(ctx, c, func(done func(int, error)) { c.reconcile(done) })
}

// SelectTrack makes index current and loads it, keeping the play state.
func (c *Coordinator) SelectTrack(ctx context.Context, index int) error {
	_, err := request(ctx, c, func(done func(struct{}, error)) {
		done(struct{}{}, c.selectAndLoad(index, c.playing()))
	})
	return err
}

// PlayPause toggles between playing and paused.
func (c *Coordinator) PlayPause(ctx context.Context) error {
	_, err := request(ctx, c, func(done func(struct{}, error)) {
		done(struct{}{}, c.playPause())
	})
	return err
}

func (c *Coordinator) Next(ctx context.Context) error {
	_, err := request(ctx, c, func(done func(struct{}, error)) {
		done(struct{}{}, c.advance(playlist.Next, c.playing()))
	})
	return err
}

func (c *Coordinator) Previous(ctx context.Context) error {
	_, err := request(ctx, c, func(done func(struct{}, error)) {
		done(struct{}{}, c.advance(playlist.Previous, c.playing()))
	})
	return err
}

// Seek moves within the current track.
func (c *Coordinator) Seek(ctx context.Context, seconds int) error {
	_, err := request(ctx, c, func(done func(struct{}, error)) {
		done(struct{}{}, c.seek(seconds))
	})
	return err
}

// SetVolume sets the level in [0, 1] and reports whether it reached a live
// session.
func (c *Coordinator) SetVolume(ctx context.Context, level float64) (bool, error) {
	return request(ctx, c, func(done func(bool, error)) {
		applied := c.setVolume(level)
		c.publishState()
		c.saveSession()
		done(applied, nil)
	})
}

func (c *Coordinator) ToggleShuffle(ctx context.Context) (bool, error) {
	return request(ctx, c, func(done func(bool, error)) {
		on := c.list.ToggleShuffle()
		logger.Info("shuffle toggled", logger.Bool("on", on))
		c.publishState()
		c.saveSession()
		done(on, nil)
	})
}

func (c *Coordinator) ToggleLoop(ctx context.Context) (bool, error) {
	return request(ctx, c, func(done func(bool, error)) {
		on := c.list.ToggleLoop()
		logger.Info("loop single toggled", logger.Bool("on", on))
		c.publishState()
		c.saveSession()
		done(on, nil)
	})
}

// RemoveTrack deletes the track at index from the catalog.
func (c *Coordinator) RemoveTrack(ctx context.Context, index int) error {
	_, err := request(ctx, c, func(done func(struct{}, error)) { c.removeTrack(index, done) })
	return err
}

func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	return request(ctx, c, func(done func(Snapshot, error)) { done(c.snapshot(), nil) })
}

// --- loop-side operations ---

// engineBusy reports whether a load is queued or running on the runner. The
// engine holds its lock through decode and device open, so the loop must
// not call it meanwhile.
func (c *Coordinator) engineBusy() bool {
	return c.pendingLoads > 0
}

func (c *Coordinator) engineState() audio.State {
	if c.engineBusy() {
		return audio.StateIdle
	}
	return c.engine.State()
}

func (c *Coordinator) playing() bool {
	if c.loading {
		return c.loadResume
	}
	return c.engineState() == audio.StatePlaying
}

// setVolume keeps the level on the loop; a busy engine picks it up when the
// load completes.
func (c *Coordinator) setVolume(level float64) bool {
	c.volume = audio.ClampLevel(level)
	if c.engineBusy() {
		return false
	}
	return c.engine.SetVolume(c.volume)
}

type addOutcome struct {
	added repository.AddResult
	valid repository.ValidateResult
}

func (c *Coordinator) addFiles(paths []string, done func(int, error)) {
	_, err := worker.Submit(c.runner, "add-files", func(ctx context.Context) (addOutcome, error) {
		added, err := c.catalog.AddBatch(ctx, paths)
		if err != nil {
			return addOutcome{}, err
		}
		valid, err := c.catalog.Validate(ctx)
		return addOutcome{added: added, valid: valid}, err
	}, func(out addOutcome, err error) {
		if err != nil {
			logger.Error("adding files failed", logger.ErrorField(err))
			c.notifyError(err, "could not add files")
			done(0, err)
			return
		}

		wasEmpty := c.list.Len() == 0
		c.applyReconcile(out.valid)
		c.listener.Notify(SongsAdded{
			Added:        out.added.Added,
			Duplicates:   out.added.Duplicates,
			Inaccessible: out.added.Inaccessible,
		})
		if wasEmpty && c.list.Len() > 0 && !c.loading && !c.active {
			if err := c.selectAndLoad(0, false); err != nil {
				logger.Warn("could not load first track", logger.ErrorField(err))
			}
		}
		done(out.added.Added, nil)
	})
	if err != nil {
		done(0, err)
	}
}

// reconcile validates the catalog in the background and replaces the
// playlist with the result. done may be nil.
func (c *Coordinator) reconcile(done func(int, error)) {
	if done == nil {
		done = func(int, error) {}
	}
	_, err := worker.Submit(c.runner, "reconcile", c.catalog.Validate, func(res repository.ValidateResult, err error) {
		if err != nil {
			logger.Error("catalog reconciliation failed", logger.ErrorField(err))
			c.notifyError(err, "could not read the music catalog")
			done(0, err)
			return
		}
		c.applyReconcile(res)
		done(res.Removed, nil)
	})
	if err != nil {
		done(0, err)
	}
}

func (c *Coordinator) applyReconcile(res repository.ValidateResult) {
	repair := c.list.Replace(res.Valid)

	if res.Removed > 0 {
		c.listener.Notify(SongsRemoved{Count: res.Removed, Paths: res.RemovedPaths})
	}
	if repair.CurrentLost {
		logger.Info("current track no longer available, stopping")
		c.stopPlayback()
	}
	if repair.ShapeChanged || res.Removed > 0 {
		c.listener.Notify(PlaylistChanged{Tracks: c.list.Tracks(), Position: c.list.Position()})
	}
	if repair.CurrentLost {
		if track, ok := c.list.Current(); ok {
			c.listener.Notify(TrackChanged{Index: c.list.Position(), Track: track})
		}
	}
	logger.Debug("playlist reconciled",
		logger.Int("tracks", c.list.Len()),
		logger.Int("removed", res.Removed),
		logger.Int("position", c.list.Position()))
}

// stopPlayback abandons any load in flight and releases the session. With a
// load still queued the reset waits behind it on the runner.
func (c *Coordinator) stopPlayback() {
	c.generation++
	c.loading = false
	c.active = false
	c.detector.Reset()
	busy := c.engineBusy()
	if !busy {
		c.engine.Pause()
	}
	if _, err := c.runner.Go("reset-engine", func(context.Context) worker.Completion {
		c.engine.Reset()
		return nil
	}); err != nil && !busy {
		c.engine.Reset()
	}
	c.publishState()
}

func (c *Coordinator) selectAndLoad(index int, resume bool) error {
	track, ok := c.list.At(index)
	if !ok {
		return fmt.Errorf("%w: %d of %d", model.ErrIndexOutOfRange, index, c.list.Len())
	}
	if !c.opts.Accessible(track.FilePath) {
		logger.Warn("selected track file is missing", logger.String("path", track.FilePath))
		c.listener.Notify(Error{Kind: model.KindFileMissing, Message: "file not found: " + track.FilePath})
		c.reconcile(nil)
		return fmt.Errorf("%w: %s", model.ErrFileMissing, track.FilePath)
	}
	if err := c.list.SetPosition(index); err != nil {
		return err
	}
	c.listener.Notify(TrackChanged{Index: index, Track: track})
	c.load(track, resume)
	return nil
}

// advance moves to the next or previous playable track and loads it.
func (c *Coordinator) advance(dir playlist.Direction, resume bool) error {
	idx, ok := c.list.Advance(dir, c.opts.Accessible)
	if !ok {
		if c.list.Len() > 0 {
			logger.Warn("no accessible track left, reconciling", logger.String("direction", dir.String()))
		}
		c.reconcile(nil)
		return model.ErrPlaylistEmpty
	}
	track, _ := c.list.At(idx)
	logger.Debug("advancing", logger.String("direction", dir.String()), logger.Int("index", idx))
	c.listener.Notify(TrackChanged{Index: idx, Track: track})
	c.load(track, resume)
	return nil
}

// load opens track on the worker. Completions from superseded loads are
// dropped by comparing generations.
func (c *Coordinator) load(track model.Track, resume bool) {
	c.generation++
	gen := c.generation
	c.loading = true
	c.loadResume = resume
	c.active = false
	c.detector.Reset()

	path := track.FilePath
	_, err := worker.Submit(c.runner, "load", func(context.Context) (struct{}, error) {
		return struct{}{}, c.engine.Load(path)
	}, func(_ struct{}, err error) {
		c.pendingLoads--
		if gen != c.generation {
			logger.Debug("stale load result discarded", logger.String("path", path))
			return
		}
		c.loading = false
		if err != nil {
			c.handleLoadFailure(track, err)
			return
		}

		c.loadFailures = 0
		c.active = true
		c.engine.SetVolume(c.volume)
		if c.seekPath == path && c.seekTo > 0 {
			if serr := c.engine.Seek(c.seekTo); serr != nil {
				logger.Warn("could not restore position", logger.ErrorField(serr))
			}
		}
		c.seekPath, c.seekTo = "", 0
		if c.loadResume {
			if perr := c.engine.Play(); perr != nil {
				c.notifyError(perr, "playback could not start")
			}
		}
		c.publishState()
		c.saveSession()
	})
	if err != nil {
		c.loading = false
		logger.Warn("load not scheduled", logger.ErrorField(err))
		return
	}
	c.pendingLoads++
}

func (c *Coordinator) handleLoadFailure(track model.Track, err error) {
	logger.Warn("failed to load track", logger.String("path", track.FilePath), logger.ErrorField(err))
	c.active = false
	c.seekPath, c.seekTo = "", 0
	resume := c.loadResume

	if errors.Is(err, model.ErrUnreadableFile) || errors.Is(err, model.ErrFileMissing) {
		c.listener.Notify(Error{Kind: model.KindFileMissing, Message: "file not found: " + track.FilePath})
		c.publishState()
		c.reconcile(nil)
		return
	}

	c.notifyError(err, "cannot play "+track.Title)
	c.loadFailures++
	if c.list.Len() > 1 && c.loadFailures < c.list.Len() {
		if aerr := c.advance(playlist.Next, resume); aerr != nil {
			c.loadFailures = 0
		}
		return
	}

	c.loadFailures = 0
	c.listener.Notify(Error{Kind: model.KindOf(err), Message: "no playable content in the playlist"})
	c.publishState()
}

func (c *Coordinator) playPause() error {
	if c.loading {
		c.loadResume = !c.loadResume
		c.publishState()
		return nil
	}
	switch c.engineState() {
	case audio.StatePlaying:
		c.engine.Pause()
	case audio.StatePaused, audio.StateLoaded:
		if err := c.engine.Play(); err != nil {
			c.notifyError(err, "playback could not start")
			return err
		}
	default:
		if c.list.Len() == 0 {
			return model.ErrPlaylistEmpty
		}
		pos := c.list.Position()
		if pos < 0 {
			pos = 0
		}
		return c.selectAndLoad(pos, true)
	}
	c.publishState()
	c.saveSession()
	return nil
}

func (c *Coordinator) seek(seconds int) error {
	if c.loading || !c.active {
		return model.ErrNotLoaded
	}
	if err := c.engine.Seek(seconds); err != nil {
		c.notifyError(err, "seek failed")
		return err
	}
	c.detector.Reset()
	c.publishProgress(true)
	return nil
}

func (c *Coordinator) removeTrack(index int, done func(struct{}, error)) {
	track, ok := c.list.At(index)
	if !ok {
		done(struct{}{}, fmt.Errorf("%w: %d of %d", model.ErrIndexOutOfRange, index, c.list.Len()))
		return
	}
	_, err := worker.Submit(c.runner, "remove-track", func(ctx context.Context) (repository.ValidateResult, error) {
		if err := c.catalog.RemoveByPath(ctx, track.FilePath); err != nil {
			return repository.ValidateResult{}, err
		}
		return c.catalog.Validate(ctx)
	}, func(res repository.ValidateResult, err error) {
		if err != nil {
			c.notifyError(err, "could not remove "+track.Title)
			done(struct{}{}, err)
			return
		}
		logger.Info("track removed", logger.String("path", track.FilePath))
		c.listener.Notify(SongsRemoved{Count: 1, Paths: []string{track.FilePath}})
		c.applyReconcile(res)
		done(struct{}{}, nil)
	})
	if err != nil {
		done(struct{}{}, err)
	}
}

// poll is the progress monitor tick.
func (c *Coordinator) poll() {
	if c.monitorOff || c.loading || !c.active || c.engineBusy() {
		return
	}
	pos, dur, state := c.engine.Progress()
	if state != audio.StatePlaying {
		return
	}
	c.lastProgress = c.emitProgress(pos, dur, false)

	if !c.detector.Observe(pos, dur) {
		return
	}
	logger.Info("track finished", logger.Int("position", pos), logger.Int("duration", dur))
	c.monitorOff = true
	if err := c.advance(playlist.Next, true); err != nil {
		logger.Warn("no next track after completion", logger.ErrorField(err))
		c.stopPlayback()
	}
	c.monitorOff = false
}

func (c *Coordinator) publishProgress(force bool) {
	pos, dur, _ := c.engine.Progress()
	c.lastProgress = c.emitProgress(pos, dur, force)
}

func (c *Coordinator) emitProgress(pos, dur int, force bool) Progress {
	p := Progress{Position: pos, Duration: dur}
	if force || p != c.lastProgress {
		c.listener.Notify(p)
	}
	return p
}

func (c *Coordinator) publishState() {
	c.listener.Notify(PlaybackStateChanged{
		Playing: c.playing(),
		State:   c.engineState(),
		Shuffle: c.list.Shuffle(),
		Loop:    c.list.Loop(),
		Volume:  c.volume,
	})
}

func (c *Coordinator) notifyError(err error, msg string) {
	c.listener.Notify(Error{Kind: model.KindOf(err), Message: fmt.Sprintf("%s: %v", msg, err)})
}

func (c *Coordinator) snapshot() Snapshot {
	var pos, dur int
	state := audio.StateIdle
	if !c.engineBusy() {
		pos, dur, state = c.engine.Progress()
	}
	s := Snapshot{
		Index:    c.list.Position(),
		Position: pos,
		Duration: dur,
		Playing:  c.playing(),
		State:    state,
		Shuffle:  c.list.Shuffle(),
		Loop:     c.list.Loop(),
		Volume:   c.volume,
		Tracks:   c.list.Tracks(),
	}
	if track, ok := c.list.Current(); ok {
		s.Track = &track
	}
	return s
}
