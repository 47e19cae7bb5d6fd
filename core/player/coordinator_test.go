package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"harmony/config"
	"harmony/core/audio"
	"harmony/core/playlist"
	"harmony/core/utils"
	"harmony/core/worker"
	"harmony/db"
	"harmony/model"
	"harmony/repository"
)

// fakeEngine mimics the audio engine without decoding anything. Tracks are
// 120 seconds long unless durations says otherwise. Like the real engine it
// holds its lock for the whole Load, beforeLoad included.
type fakeEngine struct {
	mu         sync.Mutex
	state      audio.State
	path       string
	pos        int
	dur        int
	volume     float64
	loads      []string
	failures   map[string]error
	durations  map[string]int
	beforeLoad func(path string)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{volume: 0.8, failures: map[string]error{}, durations: map[string]int{}}
}

func (e *fakeEngine) Load(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.beforeLoad != nil {
		e.beforeLoad(path)
	}
	e.loads = append(e.loads, path)
	e.state, e.path, e.pos, e.dur = audio.StateIdle, "", 0, 0
	if err := utils.CheckReadable(path); err != nil {
		return fmt.Errorf("%w: %v", model.ErrUnreadableFile, err)
	}
	if err := e.failures[path]; err != nil {
		return err
	}
	dur, ok := e.durations[path]
	if !ok {
		dur = 120
	}
	e.state, e.path, e.dur = audio.StateLoaded, path, dur
	return nil
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.path == "" {
		return model.ErrNotLoaded
	}
	e.state = audio.StatePlaying
	return nil
}

func (e *fakeEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == audio.StatePlaying {
		e.state = audio.StatePaused
	}
}

func (e *fakeEngine) Seek(seconds int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.path == "" {
		return model.ErrNotLoaded
	}
	e.pos = audio.ClampSeek(seconds, e.dur)
	if e.state != audio.StatePlaying {
		e.state = audio.StatePaused
	}
	return nil
}

func (e *fakeEngine) SetVolume(level float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = audio.ClampLevel(level)
	return e.path != ""
}

func (e *fakeEngine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *fakeEngine) Progress() (int, int, audio.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, e.dur, e.state
}

func (e *fakeEngine) State() audio.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeEngine) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

func (e *fakeEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state, e.path, e.pos, e.dur = audio.StateIdle, "", 0, 0
}

func (e *fakeEngine) setPosition(pos int) {
	e.mu.Lock()
	e.pos = pos
	e.mu.Unlock()
}

func (e *fakeEngine) loadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loads)
}

func (e *fakeEngine) loaded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loads...)
}

// holdLoad makes the load of path block, engine lock held, until the
// returned release is called. entered is closed once that load has begun.
func (f *fixture) holdLoad(t *testing.T, path string) (entered <-chan struct{}, release func()) {
	t.Helper()
	in := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)

	f.engine.mu.Lock()
	f.engine.beforeLoad = func(p string) {
		if p == path {
			close(in)
			<-gate
		}
	}
	f.engine.mu.Unlock()
	return in, release
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) errors() []Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Error
	for _, e := range r.events {
		if ev, ok := e.(Error); ok {
			out = append(out, ev)
		}
	}
	return out
}

// after returns the events recorded after the first one matching first.
func (r *recorder) after(first func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if first(e) {
			return append([]Event(nil), r.events[i+1:]...)
		}
	}
	return nil
}

func (r *recorder) last(name string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].EventName() == name {
			return r.events[i], true
		}
	}
	return nil, false
}

type fixture struct {
	ctx     context.Context
	dir     string
	engine  *fakeEngine
	catalog repository.TrackRepository
	session repository.SessionRepository
	events  *recorder
	coord   *Coordinator
}

func newFixture(t *testing.T, files ...string) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), dir: t.TempDir(), events: &recorder{}}

	cfg := &config.Config{
		DBDriver:   "sqlite",
		DBPath:     filepath.Join(t.TempDir(), "catalog.db"),
		DBLogLevel: "silent",
	}
	gormDB, err := db.ConnectGormDB(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.CloseGormDB(gormDB) })

	f.catalog = repository.NewGormTrackRepository(gormDB)
	f.session = repository.NewGormSessionRepository(gormDB)

	var paths []string
	for _, name := range files {
		paths = append(paths, f.file(t, name))
	}
	if len(paths) > 0 {
		if _, err := f.catalog.AddBatch(f.ctx, paths); err != nil {
			t.Fatal(err)
		}
	}
	f.start(t, newFakeEngine())
	return f
}

func (f *fixture) start(t *testing.T, engine *fakeEngine) {
	t.Helper()
	f.engine = engine
	f.coord = NewCoordinator(engine, f.catalog, worker.NewRunner(), f.events, Options{
		PollInterval: 5 * time.Millisecond,
		StuckPolls:   4,
		Rand:         playlist.NewSeededRand(1),
		Session:      f.session,
	})
	f.coord.Start(f.ctx)
	coord := f.coord
	t.Cleanup(func() { _ = coord.Shutdown(context.Background()) })
}

func (f *fixture) file(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	if err := os.WriteFile(p, []byte("audio"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) path(name string) string { return filepath.Join(f.dir, name) }

func (f *fixture) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := f.coord.Snapshot(f.ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) waitTracks(t *testing.T, n int) {
	t.Helper()
	eventually(t, fmt.Sprintf("%d tracks", n), func() bool { return len(f.snapshot(t).Tracks) == n })
}

func TestAddFilesCountsOnlyNewTracks(t *testing.T) {
	f := newFixture(t, "Existing.mp3")
	f.waitTracks(t, 1)

	added, err := f.coord.AddFiles(f.ctx, []string{
		f.file(t, "Valid.mp3"),
		f.path("Existing.mp3"),
		f.path("Missing.mp3"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if n := len(f.snapshot(t).Tracks); n != 2 {
		t.Errorf("playlist has %d tracks, want 2", n)
	}

	ev, ok := f.events.last("songs-added")
	if !ok {
		t.Fatal("no songs-added event")
	}
	sa := ev.(SongsAdded)
	if sa.Added != 1 || len(sa.Duplicates) != 1 || len(sa.Inaccessible) != 1 {
		t.Errorf("summary = %+v", sa)
	}
}

func TestFirstAddLoadsFirstTrack(t *testing.T) {
	f := newFixture(t)

	added, err := f.coord.AddFiles(f.ctx, []string{f.file(t, "B.mp3"), f.file(t, "A.mp3")})
	if err != nil || added != 2 {
		t.Fatalf("AddFiles = %d, %v", added, err)
	}
	eventually(t, "first track loaded", func() bool { return f.engine.Path() == f.path("A.mp3") })
	if f.engine.State() != audio.StateLoaded {
		t.Errorf("first track should be loaded but not playing, got %v", f.engine.State())
	}
}

func TestPlayPauseAndNext(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3", "C.mp3")
	f.waitTracks(t, 3)

	if err := f.coord.PlayPause(f.ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "A playing", func() bool { return f.engine.State() == audio.StatePlaying })
	if f.engine.Path() != f.path("A.mp3") {
		t.Fatalf("playing %q", f.engine.Path())
	}

	if err := f.coord.Next(f.ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "B playing", func() bool {
		return f.engine.Path() == f.path("B.mp3") && f.engine.State() == audio.StatePlaying
	})
	if s := f.snapshot(t); s.Index != 1 || s.Track == nil || s.Track.Title != "B" {
		t.Errorf("snapshot = index %d track %+v", s.Index, s.Track)
	}

	if err := f.coord.PlayPause(f.ctx); err != nil {
		t.Fatal(err)
	}
	if f.engine.State() != audio.StatePaused {
		t.Fatalf("state = %v, want paused", f.engine.State())
	}
	if err := f.coord.Previous(f.ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "A loaded", func() bool { return f.engine.Path() == f.path("A.mp3") })
	if f.engine.State() == audio.StatePlaying {
		t.Error("previous while paused must not start playback")
	}
}

func TestCompletionAdvancesExactlyOnce(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3", "C.mp3")
	f.waitTracks(t, 3)

	if err := f.coord.PlayPause(f.ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "A playing", func() bool { return f.engine.State() == audio.StatePlaying })

	f.engine.setPosition(119)
	f.engine.setPosition(120)
	eventually(t, "B playing", func() bool {
		return f.engine.Path() == f.path("B.mp3") && f.engine.State() == audio.StatePlaying
	})

	time.Sleep(50 * time.Millisecond)
	if n := f.engine.loadCount(); n != 2 {
		t.Errorf("loads = %d, want 2 (A then B)", n)
	}
}

func TestSubSecondTrackAdvances(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3")
	f.waitTracks(t, 2)

	f.engine.mu.Lock()
	f.engine.durations[f.path("A.mp3")] = 0
	f.engine.mu.Unlock()

	if err := f.coord.PlayPause(f.ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "B playing after the zero-length A drained", func() bool {
		return f.engine.Path() == f.path("B.mp3") && f.engine.State() == audio.StatePlaying
	})
	time.Sleep(50 * time.Millisecond)
	if n := f.engine.loadCount(); n != 2 {
		t.Errorf("loads = %d, want 2 (A then B)", n)
	}
}

func TestControlsRespondWhileLoading(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3")
	f.waitTracks(t, 2)

	target := f.path("B.mp3")
	entered, release := f.holdLoad(t, target)
	if err := f.coord.SelectTrack(f.ctx, 1); err != nil {
		t.Fatal(err)
	}
	waitClosed(t, entered, "load of B to start")

	ctx, cancel := context.WithTimeout(f.ctx, time.Second)
	defer cancel()
	if on, err := f.coord.ToggleShuffle(ctx); err != nil || !on {
		t.Fatalf("ToggleShuffle during load = %v, %v", on, err)
	}
	if applied, err := f.coord.SetVolume(ctx, 0.4); err != nil || applied {
		t.Fatalf("SetVolume during load = %v, %v, want not applied yet", applied, err)
	}
	if err := f.coord.PlayPause(ctx); err != nil {
		t.Fatalf("PlayPause during load: %v", err)
	}
	s, err := f.coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot during load: %v", err)
	}
	if s.Index != 1 || !s.Playing || !s.Shuffle || s.Volume != 0.4 {
		t.Errorf("snapshot during load = index %d playing %v shuffle %v volume %v",
			s.Index, s.Playing, s.Shuffle, s.Volume)
	}

	release()
	eventually(t, "B playing", func() bool {
		return f.engine.Path() == target && f.engine.State() == audio.StatePlaying
	})
	if v := f.engine.Volume(); v != 0.4 {
		t.Errorf("engine volume = %v, want the level set during the load", v)
	}
}

func TestSupersededLoadIsDiscarded(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3", "C.mp3")
	f.waitTracks(t, 3)

	entered, release := f.holdLoad(t, f.path("B.mp3"))
	if err := f.coord.SelectTrack(f.ctx, 1); err != nil {
		t.Fatal(err)
	}
	waitClosed(t, entered, "load of B to start")
	if err := f.coord.SelectTrack(f.ctx, 2); err != nil {
		t.Fatal(err)
	}
	release()

	final := f.path("C.mp3")
	eventually(t, "C loaded", func() bool {
		s := f.snapshot(t)
		return s.Track != nil && s.Track.FilePath == final && s.State == audio.StateLoaded
	})
	time.Sleep(50 * time.Millisecond)

	if s := f.snapshot(t); s.Index != 2 || f.engine.Path() != final {
		t.Errorf("index %d engine path %q, want C", s.Index, f.engine.Path())
	}
	if got := f.engine.loaded(); len(got) != 2 || got[0] != f.path("B.mp3") || got[1] != final {
		t.Errorf("loads = %v", got)
	}

	later := f.events.after(func(e Event) bool {
		tc, ok := e.(TrackChanged)
		return ok && tc.Index == 2
	})
	states := 0
	for _, e := range later {
		switch ev := e.(type) {
		case TrackChanged:
			t.Errorf("track changed to %d after C was selected", ev.Index)
		case PlaybackStateChanged:
			states++
		}
	}
	if states != 1 {
		t.Errorf("%d state changes after selecting C, want only the one from its load", states)
	}
}

func TestLoopSingleReloadsSameTrack(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3")
	f.waitTracks(t, 2)

	on, err := f.coord.ToggleLoop(f.ctx)
	if err != nil || !on {
		t.Fatalf("ToggleLoop = %v, %v", on, err)
	}
	if err := f.coord.SelectTrack(f.ctx, 1); err != nil {
		t.Fatal(err)
	}
	eventually(t, "B loaded", func() bool { return f.engine.Path() == f.path("B.mp3") })

	if err := f.coord.Next(f.ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "B reloaded", func() bool { return f.engine.loadCount() == 2 && f.engine.Path() != "" })
	if f.engine.Path() != f.path("B.mp3") {
		t.Errorf("loop single moved to %q", f.engine.Path())
	}
}

func TestDeletedFileBeforeLoad(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3", "C.mp3")
	f.waitTracks(t, 3)

	doomed := f.path("B.mp3")
	f.engine.mu.Lock()
	f.engine.beforeLoad = func(path string) {
		if path == doomed {
			os.Remove(path)
		}
	}
	f.engine.mu.Unlock()

	if err := f.coord.SelectTrack(f.ctx, 1); err != nil {
		t.Fatal(err)
	}
	f.waitTracks(t, 2)

	s := f.snapshot(t)
	for _, tr := range s.Tracks {
		if tr.FilePath == doomed {
			t.Fatal("deleted track still in playlist")
		}
	}
	if f.engine.State() != audio.StateIdle {
		t.Errorf("engine state = %v, want idle", f.engine.State())
	}
	errs := f.events.errors()
	if len(errs) == 0 || errs[0].Kind != model.KindFileMissing {
		t.Errorf("errors = %+v, want FileMissing", errs)
	}
	if got, _ := f.catalog.GetByPath(f.ctx, doomed); got != nil {
		t.Error("catalog still has the deleted track")
	}
}

func TestSelectMissingFileReconciles(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3")
	f.waitTracks(t, 2)

	os.Remove(f.path("A.mp3"))
	err := f.coord.SelectTrack(f.ctx, 0)
	if !errors.Is(err, model.ErrFileMissing) {
		t.Fatalf("err = %v, want ErrFileMissing", err)
	}
	f.waitTracks(t, 1)
}

func TestUndecodableTrackIsSkipped(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3", "C.mp3")
	f.waitTracks(t, 3)

	f.engine.mu.Lock()
	f.engine.failures[f.path("B.mp3")] = fmt.Errorf("%w: bad frame", model.ErrUnsupportedFormat)
	f.engine.mu.Unlock()

	if err := f.coord.Next(f.ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "C loaded", func() bool { return f.engine.Path() == f.path("C.mp3") })

	errs := f.events.errors()
	if len(errs) == 0 || errs[0].Kind != model.KindUnsupportedFormat {
		t.Errorf("errors = %+v", errs)
	}
	if n := len(f.snapshot(t).Tracks); n != 3 {
		t.Errorf("undecodable tracks stay in the playlist, got %d", n)
	}
}

func TestNothingPlayable(t *testing.T) {
	f := newFixture(t, "A.mp3")
	f.waitTracks(t, 1)

	f.engine.mu.Lock()
	f.engine.failures[f.path("A.mp3")] = model.ErrDeviceUnavailable
	f.engine.mu.Unlock()

	if err := f.coord.SelectTrack(f.ctx, 0); err != nil {
		t.Fatal(err)
	}
	eventually(t, "no playable content error", func() bool {
		for _, e := range f.events.errors() {
			if e.Kind == model.KindDeviceUnavailable && e.Message == "no playable content in the playlist" {
				return true
			}
		}
		return false
	})
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3", "C.mp3")
	f.waitTracks(t, 3)

	os.Remove(f.path("C.mp3"))
	removed, err := f.coord.Refresh(f.ctx)
	if err != nil || removed != 1 {
		t.Fatalf("first refresh = %d, %v", removed, err)
	}
	before := f.snapshot(t).Tracks

	removed, err = f.coord.Refresh(f.ctx)
	if err != nil || removed != 0 {
		t.Fatalf("second refresh = %d, %v", removed, err)
	}
	after := f.snapshot(t).Tracks
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Error("second refresh changed the playlist")
	}
}

func TestRemoveTrack(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3")
	f.waitTracks(t, 2)

	if err := f.coord.RemoveTrack(f.ctx, 1); err != nil {
		t.Fatal(err)
	}
	s := f.snapshot(t)
	if len(s.Tracks) != 1 || s.Tracks[0].Title != "A" {
		t.Errorf("tracks = %+v", s.Tracks)
	}
	if err := f.coord.RemoveTrack(f.ctx, 5); !errors.Is(err, model.ErrIndexOutOfRange) {
		t.Errorf("err = %v", err)
	}
	if _, err := os.Stat(f.path("B.mp3")); err != nil {
		t.Error("removing from the playlist must not delete the file")
	}
}

func TestSeekAndVolume(t *testing.T) {
	f := newFixture(t, "A.mp3")
	f.waitTracks(t, 1)

	if err := f.coord.Seek(f.ctx, 10); !errors.Is(err, model.ErrNotLoaded) {
		t.Errorf("seek before load = %v", err)
	}
	if applied, _ := f.coord.SetVolume(f.ctx, 0.3); applied {
		t.Error("volume without a session should not report applied")
	}

	if err := f.coord.SelectTrack(f.ctx, 0); err != nil {
		t.Fatal(err)
	}
	eventually(t, "A loaded", func() bool { return f.engine.Path() != "" })
	eventually(t, "seek accepted", func() bool { return f.coord.Seek(f.ctx, 500) == nil })
	if s := f.snapshot(t); s.Position != 119 || s.Volume != 0.3 {
		t.Errorf("position %d volume %v", s.Position, s.Volume)
	}
}

func TestSessionRestore(t *testing.T) {
	f := newFixture(t, "A.mp3", "B.mp3", "C.mp3")
	f.waitTracks(t, 3)

	if err := f.coord.SelectTrack(f.ctx, 2); err != nil {
		t.Fatal(err)
	}
	eventually(t, "C loaded", func() bool { return f.engine.Path() == f.path("C.mp3") })
	if on, _ := f.coord.ToggleShuffle(f.ctx); !on {
		t.Fatal("shuffle should be on")
	}
	f.engine.setPosition(42)
	if err := f.coord.Shutdown(f.ctx); err != nil {
		t.Fatal(err)
	}

	f.start(t, newFakeEngine())
	eventually(t, "C restored", func() bool {
		s := f.snapshot(t)
		return s.Track != nil && s.Track.FilePath == f.path("C.mp3") && s.Position == 42
	})
	s := f.snapshot(t)
	if !s.Shuffle || s.Playing {
		t.Errorf("restored snapshot = shuffle %v playing %v", s.Shuffle, s.Playing)
	}
}

func TestClosedCoordinator(t *testing.T) {
	f := newFixture(t)
	if err := f.coord.Shutdown(f.ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.AddFiles(f.ctx, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
