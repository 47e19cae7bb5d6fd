package playlist

import (
	"fmt"
	"slices"

	"harmony/model"

	"github.com/samber/lo"
)

// Direction 切歌方向
type Direction int

const (
	Next     Direction = 1
	Previous Direction = -1
)

func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// Empty is the position of an empty playlist.
const Empty = -1

// Playlist is the in-memory ordered view of the catalog with its current
// position, shuffle order and play-mode flags. It is not safe for concurrent
// use; its owner serialises access.
type Playlist struct {
	tracks   []model.Track
	position int
	shuffle  bool
	loop     bool
	order    []int
	rng      Rand
}

// New 创建空播放列表, rng 为 nil 时使用全局随机源
func New(rng Rand) *Playlist {
	if rng == nil {
		rng = DefaultRand()
	}
	return &Playlist{position: Empty, rng: rng}
}

// Repair describes what Replace did to the position.
type Repair struct {
	ShapeChanged bool
	// CurrentLost is set when the track at the old position is gone; the
	// position was reset and playback of it must stop.
	CurrentLost bool
}

// Replace swaps in a freshly reconciled track list and repairs the position.
// A surviving current track keeps being current even if its index moved.
func (p *Playlist) Replace(tracks []model.Track) Repair {
	var repair Repair
	prev, hadCurrent := p.Current()

	repair.ShapeChanged = !slices.EqualFunc(p.tracks, tracks, model.Track.SameTrack)
	p.tracks = append([]model.Track(nil), tracks...)

	switch {
	case len(p.tracks) == 0:
		p.position = Empty
		repair.CurrentLost = hadCurrent
	case hadCurrent:
		if idx := slices.IndexFunc(p.tracks, prev.SameTrack); idx >= 0 {
			p.position = idx
		} else {
			p.position = 0
			repair.CurrentLost = true
		}
	default:
		if p.position < 0 || p.position >= len(p.tracks) {
			p.position = 0
		}
	}

	if p.shuffle {
		p.rebuildOrder()
	} else {
		p.order = nil
	}
	return repair
}

// Tracks returns a copy of the playlist contents.
func (p *Playlist) Tracks() []model.Track {
	return append([]model.Track(nil), p.tracks...)
}

func (p *Playlist) Len() int      { return len(p.tracks) }
func (p *Playlist) Position() int { return p.position }
func (p *Playlist) Shuffle() bool { return p.shuffle }
func (p *Playlist) Loop() bool    { return p.loop }

// Order returns a copy of the shuffle order, nil while shuffle is off.
func (p *Playlist) Order() []int {
	return append([]int(nil), p.order...)
}

// Current returns the track at the position.
func (p *Playlist) Current() (model.Track, bool) {
	return p.At(p.position)
}

func (p *Playlist) At(index int) (model.Track, bool) {
	if index < 0 || index >= len(p.tracks) {
		return model.Track{}, false
	}
	return p.tracks[index], true
}

// IndexOf returns the index of path or -1.
func (p *Playlist) IndexOf(path string) int {
	_, idx, ok := lo.FindIndexOf(p.tracks, func(t model.Track) bool { return t.FilePath == path })
	if !ok {
		return -1
	}
	return idx
}

// SetPosition points the playlist at index.
func (p *Playlist) SetPosition(index int) error {
	if index < 0 || index >= len(p.tracks) {
		return fmt.Errorf("%w: %d of %d", model.ErrIndexOutOfRange, index, len(p.tracks))
	}
	p.position = index
	return nil
}

// ToggleShuffle flips shuffle; turning it on builds a fresh order.
func (p *Playlist) ToggleShuffle() bool {
	p.SetShuffle(!p.shuffle)
	return p.shuffle
}

func (p *Playlist) SetShuffle(on bool) {
	p.shuffle = on
	if on {
		p.rebuildOrder()
	} else {
		p.order = nil
	}
}

func (p *Playlist) ToggleLoop() bool {
	p.loop = !p.loop
	return p.loop
}

func (p *Playlist) SetLoop(on bool) { p.loop = on }

func (p *Playlist) rebuildOrder() {
	p.order = BuildShuffleOrder(len(p.tracks), p.rng)
}

func (p *Playlist) orderStale() bool {
	return len(p.order) == 0 || len(p.order) != len(p.tracks) || !lo.Contains(p.order, p.position)
}

// Advance picks the next index in dir and makes it current. Loop-single keeps
// the current index, shuffle walks the shuffle order, otherwise the playlist
// order is used; both wrap around. Candidates whose file fails accessible are
// skipped for at most one full pass. It returns false when nothing is
// playable; the position is then left unchanged.
func (p *Playlist) Advance(dir Direction, accessible func(path string) bool) (int, bool) {
	n := len(p.tracks)
	if n == 0 {
		return Empty, false
	}
	if p.position < 0 || p.position >= n {
		p.position = 0
	}

	if p.loop && accessible(p.tracks[p.position].FilePath) {
		return p.position, true
	}

	if p.shuffle && p.orderStale() {
		p.rebuildOrder()
	}

	step := 1
	if dir == Previous {
		step = -1
	}

	candidate := p.position
	for range n {
		candidate = p.step(candidate, step)
		if accessible(p.tracks[candidate].FilePath) {
			p.position = candidate
			return candidate, true
		}
	}
	return Empty, false
}

func (p *Playlist) step(from, step int) int {
	n := len(p.tracks)
	if !p.shuffle {
		return ((from+step)%n + n) % n
	}
	k := lo.IndexOf(p.order, from)
	if k < 0 {
		return p.order[0]
	}
	return p.order[((k+step)%n+n)%n]
}
