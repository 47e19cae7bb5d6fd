package player

import (
	"harmony/core/audio"
	"harmony/model"
)

// Event is a notification for the presentation layer.
type Event interface {
	EventName() string
}

// TrackChanged 当前曲目变化
type TrackChanged struct {
	Index int
	Track model.Track
}

// PlaylistChanged carries the whole reconciled playlist.
type PlaylistChanged struct {
	Tracks   []model.Track
	Position int
}

type PlaybackStateChanged struct {
	Playing bool
	State   audio.State
	Shuffle bool
	Loop    bool
	Volume  float64
}

// Progress is published by the monitor when position or duration changes.
type Progress struct {
	Position int
	Duration int
}

// Error 错误通知: Kind 用于分类, Message 面向用户
type Error struct {
	Kind    model.ErrorKind
	Message string
}

type SongsAdded struct {
	Added        int
	Duplicates   []string
	Inaccessible []string
}

type SongsRemoved struct {
	Count int
	Paths []string
}

func (TrackChanged) EventName() string         { return "track-changed" }
func (PlaylistChanged) EventName() string      { return "playlist-changed" }
func (PlaybackStateChanged) EventName() string { return "playback-state-changed" }
func (Progress) EventName() string             { return "progress" }
func (Error) EventName() string                { return "error" }
func (SongsAdded) EventName() string           { return "songs-added" }
func (SongsRemoved) EventName() string         { return "songs-removed" }

// Listener receives events on the coordinator goroutine. Notify must return
// quickly and must not call back into the Coordinator.
type Listener interface {
	Notify(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) Notify(e Event) { f(e) }

type nopListener struct{}

func (nopListener) Notify(Event) {}

// Listeners fans one event out to several listeners in order.
type Listeners []Listener

func (ls Listeners) Notify(e Event) {
	for _, l := range ls {
		l.Notify(e)
	}
}
