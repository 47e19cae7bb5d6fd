package model

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"
)

// Track is one catalog record. FilePath is the identity; title, artist and
// album are descriptive only.
type Track struct {
	ID       int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title    string    `json:"title" gorm:"size:255;not null;index"`
	Artist   string    `json:"artist" gorm:"size:255"`
	Album    string    `json:"album" gorm:"size:255"`
	FilePath string    `json:"filePath" gorm:"size:512;not null;uniqueIndex"`
	AddedAt  time.Time `json:"addedAt" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "songs"
}

// NewTrackFromPath builds a record for a file that has no tags read: the title
// is the base name without its final extension.
func NewTrackFromPath(path string) Track {
	return Track{
		Title:    TitleFromPath(path),
		Artist:   UnknownArtist,
		Album:    UnknownAlbum,
		FilePath: path,
	}
}

// TitleFromPath strips the directory and the last extension segment.
// A leading dot (".hidden") is not treated as an extension.
func TitleFromPath(path string) string {
	name := filepath.Base(path)
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// SameTrack reports whether both tracks point at the same file.
func (t Track) SameTrack(other Track) bool {
	return t.FilePath == other.FilePath
}
