package model

import "time"

// SessionState is the playback session restored on the next start.
type SessionState struct {
	ID        int64     `json:"-" gorm:"primaryKey"`
	FilePath  string    `json:"filePath" gorm:"size:512"`
	Position  int       `json:"position"`
	Shuffle   bool      `json:"shuffle"`
	Loop      bool      `json:"loop"`
	Volume    float64   `json:"volume"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (SessionState) TableName() string {
	return "session_state"
}
