// models/gorm_models.go
package models

import (
	"time"
)

// Player 玩家档案，以令牌哈希为主键
type Player struct {
	TokenHash string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255;not null"`
	CarColors string `gorm:"not null;default:''"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeaderboardEntry 每个 (track, player) 对只保留一条最佳成绩
type LeaderboardEntry struct {
	ID              int64  `gorm:"primaryKey"`
	TrackID         string `gorm:"size:255;not null;uniqueIndex:idx_entries_track_player,priority:1;index:idx_entries_track_frames,priority:1"`
	PlayerTokenHash string `gorm:"size:64;not null;uniqueIndex:idx_entries_track_player,priority:2;index:idx_entries_player"`
	Frames          int    `gorm:"not null;index:idx_entries_track_frames,priority:2"`
	Recording       []byte
	Verified        bool `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
