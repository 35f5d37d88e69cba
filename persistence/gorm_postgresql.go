// persistence/gorm_postgresql.go
package persistence

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wfunc/raceserver/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.Player{}, &models.LeaderboardEntry{}); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// UpsertPlayer 创建或更新玩家档案
func (p *GormPostgreSQL) UpsertPlayer(tokenHash, name, carColors string) error {
	player := models.Player{
		TokenHash: tokenHash,
		Name:      name,
		CarColors: carColors,
	}
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "car_colors", "updated_at"}),
	}).Create(&player).Error
}

// GetPlayer 按令牌哈希读取玩家档案
func (p *GormPostgreSQL) GetPlayer(tokenHash string) (*models.Player, error) {
	var player models.Player
	if err := p.db.Where("token_hash = ?", tokenHash).First(&player).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &player, nil
}

// SubmitEntry 条件写入：只有当不存在记录或新成绩严格更快时才落库。
// 比较与写入在同一条语句里完成，避免 check-then-write 竞态。
func (p *GormPostgreSQL) SubmitEntry(trackID, tokenHash string, frames int, recording []byte) (int64, bool, error) {
	entry := models.LeaderboardEntry{
		TrackID:         trackID,
		PlayerTokenHash: tokenHash,
		Frames:          frames,
		Recording:       recording,
		Verified:        false,
	}

	result := p.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "track_id"}, {Name: "player_token_hash"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"frames":     frames,
			"recording":  recording,
			"verified":   false,
			"updated_at": time.Now(),
		}),
		Where: clause.Where{
			Exprs: []clause.Expression{gorm.Expr("leaderboard_entries.frames > excluded.frames")},
		},
	}).Create(&entry)
	if result.Error != nil {
		return 0, false, result.Error
	}

	// 写入成立时 RETURNING 带回ID；否则查现有记录
	if result.RowsAffected > 0 {
		return entry.ID, true, nil
	}

	existing, err := p.GetEntry(trackID, tokenHash)
	if err != nil {
		return 0, false, err
	}
	return existing.ID, false, nil
}

// GetEntry 读取某玩家在某赛道的记录
func (p *GormPostgreSQL) GetEntry(trackID, tokenHash string) (*models.LeaderboardEntry, error) {
	var entry models.LeaderboardEntry
	err := p.db.Where("track_id = ? AND player_token_hash = ?", trackID, tokenHash).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// CountEntries 统计赛道的记录数
func (p *GormPostgreSQL) CountEntries(trackID string, onlyVerified bool) (int64, error) {
	var count int64
	tx := p.db.Model(&models.LeaderboardEntry{}).Where("track_id = ?", trackID)
	if onlyVerified {
		tx = tx.Where("verified = ?", true)
	}
	err := tx.Count(&count).Error
	return count, err
}

// CountFaster 统计严格更快的记录数，即 0 起始的名次
func (p *GormPostgreSQL) CountFaster(trackID string, frames int, onlyVerified bool) (int64, error) {
	var count int64
	tx := p.db.Model(&models.LeaderboardEntry{}).
		Where("track_id = ? AND frames < ?", trackID, frames)
	if onlyVerified {
		tx = tx.Where("verified = ?", true)
	}
	err := tx.Count(&count).Error
	return count, err
}

// ListEntries 按成绩升序分页查询，并联表取玩家昵称与涂装
func (p *GormPostgreSQL) ListEntries(trackID string, skip, amount int, onlyVerified bool) ([]models.RankedEntry, error) {
	var rows []models.RankedEntry
	tx := p.db.Model(&models.LeaderboardEntry{}).
		Select("leaderboard_entries.id, leaderboard_entries.player_token_hash, players.name, players.car_colors, leaderboard_entries.frames").
		Joins("JOIN players ON players.token_hash = leaderboard_entries.player_token_hash").
		Where("leaderboard_entries.track_id = ?", trackID)
	if onlyVerified {
		tx = tx.Where("leaderboard_entries.verified = ?", true)
	}
	err := tx.Order("leaderboard_entries.frames ASC, leaderboard_entries.id ASC").
		Limit(amount).
		Offset(skip).
		Scan(&rows).Error
	return rows, err
}

// MarkVerified 外部校验方确认成绩后置位 verified
func (p *GormPostgreSQL) MarkVerified(entryID int64) (bool, error) {
	result := p.db.Model(&models.LeaderboardEntry{}).
		Where("id = ?", entryID).
		Update("verified", true)
	return result.RowsAffected > 0, result.Error
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
