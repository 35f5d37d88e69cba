// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"

	"github.com/wfunc/raceserver/models"
)

// PostgreSQL 基于 database/sql 的实现
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(db *sql.DB) error {
	// 玩家表
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS players (
            token_hash VARCHAR(64) PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            car_colors TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 成绩表，每个 (track, player) 对唯一
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS leaderboard_entries (
            id BIGSERIAL PRIMARY KEY,
            track_id VARCHAR(255) NOT NULL,
            player_token_hash VARCHAR(64) NOT NULL,
            frames BIGINT NOT NULL CHECK (frames >= 0),
            recording BYTEA,
            verified BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (track_id, player_token_hash)
        )
    `)
	if err != nil {
		return err
	}

	// 名次查询与玩家查询的索引
	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_entries_track_frames ON leaderboard_entries(track_id, frames);
        CREATE INDEX IF NOT EXISTS idx_entries_player ON leaderboard_entries(player_token_hash);
    `)

	return err
}

// UpsertPlayer 创建或更新玩家档案
func (p *PostgreSQL) UpsertPlayer(tokenHash, name, carColors string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        INSERT INTO players (token_hash, name, car_colors)
        VALUES ($1, $2, $3)
        ON CONFLICT (token_hash)
        DO UPDATE SET name = $2, car_colors = $3, updated_at = CURRENT_TIMESTAMP
    `

	_, err := p.db.ExecContext(ctx, query, tokenHash, name, carColors)
	return err
}

// GetPlayer 按令牌哈希读取玩家档案
func (p *PostgreSQL) GetPlayer(tokenHash string) (*models.Player, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var player models.Player
	query := `SELECT token_hash, name, car_colors, created_at, updated_at FROM players WHERE token_hash = $1`
	err := p.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&player.TokenHash, &player.Name, &player.CarColors, &player.CreatedAt, &player.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &player, nil
}

// SubmitEntry 条件写入最佳成绩。比较在 ON CONFLICT 的 WHERE 子句里完成，
// 只有新成绩严格更快时 RETURNING 才产生行。
func (p *PostgreSQL) SubmitEntry(trackID, tokenHash string, frames int, recording []byte) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        INSERT INTO leaderboard_entries (track_id, player_token_hash, frames, recording, verified)
        VALUES ($1, $2, $3, $4, FALSE)
        ON CONFLICT (track_id, player_token_hash)
        DO UPDATE SET frames = EXCLUDED.frames, recording = EXCLUDED.recording,
                      verified = FALSE, updated_at = CURRENT_TIMESTAMP
        WHERE leaderboard_entries.frames > EXCLUDED.frames
        RETURNING id
    `

	var id int64
	err := p.db.QueryRowContext(ctx, query, trackID, tokenHash, frames, recording).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}

	// 未写入：提交的成绩不优于现有记录
	existing, err := p.GetEntry(trackID, tokenHash)
	if err != nil {
		return 0, false, err
	}
	return existing.ID, false, nil
}

// GetEntry 读取某玩家在某赛道的记录
func (p *PostgreSQL) GetEntry(trackID, tokenHash string) (*models.LeaderboardEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var entry models.LeaderboardEntry
	query := `
        SELECT id, track_id, player_token_hash, frames, recording, verified, created_at, updated_at
        FROM leaderboard_entries
        WHERE track_id = $1 AND player_token_hash = $2
    `
	err := p.db.QueryRowContext(ctx, query, trackID, tokenHash).Scan(
		&entry.ID, &entry.TrackID, &entry.PlayerTokenHash, &entry.Frames,
		&entry.Recording, &entry.Verified, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// CountEntries 统计赛道的记录数
func (p *PostgreSQL) CountEntries(trackID string, onlyVerified bool) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `SELECT COUNT(*) FROM leaderboard_entries WHERE track_id = $1 AND ($2 = FALSE OR verified)`
	var count int64
	err := p.db.QueryRowContext(ctx, query, trackID, onlyVerified).Scan(&count)
	return count, err
}

// CountFaster 统计严格更快的记录数
func (p *PostgreSQL) CountFaster(trackID string, frames int, onlyVerified bool) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        SELECT COUNT(*) FROM leaderboard_entries
        WHERE track_id = $1 AND frames < $2 AND ($3 = FALSE OR verified)
    `
	var count int64
	err := p.db.QueryRowContext(ctx, query, trackID, frames, onlyVerified).Scan(&count)
	return count, err
}

// ListEntries 按成绩升序分页查询
func (p *PostgreSQL) ListEntries(trackID string, skip, amount int, onlyVerified bool) ([]models.RankedEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        SELECT e.id, e.player_token_hash, p.name, p.car_colors, e.frames
        FROM leaderboard_entries e
        JOIN players p ON p.token_hash = e.player_token_hash
        WHERE e.track_id = $1 AND ($2 = FALSE OR e.verified)
        ORDER BY e.frames ASC, e.id ASC
        LIMIT $3 OFFSET $4
    `

	rows, err := p.db.QueryContext(ctx, query, trackID, onlyVerified, amount, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.RankedEntry
	for rows.Next() {
		var e models.RankedEntry
		if err := rows.Scan(&e.ID, &e.PlayerTokenHash, &e.Name, &e.CarColors, &e.Frames); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkVerified 外部校验方确认成绩后置位 verified
func (p *PostgreSQL) MarkVerified(entryID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := p.db.ExecContext(ctx, `UPDATE leaderboard_entries SET verified = TRUE WHERE id = $1`, entryID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
