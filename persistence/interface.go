// persistence/interface.go
package persistence

import (
	"fmt"

	"github.com/wfunc/raceserver/models"
)

// Store 排行榜与玩家档案的持久化接口
//
// SubmitEntry is the only mutation on the entry table and must be a
// storage-level conditional write: insert, or replace only when the new
// frames value is strictly lower than the stored one. Two racing
// submissions for the same (track, player) pair must never leave a stale
// or non-improving value behind.
type Store interface {
	UpsertPlayer(tokenHash, name, carColors string) error
	GetPlayer(tokenHash string) (*models.Player, error)

	// SubmitEntry returns the entry id for the pair and whether the write
	// replaced (or created) the stored record.
	SubmitEntry(trackID, tokenHash string, frames int, recording []byte) (entryID int64, improved bool, err error)
	GetEntry(trackID, tokenHash string) (*models.LeaderboardEntry, error)

	CountEntries(trackID string, onlyVerified bool) (int64, error)
	// CountFaster counts entries for the track with frames strictly lower
	// than the given value, under the same verified filter.
	CountFaster(trackID string, frames int, onlyVerified bool) (int64, error)
	ListEntries(trackID string, skip, amount int, onlyVerified bool) ([]models.RankedEntry, error)

	MarkVerified(entryID int64) (bool, error)

	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)
