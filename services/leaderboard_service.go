// services/leaderboard_service.go
package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/wfunc/raceserver/models"
	"github.com/wfunc/raceserver/persistence"
)

// LeaderboardService owns the best-time table semantics: one entry per
// (track, player), replaced only by a strictly faster submission.
type LeaderboardService struct {
	store persistence.Store
}

func NewLeaderboardService(store persistence.Store) *LeaderboardService {
	return &LeaderboardService{store: store}
}

// TokenHash derives the durable player identifier from the client-held
// secret token.
func TokenHash(userToken string) string {
	sum := sha256.Sum256([]byte(userToken))
	return hex.EncodeToString(sum[:])
}

// SubmitResult reports the outcome of a submission. NewPosition is nil when
// the stored time was already at least as good.
type SubmitResult struct {
	UploadID    int64
	NewPosition *int64
}

// Submit 记录一次成绩提交。先更新玩家档案，再做条件写入；
// 写入成立时按同一名次公式计算新名次。
func (s *LeaderboardService) Submit(userToken, name, carColors, trackID string, frames int, recording []byte) (*SubmitResult, error) {
	if frames < 0 {
		return nil, fmt.Errorf("frames must be non-negative, got %d", frames)
	}

	tokenHash := TokenHash(userToken)
	if err := s.store.UpsertPlayer(tokenHash, name, carColors); err != nil {
		return nil, err
	}

	entryID, improved, err := s.store.SubmitEntry(trackID, tokenHash, frames, recording)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{UploadID: entryID}
	if !improved {
		return result, nil
	}

	// 新记录尚未校验，名次在全部记录里计算
	position, err := s.Rank(trackID, frames, false)
	if err != nil {
		return nil, err
	}
	result.NewPosition = &position
	return result, nil
}

// Rank is the canonical rank formula: the 0-indexed count of entries for the
// track, under the given verified filter, with strictly lower frames. Equal
// times carry no ordering preference. Both the submit path and the lookup
// path go through here.
func (s *LeaderboardService) Rank(trackID string, frames int, onlyVerified bool) (int64, error) {
	return s.store.CountFaster(trackID, frames, onlyVerified)
}

// Query 分页读取赛道排行榜，可选按已校验过滤；
// 给定请求者哈希时带回其自身记录与名次。
func (s *LeaderboardService) Query(trackID string, skip, amount int, onlyVerified bool, userTokenHash string) (*models.LeaderboardResponse, error) {
	total, err := s.store.CountEntries(trackID, onlyVerified)
	if err != nil {
		return nil, err
	}

	ranked, err := s.store.ListEntries(trackID, skip, amount, onlyVerified)
	if err != nil {
		return nil, err
	}

	entries := make([]models.LeaderboardRow, 0, len(ranked))
	for _, e := range ranked {
		entries = append(entries, models.LeaderboardRow{
			ID:        e.ID,
			UserID:    e.PlayerTokenHash,
			Name:      e.Name,
			Frames:    e.Frames,
			CarColors: e.CarColors,
		})
	}

	resp := &models.LeaderboardResponse{
		Total:   total,
		Entries: entries,
	}

	if userTokenHash != "" {
		entry, err := s.store.GetEntry(trackID, userTokenHash)
		switch err {
		case nil:
			position, err := s.Rank(trackID, entry.Frames, onlyVerified)
			if err != nil {
				return nil, err
			}
			resp.UserEntry = &models.UserEntry{
				ID:       entry.ID,
				Frames:   entry.Frames,
				Position: position,
			}
		case persistence.ErrRecordNotFound:
			// 请求者在该赛道没有记录
		default:
			return nil, err
		}
	}

	return resp, nil
}

// MarkVerified 由外部校验方调用，置位指定记录的 verified
func (s *LeaderboardService) MarkVerified(entryID int64) (bool, error) {
	return s.store.MarkVerified(entryID)
}
