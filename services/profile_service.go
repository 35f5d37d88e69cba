// services/profile_service.go
package services

import (
	"github.com/wfunc/raceserver/models"
	"github.com/wfunc/raceserver/persistence"
)

// ProfileService 玩家档案的读写，无名次语义
type ProfileService struct {
	store persistence.Store
}

func NewProfileService(store persistence.Store) *ProfileService {
	return &ProfileService{store: store}
}

// Get returns nil without error when the player is unknown.
func (s *ProfileService) Get(userToken string) (*models.UserResponse, error) {
	player, err := s.store.GetPlayer(TokenHash(userToken))
	if err != nil {
		if err == persistence.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &models.UserResponse{
		Name:      player.Name,
		CarColors: player.CarColors,
		// 成绩校验由外部协作方完成，这里始终为 false
		IsVerifier: false,
	}, nil
}

func (s *ProfileService) Upsert(userToken, name, carColors string) error {
	return s.store.UpsertPlayer(TokenHash(userToken), name, carColors)
}
