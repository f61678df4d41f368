package repository

import (
	"Courier/internal/model"
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Preferences 投递核心关心的两项隐私开关
type Preferences struct {
	SendReadReceipts bool
	ShowReadReceipts bool
}

type PreferenceRepo interface {
	PreferencesOf(ctx context.Context, userID uint64) (Preferences, error)
	PreferencesOfMany(ctx context.Context, userIDs []uint64) (map[uint64]Preferences, error)
	UpsertPreferences(ctx context.Context, userID uint64, prefs Preferences) error
}

type preferenceRepoImpl struct {
	db *gorm.DB
}

func NewPreferenceRepo(db *gorm.DB) PreferenceRepo {
	return &preferenceRepoImpl{db: db}
}

// PreferencesOf 查询用户偏好，未设置过的用户默认全部开启
func (s *preferenceRepoImpl) PreferencesOf(ctx context.Context, userID uint64) (Preferences, error) {
	var pref model.UserPreference
	err := s.db.WithContext(ctx).First(&pref, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Preferences{SendReadReceipts: true, ShowReadReceipts: true}, nil
		}
		return Preferences{}, errors.Wrap(err, "get preferences")
	}
	return Preferences{
		SendReadReceipts: pref.SendReadReceipts == 1,
		ShowReadReceipts: pref.ShowReadReceipts == 1,
	}, nil
}

// PreferencesOfMany 批量查询，缺失的用户按默认值补齐
func (s *preferenceRepoImpl) PreferencesOfMany(ctx context.Context, userIDs []uint64) (map[uint64]Preferences, error) {
	res := make(map[uint64]Preferences, len(userIDs))
	for _, uid := range userIDs {
		res[uid] = Preferences{SendReadReceipts: true, ShowReadReceipts: true}
	}
	if len(userIDs) == 0 {
		return res, nil
	}

	var prefs []model.UserPreference
	err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&prefs).Error
	if err != nil {
		return nil, errors.Wrap(err, "batch get preferences")
	}
	for _, p := range prefs {
		res[p.UserID] = Preferences{
			SendReadReceipts: p.SendReadReceipts == 1,
			ShowReadReceipts: p.ShowReadReceipts == 1,
		}
	}
	return res, nil
}

// UpsertPreferences 写入用户偏好，已存在则整行覆盖
func (s *preferenceRepoImpl) UpsertPreferences(ctx context.Context, userID uint64, prefs Preferences) error {
	row := model.UserPreference{
		UserID:           userID,
		SendReadReceipts: boolToFlag(prefs.SendReadReceipts),
		ShowReadReceipts: boolToFlag(prefs.ShowReadReceipts),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	return errors.Wrap(err, "upsert preferences")
}

func boolToFlag(b bool) int8 {
	if b {
		return 1
	}
	return 0
}
