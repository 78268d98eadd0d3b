package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type User struct {
	ID       uint64 `gorm:"primaryKey"`
	Username string
	FullName string
}

func (User) TableName() string { return "users" }

// ProfileRepo：参与者展示名来源
type ProfileRepo struct {
	db *gorm.DB
}

func NewProfileRepo(db *gorm.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// 没找到返回 "", false, nil
func (r *ProfileRepo) DisplayName(ctx context.Context, userID uint64) (string, bool, error) {
	var u User
	err := r.db.WithContext(ctx).Select("id", "username", "full_name").Where("id = ?", userID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if u.FullName != "" {
		return u.FullName, true, nil
	}
	return u.Username, u.Username != "", nil
}
