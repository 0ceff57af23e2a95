package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = gorm.ErrRecordNotFound

const (
	historyLimit      = 50
	adminHistoryLimit = 100
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// LoginWithKey upserts the (code, deviceID) session and reports whether the pair may transact:
// the key exists, is active and the device is not banned. Unknown keys create no session.
func (r *Repo) LoginWithKey(ctx context.Context, code, deviceID, userAgent, location string) (bool, error) {
	allowed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var key AccessKey
		if err := tx.Where("code = ?", code).First(&key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		sess := DeviceSession{
			KeyCode:    code,
			DeviceID:   deviceID,
			DeviceInfo: userAgent,
			Location:   location,
			LastSeen:   time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key_code"}, {Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"device_info", "location", "last_seen"}),
		}).Create(&sess).Error; err != nil {
			return err
		}

		var current DeviceSession
		if err := tx.Where("key_code = ? AND device_id = ?", code, deviceID).First(&current).Error; err != nil {
			return err
		}
		allowed = key.IsActive && !current.IsBanned
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// VerifyImageKey links imageCode to the device session of (mainCode, deviceID) when the image key
// is active and under quota and the session exists and is not banned.
func (r *Repo) VerifyImageKey(ctx context.Context, imageCode, mainCode, deviceID string) (bool, error) {
	linked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ik ImageAccessKey
		if err := tx.Where("code = ?", imageCode).First(&ik).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !ik.IsActive || ik.OverQuota() {
			return nil
		}

		var sess DeviceSession
		if err := tx.Where("key_code = ? AND device_id = ?", mainCode, deviceID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if sess.IsBanned {
			return nil
		}
		if err := tx.Model(&DeviceSession{}).Where("id = ?", sess.ID).
			Update("image_key_code", imageCode).Error; err != nil {
			return err
		}
		linked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return linked, nil
}

// IncrementTokenUsage adds amount to the key and the device session, then disables the key once
// total_tokens >= token_limit. Writes for unknown/inactive keys or banned/unknown devices are
// ignored and reported as applied=false.
func (r *Repo) IncrementTokenUsage(ctx context.Context, code, deviceID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var key AccessKey
		if err := tx.Where("code = ?", code).First(&key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !key.IsActive {
			return nil
		}

		var sess DeviceSession
		if err := tx.Where("key_code = ? AND device_id = ?", code, deviceID).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if sess.IsBanned {
			return nil
		}

		if err := tx.Model(&AccessKey{}).Where("id = ?", key.ID).
			Update("total_tokens", gorm.Expr("total_tokens + ?", amount)).Error; err != nil {
			return err
		}
		if err := tx.Model(&DeviceSession{}).Where("id = ?", sess.ID).
			Updates(map[string]any{
				"total_tokens": gorm.Expr("total_tokens + ?", amount),
				"last_seen":    time.Now(),
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&AccessKey{}).
			Where("id = ? AND token_limit IS NOT NULL AND total_tokens >= token_limit", key.ID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// IncrementImageUsage counts one image against imageCode, disabling it once total_images >= image_limit.
func (r *Repo) IncrementImageUsage(ctx context.Context, imageCode string) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ImageAccessKey{}).
			Where("code = ? AND is_active = ?", imageCode, true).
			Update("total_images", gorm.Expr("total_images + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&ImageAccessKey{}).
			Where("code = ? AND image_limit IS NOT NULL AND total_images >= image_limit", imageCode).
			Update("is_active", false).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *Repo) AddChatMessage(ctx context.Context, item *ChatHistoryItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// FetchChatHistory returns the newest 50 items of a key (newest -> oldest).
func (r *Repo) FetchChatHistory(ctx context.Context, keyCode string) ([]ChatHistoryItem, error) {
	var items []ChatHistoryItem
	if err := r.db.WithContext(ctx).
		Where("key_code = ?", keyCode).
		Order("created_at DESC, id DESC").
		Limit(historyLimit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

type HistoryFilter string

const (
	FilterByKey    HistoryFilter = "key"
	FilterByDevice HistoryFilter = "device"
)

// ListHistory is the admin view: newest 100 items matching a key code or a device id.
func (r *Repo) ListHistory(ctx context.Context, filter HistoryFilter, value string) ([]ChatHistoryItem, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(adminHistoryLimit)
	switch filter {
	case FilterByKey:
		q = q.Where("key_code = ?", value)
	case FilterByDevice:
		q = q.Where("device_id = ?", value)
	}
	var items []ChatHistoryItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// GetConfigValue returns ("", false, nil) for a missing key.
func (r *Repo) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var row AppConfig
	err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return row.Value, true, nil
}

func (r *Repo) UpdateConfigValue(ctx context.Context, key, value string) error {
	row := AppConfig{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (r *Repo) ListConfig(ctx context.Context) ([]AppConfig, error) {
	var rows []AppConfig
	if err := r.db.WithContext(ctx).Order("`key` ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
