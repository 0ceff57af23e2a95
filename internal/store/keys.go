package store

import (
	"context"

	"gorm.io/gorm"
)

type KeyWithDevices struct {
	AccessKey
	DeviceCount int64 `json:"device_count"`
}

// ListKeys returns all access keys (newest first) with their device session counts.
func (r *Repo) ListKeys(ctx context.Context) ([]KeyWithDevices, error) {
	var keys []AccessKey
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&keys).Error; err != nil {
		return nil, err
	}

	type countRow struct {
		KeyCode string
		N       int64
	}
	var counts []countRow
	if err := r.db.WithContext(ctx).Model(&DeviceSession{}).
		Select("key_code, COUNT(*) AS n").
		Group("key_code").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	byCode := make(map[string]int64, len(counts))
	for _, c := range counts {
		byCode[c.KeyCode] = c.N
	}

	out := make([]KeyWithDevices, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyWithDevices{AccessKey: k, DeviceCount: byCode[k.Code]})
	}
	return out, nil
}

func (r *Repo) GetKeyByCode(ctx context.Context, code string) (*AccessKey, error) {
	var k AccessKey
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&k).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *Repo) GetKeyByID(ctx context.Context, id uint64) (*AccessKey, error) {
	var k AccessKey
	if err := r.db.WithContext(ctx).First(&k, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *Repo) CreateKey(ctx context.Context, k *AccessKey) error {
	return r.db.WithContext(ctx).Create(k).Error
}

func (r *Repo) SetKeyActive(ctx context.Context, id uint64, active bool) error {
	return r.updateOne(ctx, &AccessKey{}, "is_active", active, "id = ?", id)
}

// SetKeyLimit sets token_limit; nil means unlimited.
func (r *Repo) SetKeyLimit(ctx context.Context, id uint64, limit *int64) error {
	return r.updateOne(ctx, &AccessKey{}, "token_limit", limit, "id = ?", id)
}

// DeleteKey removes the key together with its device sessions and chat history.
func (r *Repo) DeleteKey(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key_code = ?", code).Delete(&DeviceSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("key_code = ?", code).Delete(&ChatHistoryItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("code = ?", code).Delete(&AccessKey{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *Repo) ListImageKeys(ctx context.Context) ([]ImageAccessKey, error) {
	var keys []ImageAccessKey
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Repo) GetImageKeyByID(ctx context.Context, id uint64) (*ImageAccessKey, error) {
	var k ImageAccessKey
	if err := r.db.WithContext(ctx).First(&k, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *Repo) GetImageKeyByCode(ctx context.Context, code string) (*ImageAccessKey, error) {
	var k ImageAccessKey
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&k).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *Repo) CreateImageKey(ctx context.Context, k *ImageAccessKey) error {
	return r.db.WithContext(ctx).Create(k).Error
}

func (r *Repo) SetImageKeyActive(ctx context.Context, id uint64, active bool) error {
	return r.updateOne(ctx, &ImageAccessKey{}, "is_active", active, "id = ?", id)
}

func (r *Repo) SetImageKeyLimit(ctx context.Context, id uint64, limit *int64) error {
	return r.updateOne(ctx, &ImageAccessKey{}, "image_limit", limit, "id = ?", id)
}

// DeleteImageKey removes the image key and unlinks it from device sessions.
func (r *Repo) DeleteImageKey(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&DeviceSession{}).Where("image_key_code = ?", code).
			Update("image_key_code", nil).Error; err != nil {
			return err
		}
		res := tx.Where("code = ?", code).Delete(&ImageAccessKey{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListDevices returns device sessions, most recently seen first. Empty keyCode lists all.
func (r *Repo) ListDevices(ctx context.Context, keyCode string) ([]DeviceSession, error) {
	q := r.db.WithContext(ctx).Order("last_seen DESC")
	if keyCode != "" {
		q = q.Where("key_code = ?", keyCode)
	}
	var out []DeviceSession
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetDeviceSession(ctx context.Context, keyCode, deviceID string) (*DeviceSession, error) {
	var s DeviceSession
	if err := r.db.WithContext(ctx).
		Where("key_code = ? AND device_id = ?", keyCode, deviceID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) SetDeviceBan(ctx context.Context, keyCode, deviceID string, banned bool) error {
	return r.updateOne(ctx, &DeviceSession{}, "is_banned", banned, "key_code = ? AND device_id = ?", keyCode, deviceID)
}

// updateOne updates a single column and maps "no such row" to ErrNotFound.
// MySQL reports 0 affected rows for a no-op update, so existence is checked separately.
func (r *Repo) updateOne(ctx context.Context, model any, column string, value any, where string, args ...any) error {
	res := r.db.WithContext(ctx).Model(model).Where(where, args...).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(model).Where(where, args...).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
