package store

import (
	"context"
)

// ListSubjects returns subjects ordered by sort_order. activeOnly hides disabled ones.
func (r *Repo) ListSubjects(ctx context.Context, activeOnly bool) ([]Subject, error) {
	q := r.db.WithContext(ctx).Order("sort_order ASC, code ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []Subject
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetSubject(ctx context.Context, code string) (*Subject, error) {
	var s Subject
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) CreateSubject(ctx context.Context, s *Subject) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// UpdateSubject applies the given columns. The code column is the primary key and is never updated.
func (r *Repo) UpdateSubject(ctx context.Context, code string, updates map[string]any) error {
	delete(updates, "code")
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&Subject{}).Where("code = ?", code).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetSubject(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) DeleteSubject(ctx context.Context, code string) error {
	res := r.db.WithContext(ctx).Where("code = ?", code).Delete(&Subject{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) ListLevels(ctx context.Context, activeOnly bool) ([]Level, error) {
	q := r.db.WithContext(ctx).Order("sort_order ASC, code ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []Level
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetLevel(ctx context.Context, code string) (*Level, error) {
	var l Level
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repo) CreateLevel(ctx context.Context, l *Level) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *Repo) UpdateLevel(ctx context.Context, code string, updates map[string]any) error {
	delete(updates, "code")
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&Level{}).Where("code = ?", code).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetLevel(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) DeleteLevel(ctx context.Context, code string) error {
	res := r.db.WithContext(ctx).Where("code = ?", code).Delete(&Level{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
