package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sifan077/shortlink/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrDuplicateCode signals a unique index violation on the short code.
	ErrDuplicateCode = errors.New("short code already exists")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	pgUniqueViolation = "23505"
)

// LinkRepository defines the data access contract for short links.
//
// FindByCodeForUpdate takes an exclusive row lock that is held until the
// surrounding Transaction commits or rolls back. Called outside a transaction
// the lock is released as soon as the read returns.
//
// Update writes only owner-mutable columns and UpdateClickCount writes only the
// click counter, so the two never overwrite each other's changes.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	FindByID(ctx context.Context, id string) (*model.Link, error)
	FindByCode(ctx context.Context, code string) (*model.Link, error)
	FindByCodeForUpdate(ctx context.Context, code string) (*model.Link, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Update(ctx context.Context, link *model.Link) error
	UpdateClickCount(ctx context.Context, link *model.Link) error
	Delete(ctx context.Context, link *model.Link) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error)
	ListPublic(ctx context.Context, now time.Time, limit, offset int) ([]model.Link, error)
	ListExpiringBefore(ctx context.Context, ownerID string, now, threshold time.Time) ([]model.Link, error)
	CountActiveByOwner(ctx context.Context, ownerID string, now time.Time) (int64, error)
	CountExpired(ctx context.Context, now time.Time, activeOnly bool) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	Transaction(ctx context.Context, fn func(repo LinkRepository) error) error
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return err
	}
	return nil
}

func (r *linkRepository) FindByID(ctx context.Context, id string) (*model.Link, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *linkRepository) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	return r.first(r.db.WithContext(ctx).Where("code = ?", code))
}

func (r *linkRepository) FindByCodeForUpdate(ctx context.Context, code string) (*model.Link, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("code = ?", code))
}

func (r *linkRepository) first(query *gorm.DB) (*model.Link, error) {
	var link model.Link
	if err := query.First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Link{}).
		Where("code = ?", code).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *linkRepository) Update(ctx context.Context, link *model.Link) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ?", link.ID).
		Updates(map[string]interface{}{
			"url":           link.URL,
			"visibility":    link.Visibility,
			"active":        link.Active,
			"expires_at":    link.ExpiresAt,
			"click_limit":   link.ClickLimit,
			"password_hash": link.PasswordHash,
			"description":   link.Description,
			"updated_at":    now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}

	link.UpdatedAt = now
	return nil
}

func (r *linkRepository) UpdateClickCount(ctx context.Context, link *model.Link) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ?", link.ID).
		UpdateColumns(map[string]interface{}{
			"click_count": link.ClickCount,
			"updated_at":  now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}

	link.UpdatedAt = now
	return nil
}

func (r *linkRepository) Delete(ctx context.Context, link *model.Link) error {
	result := r.db.WithContext(ctx).Where("id = ?", link.ID).Delete(&model.Link{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	limit, offset = normalizePage(limit, offset)

	var result []model.Link
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) ListPublic(ctx context.Context, now time.Time, limit, offset int) ([]model.Link, error) {
	limit, offset = normalizePage(limit, offset)

	var result []model.Link
	if err := r.db.WithContext(ctx).
		Where("visibility = ? AND active = ?", model.VisibilityPublic, true).
		Where("expires_at IS NULL OR expires_at >= ?", now).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) ListExpiringBefore(ctx context.Context, ownerID string, now, threshold time.Time) ([]model.Link, error) {
	var result []model.Link
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND active = ?", ownerID, true).
		Where("expires_at IS NOT NULL AND expires_at >= ? AND expires_at <= ?", now, threshold).
		Order("expires_at ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) CountActiveByOwner(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Link{}).
		Where("owner_id = ? AND active = ?", ownerID, true).
		Where("expires_at IS NULL OR expires_at >= ?", now).
		Count(&count).Error
	return count, err
}

func (r *linkRepository) expired(ctx context.Context, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Link{}).
		Where("expires_at IS NOT NULL AND expires_at < ?", now)
}

func (r *linkRepository) CountExpired(ctx context.Context, now time.Time, activeOnly bool) (int64, error) {
	query := r.expired(ctx, now)
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}

func (r *linkRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&model.Link{})
	return result.RowsAffected, result.Error
}

func (r *linkRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.expired(ctx, now).
		Where("active = ?", true).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *linkRepository) Transaction(ctx context.Context, fn func(repo LinkRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&linkRepository{db: tx})
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
