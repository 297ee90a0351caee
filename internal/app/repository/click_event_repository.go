package repository

import (
	"context"
	"time"

	"github.com/sifan077/shortlink/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClickEventRepository defines the data access contract for click events.
type ClickEventRepository interface {
	Create(ctx context.Context, event *model.ClickEvent) error
	CountByLink(ctx context.Context, linkID string) (int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type clickEventRepository struct {
	db *gorm.DB
}

// NewClickEventRepository returns a GORM-backed ClickEventRepository.
func NewClickEventRepository(db *gorm.DB) ClickEventRepository {
	return &clickEventRepository{db: db}
}

// Create ignores redelivered events that were already stored.
func (r *clickEventRepository) Create(ctx context.Context, event *model.ClickEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event).Error
}

func (r *clickEventRepository) CountByLink(ctx context.Context, linkID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ClickEvent{}).
		Where("link_id = ?", linkID).
		Count(&count).Error
	return count, err
}

func (r *clickEventRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&model.ClickEvent{})
	return result.RowsAffected, result.Error
}
