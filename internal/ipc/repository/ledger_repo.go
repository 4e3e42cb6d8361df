package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"gorm.io/gorm"
)

// LedgerRepository 过账发件箱仓库
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, p *entity.LedgerPosting) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// ListByCertificate 证书的全部过账请求（按轮次）
func (r *LedgerRepository) ListByCertificate(ctx context.Context, certificateID string) ([]entity.LedgerPosting, error) {
	var items []entity.LedgerPosting
	err := r.db.WithContext(ctx).Where("certificate_id = ?", certificateID).Order("round ASC").Find(&items).Error
	return items, err
}

// ListPending 待投递的过账请求（按创建顺序）
func (r *LedgerRepository) ListPending(ctx context.Context, limit int) ([]entity.LedgerPosting, error) {
	var items []entity.LedgerPosting
	err := r.db.WithContext(ctx).
		Where("status = ?", entity.PostingStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// MarkDispatched 标记已投递
func (r *LedgerRepository) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&entity.LedgerPosting{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        entity.PostingStatusDispatched,
			"dispatched_at": at,
			"last_error":    "",
		}).Error
}

// MarkFailed 记录投递失败
func (r *LedgerRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	return r.db.WithContext(ctx).Model(&entity.LedgerPosting{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
		}).Error
}
