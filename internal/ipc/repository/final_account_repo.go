package repository

import (
	"context"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FinalAccountRepository 最终结算仓库
type FinalAccountRepository struct {
	db *gorm.DB
}

func NewFinalAccountRepository(db *gorm.DB) *FinalAccountRepository {
	return &FinalAccountRepository{db: db}
}

// FindByContract 查找合同的最终结算
func (r *FinalAccountRepository) FindByContract(ctx context.Context, contractID string) (*entity.FinalAccount, error) {
	var f entity.FinalAccount
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Where("contract_id = ?", contractID).
		First(&f).Error
	if err != nil {
		return nil, notFound(err, "final account", contractID)
	}
	return &f, nil
}

// FindByID 根据ID查找
func (r *FinalAccountRepository) FindByID(ctx context.Context, id string) (*entity.FinalAccount, error) {
	var f entity.FinalAccount
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Where("id = ?", id).
		First(&f).Error
	if err != nil {
		return nil, notFound(err, "final account", id)
	}
	return &f, nil
}

// Save 保存结算头并替换明细
func (r *FinalAccountRepository) Save(ctx context.Context, f *entity.FinalAccount) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Save(f).Error; err != nil {
		return err
	}
	if err := db.Where("final_account_id = ?", f.ID).Delete(&entity.FinalAccountItem{}).Error; err != nil {
		return err
	}
	if len(f.Items) == 0 {
		return nil
	}
	return db.Create(&f.Items).Error
}

// UpdateHeader 仅更新结算头
func (r *FinalAccountRepository) UpdateHeader(ctx context.Context, f *entity.FinalAccount) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(f).Error
}
