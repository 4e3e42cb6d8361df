package repository

import (
	"context"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContractRepository 合同仓库
type ContractRepository struct {
	db *gorm.DB
}

func NewContractRepository(db *gorm.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// FindAll 查询合同列表
func (r *ContractRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Contract, int64, error) {
	var items []entity.Contract
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Contract{})
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if keyword := filters["keyword"]; keyword != "" {
		query = query.Where("code LIKE ? OR title LIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&items).Error
	return items, total, err
}

// FindByID 根据ID查找合同（含清单、调价要素、变更）
func (r *ContractRepository) FindByID(ctx context.Context, id string) (*entity.Contract, error) {
	var c entity.Contract
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, item_no ASC") }).
		Preload("PriceElements", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("Variations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, notFound(err, "contract", id)
	}
	return &c, nil
}

// ExistsByCode 合同编号是否已存在
func (r *ContractRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Contract{}).Where("code = ?", code).Count(&count).Error
	return count > 0, err
}

// Create 创建合同及清单、调价要素
func (r *ContractRepository) Create(ctx context.Context, c *entity.Contract) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// Update 更新合同头（不级联子表）
func (r *ContractRepository) Update(ctx context.Context, c *entity.Contract) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(c).Error
}

// ReplacePriceElements 替换调价公式要素
func (r *ContractRepository) ReplacePriceElements(ctx context.Context, contractID string, elements []entity.PriceAdjustmentElement) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("contract_id = ?", contractID).Delete(&entity.PriceAdjustmentElement{}).Error; err != nil {
		return err
	}
	if len(elements) == 0 {
		return nil
	}
	return db.Create(&elements).Error
}

// CreateItem 新增清单项
func (r *ContractRepository) CreateItem(ctx context.Context, item *entity.BoqItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// MaxItemSort 清单最大排序号
func (r *ContractRepository) MaxItemSort(ctx context.Context, contractID string) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).Model(&entity.BoqItem{}).
		Where("contract_id = ?", contractID).
		Select("MAX(sort_order)").Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}

// FindVariation 查找变更令
func (r *ContractRepository) FindVariation(ctx context.Context, id string) (*entity.VariationOrder, error) {
	var v entity.VariationOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, notFound(err, "variation order", id)
	}
	return &v, nil
}

// CreateVariation 创建变更令
func (r *ContractRepository) CreateVariation(ctx context.Context, v *entity.VariationOrder) error {
	return r.db.WithContext(ctx).Create(v).Error
}

// UpdateVariation 更新变更令
func (r *ContractRepository) UpdateVariation(ctx context.Context, v *entity.VariationOrder) error {
	return r.db.WithContext(ctx).Save(v).Error
}

// CreateAmendment 记录条款修订
func (r *ContractRepository) CreateAmendment(ctx context.Context, a *entity.PolicyAmendment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

// ListAmendments 条款修订历史
func (r *ContractRepository) ListAmendments(ctx context.Context, contractID string) ([]entity.PolicyAmendment, error) {
	var items []entity.PolicyAmendment
	err := r.db.WithContext(ctx).Where("contract_id = ?", contractID).Order("to_version ASC").Find(&items).Error
	return items, err
}
