package repository

import (
	"context"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CertificateRepository 期中支付证书仓库
type CertificateRepository struct {
	db *gorm.DB
}

func NewCertificateRepository(db *gorm.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

func (r *CertificateRepository) preload(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("Retention").
		Preload("Advance").
		Preload("PriceAdjustment").
		Preload("Materials", func(db *gorm.DB) *gorm.DB { return db.Order("material_code ASC") })
}

// FindByID 根据ID查找证书（含全部子表）
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*entity.InterimPaymentCertificate, error) {
	var c entity.InterimPaymentCertificate
	if err := r.preload(r.db.WithContext(ctx)).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, "interim payment", id)
	}
	return &c, nil
}

// FindHeader 仅查询证书头
func (r *CertificateRepository) FindHeader(ctx context.Context, id string) (*entity.InterimPaymentCertificate, error) {
	var c entity.InterimPaymentCertificate
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, "interim payment", id)
	}
	return &c, nil
}

// FindBySequence 按合同+期号查找
func (r *CertificateRepository) FindBySequence(ctx context.Context, contractID string, sequence int) (*entity.InterimPaymentCertificate, error) {
	var c entity.InterimPaymentCertificate
	err := r.preload(r.db.WithContext(ctx)).
		Where("contract_id = ? AND sequence = ?", contractID, sequence).
		First(&c).Error
	if err != nil {
		return nil, notFound(err, "interim payment", contractID)
	}
	return &c, nil
}

// MaxSequence 合同当前最大期号，无证书时为 0
func (r *CertificateRepository) MaxSequence(ctx context.Context, contractID string) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).Model(&entity.InterimPaymentCertificate{}).
		Where("contract_id = ?", contractID).
		Select("MAX(sequence)").Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}

// Predecessor 期号小于 sequence 的最近一张链上证书（跳过已取消、已替代），没有时返回 nil
func (r *CertificateRepository) Predecessor(ctx context.Context, contractID string, sequence int) (*entity.InterimPaymentCertificate, error) {
	var items []entity.InterimPaymentCertificate
	err := r.preload(r.db.WithContext(ctx)).
		Where("contract_id = ? AND sequence < ? AND status <> ?", contractID, sequence, entity.IPCStatusCancelled).
		Where("dispute_resolution IS NULL OR dispute_resolution <> ?", entity.DisputeSuperseded).
		Order("sequence DESC").
		Limit(1).
		Find(&items).Error
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// ListByContract 合同全部证书（按期号）
func (r *CertificateRepository) ListByContract(ctx context.Context, contractID string, withChildren bool) ([]entity.InterimPaymentCertificate, error) {
	var items []entity.InterimPaymentCertificate
	db := r.db.WithContext(ctx)
	if withChildren {
		db = r.preload(db)
	}
	err := db.Where("contract_id = ?", contractID).Order("sequence ASC").Find(&items).Error
	return items, err
}

// FindAll 分页查询证书
func (r *CertificateRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.InterimPaymentCertificate, int64, error) {
	var items []entity.InterimPaymentCertificate
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.InterimPaymentCertificate{})
	if contractID := filters["contract_id"]; contractID != "" {
		query = query.Where("contract_id = ?", contractID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("contract_id ASC, sequence ASC").Offset(offset).Limit(pageSize).Find(&items).Error
	return items, total, err
}

// Create 创建证书及子表
func (r *CertificateRepository) Create(ctx context.Context, c *entity.InterimPaymentCertificate) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// UpdateHeader 更新证书头（不级联子表）
func (r *CertificateRepository) UpdateHeader(ctx context.Context, c *entity.InterimPaymentCertificate) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(c).Error
}

// ReplaceChildren 重算时替换全部派生子表
func (r *CertificateRepository) ReplaceChildren(ctx context.Context, c *entity.InterimPaymentCertificate) error {
	db := r.db.WithContext(ctx)
	for _, model := range []interface{}{
		&entity.BoqProgressLine{},
		&entity.RetentionDeduction{},
		&entity.AdvanceRecovery{},
		&entity.PriceAdjustmentCalculation{},
		&entity.MaterialOnSiteValuation{},
	} {
		if err := db.Where("certificate_id = ?", c.ID).Delete(model).Error; err != nil {
			return err
		}
	}
	if len(c.Lines) > 0 {
		if err := db.Create(&c.Lines).Error; err != nil {
			return err
		}
	}
	if len(c.Materials) > 0 {
		if err := db.Create(&c.Materials).Error; err != nil {
			return err
		}
	}
	if c.Retention != nil {
		if err := db.Create(c.Retention).Error; err != nil {
			return err
		}
	}
	if c.Advance != nil {
		if err := db.Create(c.Advance).Error; err != nil {
			return err
		}
	}
	if c.PriceAdjustment != nil {
		if err := db.Create(c.PriceAdjustment).Error; err != nil {
			return err
		}
	}
	return nil
}
