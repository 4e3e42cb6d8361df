package repository

import (
	"context"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"gorm.io/gorm"
)

// PaymentRepository 支付状态仓库
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByPayable 按多态引用查找
func (r *PaymentRepository) FindByPayable(ctx context.Context, payableType, payableID string) (*entity.PaymentStatus, error) {
	var p entity.PaymentStatus
	err := r.db.WithContext(ctx).
		Preload("Records", func(db *gorm.DB) *gorm.DB { return db.Order("paid_at ASC") }).
		Where("payable_type = ? AND payable_id = ?", payableType, payableID).
		First(&p).Error
	if err != nil {
		return nil, notFound(err, "payment status", payableID)
	}
	return &p, nil
}

// ListByContract 合同下全部支付状态
func (r *PaymentRepository) ListByContract(ctx context.Context, contractID string) ([]entity.PaymentStatus, error) {
	var items []entity.PaymentStatus
	err := r.db.WithContext(ctx).Where("contract_id = ?", contractID).Find(&items).Error
	return items, err
}

func (r *PaymentRepository) Create(ctx context.Context, p *entity.PaymentStatus) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) Update(ctx context.Context, p *entity.PaymentStatus) error {
	return r.db.WithContext(ctx).Omit("Records").Save(p).Error
}

// FindRecordByReference 按外部付款流水号查找
func (r *PaymentRepository) FindRecordByReference(ctx context.Context, reference string) (*entity.PaymentRecord, error) {
	var rec entity.PaymentRecord
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&rec).Error; err != nil {
		return nil, notFound(err, "payment record", reference)
	}
	return &rec, nil
}

func (r *PaymentRepository) CreateRecord(ctx context.Context, rec *entity.PaymentRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}
