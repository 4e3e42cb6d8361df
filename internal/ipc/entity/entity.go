// Package entity 计量支付数据模型
package entity

import (
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"gorm.io/gorm"
)

// AutoMigrate 创建全部计量支付表
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Contract{},
		&BoqItem{},
		&PriceAdjustmentElement{},
		&VariationOrder{},
		&PolicyAmendment{},
		&InterimPaymentCertificate{},
		&BoqProgressLine{},
		&RetentionDeduction{},
		&AdvanceRecovery{},
		&PriceAdjustmentCalculation{},
		&MaterialOnSiteValuation{},
		&PaymentStatus{},
		&PaymentRecord{},
		&LedgerPosting{},
		&FinalAccount{},
		&FinalAccountItem{},
	); err != nil {
		return err
	}
	return engine.AutoMigrate(db)
}
