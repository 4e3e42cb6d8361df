package repository

import (
	"errors"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"gorm.io/gorm"
)

var (
	ErrNotFound = apperr.ErrNotFound
)

// Repositories 计量支付仓库集合
type Repositories struct {
	Contract     *ContractRepository
	Certificate  *CertificateRepository
	Payment      *PaymentRepository
	FinalAccount *FinalAccountRepository
	Ledger       *LedgerRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Contract:     NewContractRepository(db),
		Certificate:  NewCertificateRepository(db),
		Payment:      NewPaymentRepository(db),
		FinalAccount: NewFinalAccountRepository(db),
		Ledger:       NewLedgerRepository(db),
	}
}

// WithTx 返回绑定到事务的仓库集合
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}

func notFound(err error, entityName, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &apperr.NotFoundError{Entity: entityName, ID: id}
	}
	return err
}
