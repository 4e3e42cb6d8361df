package service

//go:generate mockgen -source=collaborators.go -destination=mocks/collaborators_mock.go -package=mocks

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/shopspring/decimal"
)

// IndexSource 价格指数来源。found=false 表示该日期无公布值
type IndexSource interface {
	Reading(ctx context.Context, indexCode string, date time.Time) (value decimal.Decimal, found bool, err error)
}

// TaxService 按应税额与辖区计算增值税
type TaxService interface {
	VAT(ctx context.Context, taxable decimal.Decimal, jurisdiction string) (decimal.Decimal, error)
}

// BondingService 合同建立时提供保留金/预付款条款
type BondingService interface {
	Policy(ctx context.Context, contractCode string) (*entity.ContractPolicy, error)
}

// LedgerSink 接收证书认证后的过账请求
type LedgerSink interface {
	Deliver(ctx context.Context, posting *entity.LedgerPosting) error
}

// Archiver 保存已认证证书的快照
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte, contentType string) error
}
