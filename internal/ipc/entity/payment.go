package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// 支付状态
const (
	PaymentStatusPending       = "pending"
	PaymentStatusPartiallyPaid = "partially_paid"
	PaymentStatusPaid          = "paid"
)

// PaymentStatus 应付款状态（多态：payable_type + payable_id）
type PaymentStatus struct {
	ID          string          `json:"id" gorm:"primaryKey;size:32"`
	PayableType string          `json:"payable_type" gorm:"size:50;not null;uniqueIndex:idx_payment_payable,priority:1"`
	PayableID   string          `json:"payable_id" gorm:"size:32;not null;uniqueIndex:idx_payment_payable,priority:2"`
	ContractID  string          `json:"contract_id" gorm:"size:32;not null;index"`
	AmountDue   decimal.Decimal `json:"amount_due" gorm:"type:decimal(18,3)"`
	AmountPaid  decimal.Decimal `json:"amount_paid" gorm:"type:decimal(18,3)"`
	Status      string          `json:"status" gorm:"size:20;default:pending"`
	PaidAt      *time.Time      `json:"paid_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Records []PaymentRecord `json:"records,omitempty" gorm:"foreignKey:PaymentStatusID"`
}

func (PaymentStatus) TableName() string {
	return "payment_statuses"
}

// Outstanding 未付金额
func (p *PaymentStatus) Outstanding() decimal.Decimal {
	return p.AmountDue.Sub(p.AmountPaid)
}

// PaymentRecord 外部付款确认（按 reference 幂等）
type PaymentRecord struct {
	ID              string          `json:"id" gorm:"primaryKey;size:32"`
	PaymentStatusID string          `json:"payment_status_id" gorm:"size:32;not null;index"`
	Reference       string          `json:"reference" gorm:"size:100;not null;uniqueIndex"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(18,3)"`
	PaidAt          time.Time       `json:"paid_at"`
	RecordedBy      string          `json:"recorded_by" gorm:"size:64"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (PaymentRecord) TableName() string {
	return "payment_records"
}

// 过账投递状态
const (
	PostingStatusPending    = "pending"
	PostingStatusDispatched = "dispatched"
)

// LedgerPosting 总账过账请求（发件箱），在认证事务中写入
type LedgerPosting struct {
	ID            string `json:"id" gorm:"primaryKey;size:32"`
	CertificateID string `json:"certificate_id" gorm:"size:32;not null;uniqueIndex:idx_posting_cert_round,priority:1"`
	// Round 认证所在审批轮次；重新认证产生新的过账请求
	Round        int             `json:"round" gorm:"not null;uniqueIndex:idx_posting_cert_round,priority:2"`
	ContractID   string          `json:"contract_id" gorm:"size:32;not null;index"`
	Currency     string          `json:"currency" gorm:"size:10"`
	Lines        datatypes.JSON  `json:"lines"`
	TotalDebit   decimal.Decimal `json:"total_debit" gorm:"type:decimal(18,3)"`
	TotalCredit  decimal.Decimal `json:"total_credit" gorm:"type:decimal(18,3)"`
	Status       string          `json:"status" gorm:"size:20;default:pending;index"`
	Attempts     int             `json:"attempts" gorm:"default:0"`
	LastError    string          `json:"last_error,omitempty" gorm:"type:text"`
	DispatchedAt *time.Time      `json:"dispatched_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (LedgerPosting) TableName() string {
	return "ledger_postings"
}

// PostingLine 借贷分录行
type PostingLine struct {
	Account string          `json:"account"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Memo    string          `json:"memo,omitempty"`
}
