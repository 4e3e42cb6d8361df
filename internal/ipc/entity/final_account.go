package entity

import (
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/shopspring/decimal"
)

// EntityTypeFinalAccount 最终结算在审批/日志中的实体类型
const EntityTypeFinalAccount = "final_account"

// 最终结算状态
const (
	FinalAccountStatusDraft = "draft"
	FinalAccountStatusFinal = "final"
)

// 结算明细类型
const (
	FinalItemCertificate      = "certificate"
	FinalItemVariation        = "variation"
	FinalItemRetentionRelease = "retention_release"
	FinalItemBonus            = "bonus"
	FinalItemPenalty          = "penalty"
)

// FinalAccount 最终结算（每个合同一份）
type FinalAccount struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	ContractID string `json:"contract_id" gorm:"size:32;not null;uniqueIndex"`
	Status     string `json:"status" gorm:"size:20;default:draft"`

	CertificateCount      int             `json:"certificate_count"`
	TotalGross            decimal.Decimal `json:"total_gross" gorm:"type:decimal(18,3)"`
	TotalNet              decimal.Decimal `json:"total_net" gorm:"type:decimal(18,3)"`
	TotalPriceAdjustment  decimal.Decimal `json:"total_price_adjustment" gorm:"type:decimal(18,3)"`
	TotalAdvanceRecovered decimal.Decimal `json:"total_advance_recovered" gorm:"type:decimal(18,3)"`
	TotalVAT              decimal.Decimal `json:"total_vat" gorm:"type:decimal(18,3)"`
	RetentionHeld         decimal.Decimal `json:"retention_held" gorm:"type:decimal(18,3)"`
	RetentionReleased     decimal.Decimal `json:"retention_released" gorm:"type:decimal(18,3)"`
	ApprovedVariations    decimal.Decimal `json:"approved_variations" gorm:"type:decimal(18,3)"`
	Bonuses               decimal.Decimal `json:"bonuses" gorm:"type:decimal(18,3)"`
	Penalties             decimal.Decimal `json:"penalties" gorm:"type:decimal(18,3)"`
	FinalAmountDue        decimal.Decimal `json:"final_amount_due" gorm:"type:decimal(18,3)"`
	AmountPaid            decimal.Decimal `json:"amount_paid" gorm:"type:decimal(18,3)"`
	BalanceDue            decimal.Decimal `json:"balance_due" gorm:"type:decimal(18,3)"`

	ApprovalRound int        `json:"approval_round" gorm:"default:0"`
	ClosedBy      string     `json:"closed_by" gorm:"size:64"`
	ClosedAt      time.Time  `json:"closed_at"`
	FinalizedBy   string     `json:"finalized_by" gorm:"size:64"`
	FinalizedAt   *time.Time `json:"finalized_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Items []FinalAccountItem `json:"items,omitempty" gorm:"foreignKey:FinalAccountID"`
}

func (FinalAccount) TableName() string {
	return "final_accounts"
}

func (f *FinalAccount) CurrentState() engine.State { return engine.State(f.Status) }
func (f *FinalAccount) SetState(s engine.State)    { f.Status = string(s) }

func (f *FinalAccount) Ref() engine.EntityRef {
	return engine.EntityRef{Type: EntityTypeFinalAccount, ID: f.ID}
}

// FinalAccountItem 最终结算明细
type FinalAccountItem struct {
	ID             string          `json:"id" gorm:"primaryKey;size:32"`
	FinalAccountID string          `json:"final_account_id" gorm:"size:32;not null;index"`
	ItemType       string          `json:"item_type" gorm:"size:30;not null"`
	Reference      string          `json:"reference" gorm:"size:64"`
	Description    string          `json:"description" gorm:"type:text"`
	Formula        string          `json:"formula,omitempty" gorm:"type:text"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(18,3)"`
	SortOrder      int             `json:"sort_order"`
}

func (FinalAccountItem) TableName() string {
	return "final_account_items"
}
