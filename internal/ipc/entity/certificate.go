package entity

import (
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// EntityTypeInterimPayment 期中支付证书在审批/日志中的实体类型
const EntityTypeInterimPayment = "interim_payment"

// 期中支付证书状态
const (
	IPCStatusDraft       = "draft"
	IPCStatusSubmitted   = "submitted"
	IPCStatusUnderReview = "under_review"
	IPCStatusCertified   = "certified"
	IPCStatusPaid        = "paid"
	IPCStatusDisputed    = "disputed"
	IPCStatusCancelled   = "cancelled"
)

// 争议处理结果
const (
	DisputeReconciled = "reconciled" // 人工对账
	DisputeSuperseded = "superseded" // 被后续证书替代
)

// InterimPaymentCertificate 期中支付证书
type InterimPaymentCertificate struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	ContractID  string    `json:"contract_id" gorm:"size:32;not null;uniqueIndex:idx_ipc_contract_seq,priority:1"`
	Sequence    int       `json:"sequence" gorm:"not null;uniqueIndex:idx_ipc_contract_seq,priority:2"`
	Code        string    `json:"code" gorm:"size:64;not null"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// 金额
	BoqWorkAmount         decimal.Decimal `json:"boq_work_amount" gorm:"type:decimal(18,3)"`
	MaterialsAmount       decimal.Decimal `json:"materials_amount" gorm:"type:decimal(18,3)"`
	GrossAmount           decimal.Decimal `json:"gross_amount" gorm:"type:decimal(18,3)"`
	RetentionAmount       decimal.Decimal `json:"retention_amount" gorm:"type:decimal(18,3)"`
	AdvanceRecoveryAmount decimal.Decimal `json:"advance_recovery" gorm:"type:decimal(18,3)"`
	PriceAdjustmentAmount decimal.Decimal `json:"price_adjustment_amount" gorm:"type:decimal(18,3)"`
	VATAmount             decimal.Decimal `json:"vat_amount" gorm:"type:decimal(18,3)"`
	NetAmount             decimal.Decimal `json:"net_amount" gorm:"type:decimal(18,3)"`
	// 累计认证毛额：上期 current_certified 即本期 previous_certified
	PreviousCertified decimal.Decimal `json:"previous_certified" gorm:"type:decimal(18,3)"`
	CurrentCertified  decimal.Decimal `json:"current_certified" gorm:"type:decimal(18,3)"`

	Status        string     `json:"status" gorm:"size:20;not null;default:draft;index"`
	PolicyVersion int        `json:"policy_version"`
	ApprovalRound int        `json:"approval_round" gorm:"default:0"`
	ValidatedAt   *time.Time `json:"validated_at"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	CertifiedAt   *time.Time `json:"certified_at"`
	PaidAt        *time.Time `json:"paid_at"`

	// 争议
	DisputeReason     string     `json:"dispute_reason,omitempty" gorm:"type:text"`
	DisputeResolution string     `json:"dispute_resolution,omitempty" gorm:"size:20"`
	DisputeResolvedAt *time.Time `json:"dispute_resolved_at,omitempty"`
	SupersededByID    *string    `json:"superseded_by_id,omitempty" gorm:"size:32"`

	PreparedBy string    `json:"prepared_by" gorm:"size:64"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// 关联
	Lines           []BoqProgressLine           `json:"lines,omitempty" gorm:"foreignKey:CertificateID"`
	Retention       *RetentionDeduction         `json:"retention,omitempty" gorm:"foreignKey:CertificateID"`
	Advance         *AdvanceRecovery            `json:"advance,omitempty" gorm:"foreignKey:CertificateID"`
	PriceAdjustment *PriceAdjustmentCalculation `json:"price_adjustment,omitempty" gorm:"foreignKey:CertificateID"`
	Materials       []MaterialOnSiteValuation   `json:"materials,omitempty" gorm:"foreignKey:CertificateID"`
	Payment         *PaymentStatus              `json:"payment,omitempty" gorm:"-"`
}

func (InterimPaymentCertificate) TableName() string {
	return "interim_payments"
}

func (c *InterimPaymentCertificate) CurrentState() engine.State { return engine.State(c.Status) }
func (c *InterimPaymentCertificate) SetState(s engine.State)    { c.Status = string(s) }

// Ref 多态引用
func (c *InterimPaymentCertificate) Ref() engine.EntityRef {
	return engine.EntityRef{Type: EntityTypeInterimPayment, ID: c.ID}
}

// IsSuperseded 是否已被后续证书替代
func (c *InterimPaymentCertificate) IsSuperseded() bool {
	return c.DisputeResolution == DisputeSuperseded
}

// InChain 是否参与累计链（已取消、已替代的证书跳过）
func (c *InterimPaymentCertificate) InChain() bool {
	return c.Status != IPCStatusCancelled && !c.IsSuperseded()
}

// IsClosed 可作为下一期前序的状态
func (c *InterimPaymentCertificate) IsClosed() bool {
	switch c.Status {
	case IPCStatusCertified, IPCStatusPaid:
		return true
	case IPCStatusDisputed:
		return c.DisputeResolution == DisputeReconciled
	}
	return false
}

// IsTerminal 最终结算要求的终态：已支付、已取消或争议已解决
func (c *InterimPaymentCertificate) IsTerminal() bool {
	switch c.Status {
	case IPCStatusPaid, IPCStatusCancelled:
		return true
	case IPCStatusDisputed:
		return c.DisputeResolution != ""
	}
	return false
}

// CountsTowardFinal 计入最终结算的证书
func (c *InterimPaymentCertificate) CountsTowardFinal() bool {
	return c.InChain() && (c.Status == IPCStatusPaid || c.Status == IPCStatusDisputed)
}

// BoqProgressLine 清单项计量行
type BoqProgressLine struct {
	ID               string          `json:"id" gorm:"primaryKey;size:32"`
	CertificateID    string          `json:"certificate_id" gorm:"size:32;not null;uniqueIndex:idx_progress_cert_item,priority:1"`
	ContractID       string          `json:"contract_id" gorm:"size:32;not null;index"`
	BoqItemID        string          `json:"boq_item_id" gorm:"size:32;not null;uniqueIndex:idx_progress_cert_item,priority:2"`
	ItemNo           string          `json:"item_no" gorm:"size:30"`
	Unit             string          `json:"unit" gorm:"size:20"`
	AuthorizedQty    decimal.Decimal `json:"authorized_qty" gorm:"type:decimal(18,3)"`
	Rate             decimal.Decimal `json:"rate" gorm:"type:decimal(18,3)"`
	PreviousQty      decimal.Decimal `json:"previous_qty" gorm:"type:decimal(18,3)"`
	CurrentQty       decimal.Decimal `json:"current_qty" gorm:"type:decimal(18,3)"`
	CumulativeQty    decimal.Decimal `json:"cumulative_qty" gorm:"type:decimal(18,3)"`
	RemainingQty     decimal.Decimal `json:"remaining_qty" gorm:"type:decimal(18,3)"`
	PreviousAmount   decimal.Decimal `json:"previous_amount" gorm:"type:decimal(18,3)"`
	CurrentAmount    decimal.Decimal `json:"current_amount" gorm:"type:decimal(18,3)"`
	CumulativeAmount decimal.Decimal `json:"cumulative_amount" gorm:"type:decimal(18,3)"`
	SortOrder        int             `json:"sort_order"`
}

func (BoqProgressLine) TableName() string {
	return "boq_progresses"
}

// RetentionDeduction 保留金扣留
type RetentionDeduction struct {
	ID                  string          `json:"id" gorm:"primaryKey;size:32"`
	CertificateID       string          `json:"certificate_id" gorm:"size:32;not null;uniqueIndex"`
	ContractID          string          `json:"contract_id" gorm:"size:32;not null;index"`
	GrossWorkValue      decimal.Decimal `json:"gross_work_value" gorm:"type:decimal(18,3)"`
	RetentionPercentage decimal.Decimal `json:"retention_percentage" gorm:"type:decimal(9,6)"`
	RawAmount           decimal.Decimal `json:"raw_amount" gorm:"type:decimal(18,3)"`
	MaxRetention        decimal.Decimal `json:"max_retention" gorm:"type:decimal(18,3)"`
	PreviousCumulative  decimal.Decimal `json:"previous_cumulative" gorm:"type:decimal(18,3)"`
	CurrentRetention    decimal.Decimal `json:"current_retention" gorm:"type:decimal(18,3)"`
	CumulativeRetention decimal.Decimal `json:"cumulative_retention" gorm:"type:decimal(18,3)"`
	MaxReached          bool            `json:"max_reached"`
}

func (RetentionDeduction) TableName() string {
	return "retention_deductions"
}

// AdvanceRecovery 预付款扣回
type AdvanceRecovery struct {
	ID                  string          `json:"id" gorm:"primaryKey;size:32"`
	CertificateID       string          `json:"certificate_id" gorm:"size:32;not null;uniqueIndex"`
	ContractID          string          `json:"contract_id" gorm:"size:32;not null;index"`
	AdvanceAmount       decimal.Decimal `json:"advance_amount" gorm:"type:decimal(18,3)"`
	RecoveryPercentage  decimal.Decimal `json:"recovery_percentage" gorm:"type:decimal(9,6)"`
	GrossWorkValue      decimal.Decimal `json:"gross_work_value" gorm:"type:decimal(18,3)"`
	RawAmount           decimal.Decimal `json:"raw_amount" gorm:"type:decimal(18,3)"`
	PreviousRecovered   decimal.Decimal `json:"previous_recovered" gorm:"type:decimal(18,3)"`
	CurrentRecovery     decimal.Decimal `json:"current_recovery" gorm:"type:decimal(18,3)"`
	CumulativeRecovered decimal.Decimal `json:"cumulative_recovered" gorm:"type:decimal(18,3)"`
	BalanceRemaining    decimal.Decimal `json:"balance_remaining" gorm:"type:decimal(18,3)"`
	FullyRecovered      bool            `json:"fully_recovered"`
}

func (AdvanceRecovery) TableName() string {
	return "advance_recoveries"
}

// PriceAdjustmentCalculation 价格调整计算（只读派生）
type PriceAdjustmentCalculation struct {
	ID               string          `json:"id" gorm:"primaryKey;size:32"`
	CertificateID    string          `json:"certificate_id" gorm:"size:32;not null;uniqueIndex"`
	ContractID       string          `json:"contract_id" gorm:"size:32;not null;index"`
	WorkValue        decimal.Decimal `json:"work_value" gorm:"type:decimal(18,3)"`
	IndexDate        time.Time       `json:"index_date"`
	AdjustmentFactor decimal.Decimal `json:"adjustment_factor" gorm:"type:decimal(18,6)"`
	AdjustmentAmount decimal.Decimal `json:"adjustment_amount" gorm:"type:decimal(18,3)"`
	Elements         datatypes.JSON  `json:"elements"`
}

func (PriceAdjustmentCalculation) TableName() string {
	return "price_adjustment_calculations"
}

// MaterialOnSiteValuation 现场材料估价
type MaterialOnSiteValuation struct {
	ID                   string          `json:"id" gorm:"primaryKey;size:32"`
	CertificateID        string          `json:"certificate_id" gorm:"size:32;not null;index"`
	ContractID           string          `json:"contract_id" gorm:"size:32;not null;index"`
	MaterialCode         string          `json:"material_code" gorm:"size:50;not null"`
	Description          string          `json:"description" gorm:"size:200"`
	Quantity             decimal.Decimal `json:"quantity" gorm:"type:decimal(18,3)"`
	UnitRate             decimal.Decimal `json:"unit_rate" gorm:"type:decimal(18,3)"`
	DeliveredValue       decimal.Decimal `json:"delivered_value" gorm:"type:decimal(18,3)"`
	ClaimPercentage      decimal.Decimal `json:"claim_percentage" gorm:"type:decimal(9,6)"`
	ClaimedValue         decimal.Decimal `json:"claimed_value" gorm:"type:decimal(18,3)"`
	PreviousClaimedValue decimal.Decimal `json:"previous_claimed_value" gorm:"type:decimal(18,3)"`
	CurrentAmount        decimal.Decimal `json:"current_amount" gorm:"type:decimal(18,3)"`
	IsIncorporated       bool            `json:"is_incorporated"`
	Eligible             bool            `json:"eligible"`
}

func (MaterialOnSiteValuation) TableName() string {
	return "material_on_site_valuations"
}
