package entity

import (
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// 合同状态
const (
	ContractStatusActive    = "active"
	ContractStatusCompleted = "completed" // 已出最终结算草稿
	ContractStatusClosed    = "closed"    // 最终结算已定稿
)

// 调价公式校验结果
const (
	PriceAdjustmentDisabled = "disabled"
	PriceAdjustmentValid    = "valid"
	PriceAdjustmentInvalid  = "invalid"
)

// Contract 施工合同（含工程量清单与保留金/预付款条款）
type Contract struct {
	ID             string          `json:"id" gorm:"primaryKey;size:32"`
	Code           string          `json:"code" gorm:"size:50;uniqueIndex;not null"`
	Title          string          `json:"title" gorm:"size:200;not null"`
	EmployerName   string          `json:"employer_name" gorm:"size:200"`
	ContractorName string          `json:"contractor_name" gorm:"size:200"`
	Currency       string          `json:"currency" gorm:"size:10;default:USD"`
	ContractValue  decimal.Decimal `json:"contract_value" gorm:"type:decimal(18,3);not null"`
	Status         string          `json:"status" gorm:"size:20;default:active"` // active/completed/closed

	// 条款
	RetentionPercentage       decimal.Decimal `json:"retention_percentage" gorm:"type:decimal(9,6)"`
	MaxRetentionMode          string          `json:"max_retention_mode" gorm:"size:20"` // absolute/percentage
	MaxRetentionValue         decimal.Decimal `json:"max_retention_value" gorm:"type:decimal(18,6)"`
	AdvanceAmount             decimal.Decimal `json:"advance_amount" gorm:"type:decimal(18,3)"`
	AdvanceRecoveryPercentage decimal.Decimal `json:"advance_recovery_percentage" gorm:"type:decimal(9,6)"`
	MaterialsClaimPercentage  decimal.Decimal `json:"materials_claim_percentage" gorm:"type:decimal(9,6)"`
	// QuantityTolerance 累计工程量上限系数，默认 1
	QuantityTolerance decimal.Decimal `json:"quantity_tolerance" gorm:"type:decimal(9,6)"`
	VATJurisdiction   string          `json:"vat_jurisdiction" gorm:"size:50"`
	PolicyVersion     int             `json:"policy_version" gorm:"default:1"`

	PriceAdjustmentStatus string `json:"price_adjustment_status" gorm:"size:20;default:disabled"`
	PriceAdjustmentIssues string `json:"price_adjustment_issues,omitempty" gorm:"type:text"`

	StartDate      *time.Time `json:"start_date"`
	CompletionDate *time.Time `json:"completion_date"`

	CreatedBy string    `json:"created_by" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Items         []BoqItem                `json:"items,omitempty" gorm:"foreignKey:ContractID"`
	PriceElements []PriceAdjustmentElement `json:"price_elements,omitempty" gorm:"foreignKey:ContractID"`
	Variations    []VariationOrder         `json:"variations,omitempty" gorm:"foreignKey:ContractID"`
}

func (Contract) TableName() string {
	return "contracts"
}

// MaxRetention 保留金上限金额
func (c *Contract) MaxRetention() decimal.Decimal {
	return calc.ResolveMaxRetention(c.MaxRetentionMode, c.MaxRetentionValue, c.ContractValue)
}

// Formula 调价公式
func (c *Contract) Formula() []calc.Element {
	out := make([]calc.Element, 0, len(c.PriceElements))
	for _, el := range c.PriceElements {
		out = append(out, el.Element())
	}
	return out
}

// BoqItem 工程量清单项
type BoqItem struct {
	ID               string          `json:"id" gorm:"primaryKey;size:32"`
	ContractID       string          `json:"contract_id" gorm:"size:32;not null;index"`
	ItemNo           string          `json:"item_no" gorm:"size:30;not null"`
	Description      string          `json:"description" gorm:"type:text"`
	Unit             string          `json:"unit" gorm:"size:20"`
	ContractQuantity decimal.Decimal `json:"contract_quantity" gorm:"type:decimal(18,3)"`
	ContractRate     decimal.Decimal `json:"contract_rate" gorm:"type:decimal(18,3)"`
	ContractAmount   decimal.Decimal `json:"contract_amount" gorm:"type:decimal(18,3)"`
	SortOrder        int             `json:"sort_order" gorm:"default:0"`
	// VariationID 由变更新增的清单项
	VariationID *string   `json:"variation_id,omitempty" gorm:"size:32"`
	CreatedAt   time.Time `json:"created_at"`
}

func (BoqItem) TableName() string {
	return "boq_items"
}

// PriceAdjustmentElement 调价公式要素
type PriceAdjustmentElement struct {
	ID          string          `json:"id" gorm:"primaryKey;size:32"`
	ContractID  string          `json:"contract_id" gorm:"size:32;not null;index"`
	ElementType string          `json:"element_type" gorm:"size:20;not null"` // fixed/labor/material/equipment
	IndexCode   string          `json:"index_code" gorm:"size:50"`
	Weight      decimal.Decimal `json:"weight" gorm:"type:decimal(9,6)"`
	BaseIndex   decimal.Decimal `json:"base_index" gorm:"type:decimal(18,6)"`
	SortOrder   int             `json:"sort_order"`
}

func (PriceAdjustmentElement) TableName() string {
	return "price_adjustment_elements"
}

func (e PriceAdjustmentElement) Element() calc.Element {
	return calc.Element{
		Type:      calc.ElementType(e.ElementType),
		IndexCode: e.IndexCode,
		Weight:    e.Weight,
		BaseIndex: e.BaseIndex,
	}
}

// 变更状态
const (
	VariationStatusPending  = "pending"
	VariationStatusApproved = "approved"
	VariationStatusRejected = "rejected"
)

// VariationOrder 工程变更令
type VariationOrder struct {
	ID                 string              `json:"id" gorm:"primaryKey;size:32"`
	ContractID         string              `json:"contract_id" gorm:"size:32;not null;index"`
	Code               string              `json:"code" gorm:"size:50;not null"`
	BoqItemID          string              `json:"boq_item_id" gorm:"size:32"`
	Description        string              `json:"description" gorm:"type:text"`
	AdditionalQuantity decimal.Decimal     `json:"additional_quantity" gorm:"type:decimal(18,3)"`
	RevisedRate        decimal.NullDecimal `json:"revised_rate" gorm:"type:decimal(18,3)"`
	// 新增清单项
	NewItemNo   string `json:"new_item_no,omitempty" gorm:"size:30"`
	NewItemUnit string `json:"new_item_unit,omitempty" gorm:"size:20"`

	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(18,3)"`
	Status    string          `json:"status" gorm:"size:20;default:pending"`
	Reason    string          `json:"reason" gorm:"type:text"`
	DecidedBy string          `json:"decided_by" gorm:"size:64"`
	DecidedAt *time.Time      `json:"decided_at"`
	CreatedBy string          `json:"created_by" gorm:"size:64"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (VariationOrder) TableName() string {
	return "variation_orders"
}

// PolicyAmendment 合同条款正式修订记录
type PolicyAmendment struct {
	ID          string         `json:"id" gorm:"primaryKey;size:32"`
	ContractID  string         `json:"contract_id" gorm:"size:32;not null;index"`
	FromVersion int            `json:"from_version"`
	ToVersion   int            `json:"to_version"`
	Changes     datatypes.JSON `json:"changes"`
	Reason      string         `json:"reason" gorm:"type:text"`
	AmendedBy   string         `json:"amended_by" gorm:"size:64"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (PolicyAmendment) TableName() string {
	return "contract_policy_amendments"
}

// ContractPolicy 合同保留金/预付款条款（担保服务或请求提供）
type ContractPolicy struct {
	RetentionPercentage       decimal.Decimal `json:"retention_percentage"`
	MaxRetentionMode          string          `json:"max_retention_mode"`
	MaxRetentionValue         decimal.Decimal `json:"max_retention_value"`
	AdvanceAmount             decimal.Decimal `json:"advance_amount"`
	AdvanceRecoveryPercentage decimal.Decimal `json:"advance_recovery_percentage"`
	MaterialsClaimPercentage  decimal.Decimal `json:"materials_claim_percentage"`
}

// Policy 当前条款
func (c *Contract) Policy() ContractPolicy {
	return ContractPolicy{
		RetentionPercentage:       c.RetentionPercentage,
		MaxRetentionMode:          c.MaxRetentionMode,
		MaxRetentionValue:         c.MaxRetentionValue,
		AdvanceAmount:             c.AdvanceAmount,
		AdvanceRecoveryPercentage: c.AdvanceRecoveryPercentage,
		MaterialsClaimPercentage:  c.MaterialsClaimPercentage,
	}
}

// ApplyPolicy 写入条款
func (c *Contract) ApplyPolicy(p ContractPolicy) {
	c.RetentionPercentage = p.RetentionPercentage
	c.MaxRetentionMode = p.MaxRetentionMode
	c.MaxRetentionValue = p.MaxRetentionValue
	c.AdvanceAmount = p.AdvanceAmount
	c.AdvanceRecoveryPercentage = p.AdvanceRecoveryPercentage
	c.MaterialsClaimPercentage = p.MaterialsClaimPercentage
}
