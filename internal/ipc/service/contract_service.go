package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EntityTypeContract 合同在审计日志中的实体类型
const EntityTypeContract = "contract"

// ContractService 合同服务：合同建立、条款修订、工程变更
type ContractService struct {
	db      *gorm.DB
	engine  *engine.Engine
	tx      *contractTx
	bonding BondingService
	logger  *zap.Logger
}

func NewContractService(db *gorm.DB, eng *engine.Engine, tx *contractTx, bonding BondingService, logger *zap.Logger) *ContractService {
	return &ContractService{db: db, engine: eng, tx: tx, bonding: bonding, logger: logger}
}

// BoqItemInput 清单项
type BoqItemInput struct {
	ItemNo      string          `json:"item_no" binding:"required"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

// PriceElementInput 调价公式要素
type PriceElementInput struct {
	ElementType string          `json:"element_type" binding:"required"`
	IndexCode   string          `json:"index_code"`
	Weight      decimal.Decimal `json:"weight"`
	BaseIndex   decimal.Decimal `json:"base_index"`
}

// CreateContractRequest 创建合同请求
type CreateContractRequest struct {
	Code              string                 `json:"code" binding:"required"`
	Title             string                 `json:"title" binding:"required"`
	EmployerName      string                 `json:"employer_name"`
	ContractorName    string                 `json:"contractor_name"`
	Currency          string                 `json:"currency"`
	ContractValue     decimal.Decimal        `json:"contract_value"`
	Policy            *entity.ContractPolicy `json:"policy"`
	QuantityTolerance *decimal.Decimal       `json:"quantity_tolerance"`
	VATJurisdiction   string                 `json:"vat_jurisdiction"`
	StartDate         *string                `json:"start_date"`
	CompletionDate    *string                `json:"completion_date"`
	Items             []BoqItemInput         `json:"items" binding:"required,min=1,dive"`
	PriceElements     []PriceElementInput    `json:"price_elements"`
}

// AmendPolicyRequest 条款修订请求
type AmendPolicyRequest struct {
	Policy        *entity.ContractPolicy `json:"policy"`
	PriceElements *[]PriceElementInput   `json:"price_elements"`
	Reason        string                 `json:"reason" binding:"required"`
}

// CreateVariationRequest 工程变更请求。BoqItemID 为空时新增清单项
type CreateVariationRequest struct {
	Code               string           `json:"code" binding:"required"`
	BoqItemID          string           `json:"boq_item_id"`
	Description        string           `json:"description"`
	AdditionalQuantity decimal.Decimal  `json:"additional_quantity"`
	RevisedRate        *decimal.Decimal `json:"revised_rate"`
	NewItemNo          string           `json:"new_item_no"`
	NewItemUnit        string           `json:"new_item_unit"`
	Reason             string           `json:"reason"`
}

// List 合同列表
func (s *ContractService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Contract, int64, error) {
	return repository.NewContractRepository(s.db).FindAll(ctx, page, pageSize, filters)
}

// Get 合同详情
func (s *ContractService) Get(ctx context.Context, id string) (*entity.Contract, error) {
	return repository.NewContractRepository(s.db).FindByID(ctx, id)
}

// Amendments 条款修订历史
func (s *ContractService) Amendments(ctx context.Context, id string) ([]entity.PolicyAmendment, error) {
	return repository.NewContractRepository(s.db).ListAmendments(ctx, id)
}

// Create 建立合同。未提供条款时从担保服务获取
func (s *ContractService) Create(ctx context.Context, userID string, req *CreateContractRequest) (*entity.Contract, error) {
	repo := repository.NewContractRepository(s.db)
	exists, err := repo.ExistsByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Invalid("code", "contract %s already exists", req.Code)
	}

	policy := req.Policy
	if policy == nil {
		if s.bonding == nil {
			return nil, apperr.Invalid("policy", "required when no bonding service is configured")
		}
		if policy, err = s.bonding.Policy(ctx, req.Code); err != nil {
			return nil, &apperr.DependencyError{Source: "bonding service", Cause: err}
		}
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	contract := &entity.Contract{
		ID:                newID(),
		Code:              req.Code,
		Title:             req.Title,
		EmployerName:      req.EmployerName,
		ContractorName:    req.ContractorName,
		Currency:          "USD",
		Status:            entity.ContractStatusActive,
		QuantityTolerance: decimal.NewFromInt(1),
		VATJurisdiction:   req.VATJurisdiction,
		PolicyVersion:     1,
		CreatedBy:         userID,
	}
	if req.Currency != "" {
		contract.Currency = req.Currency
	}
	if req.QuantityTolerance != nil {
		if req.QuantityTolerance.LessThan(decimal.NewFromInt(1)) {
			return nil, apperr.Invalid("quantity_tolerance", "must be at least 1")
		}
		contract.QuantityTolerance = *req.QuantityTolerance
	}
	contract.ApplyPolicy(*policy)
	if contract.StartDate, err = parseDate("start_date", req.StartDate); err != nil {
		return nil, err
	}
	if contract.CompletionDate, err = parseDate("completion_date", req.CompletionDate); err != nil {
		return nil, err
	}

	total := decimal.Zero
	seen := make(map[string]bool, len(req.Items))
	for i, in := range req.Items {
		if seen[in.ItemNo] {
			return nil, apperr.Invalid("items", "item %s listed twice", in.ItemNo)
		}
		seen[in.ItemNo] = true
		if in.Quantity.IsNegative() || in.Rate.IsNegative() {
			return nil, apperr.Invalid("items."+in.ItemNo, "quantity and rate must not be negative")
		}
		item := entity.BoqItem{
			ID:               newID(),
			ContractID:       contract.ID,
			ItemNo:           in.ItemNo,
			Description:      in.Description,
			Unit:             in.Unit,
			ContractQuantity: calc.Round(in.Quantity),
			ContractRate:     calc.Round(in.Rate),
			ContractAmount:   calc.Mul(in.Quantity, in.Rate),
			SortOrder:        i + 1,
		}
		total = total.Add(item.ContractAmount)
		contract.Items = append(contract.Items, item)
	}
	contract.ContractValue = calc.Round(req.ContractValue)
	if contract.ContractValue.IsZero() {
		contract.ContractValue = total
	}

	contract.PriceElements = buildPriceElements(contract.ID, req.PriceElements)
	applyFormulaValidation(contract)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewContractRepository(tx).Create(ctx, contract); err != nil {
			return err
		}
		return s.engine.Log(ctx, tx, contractRef(contract.ID), "", engine.State(contract.Status), "create",
			engine.Actor{ID: userID}, map[string]interface{}{"policy_version": contract.PolicyVersion})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Contract created",
		zap.String("contract_id", contract.ID),
		zap.String("code", contract.Code),
		zap.Int("items", len(contract.Items)),
		zap.String("price_adjustment", contract.PriceAdjustmentStatus),
	)
	return repo.FindByID(ctx, contract.ID)
}

// AmendPolicy 条款正式修订：版本号加一，旧版本下组装的草稿需重新组装后才能提交
func (s *ContractService) AmendPolicy(ctx context.Context, contractID string, req *AmendPolicyRequest, actor engine.Actor) (*entity.Contract, error) {
	if req.Policy == nil && req.PriceElements == nil {
		return nil, apperr.Invalid("policy", "nothing to amend")
	}
	if req.Policy != nil {
		if err := validatePolicy(req.Policy); err != nil {
			return nil, err
		}
	}

	var out *entity.Contract
	err := s.tx.run(ctx, contractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		contract, err := repos.Contract.FindByID(ctx, contractID)
		if err != nil {
			return err
		}
		if contract.Status == entity.ContractStatusClosed {
			return &apperr.StateError{
				EntityType: EntityTypeContract, EntityID: contractID, Current: contract.Status,
				Event: "amend", Precondition: "contract is closed",
			}
		}

		changes := map[string]interface{}{}
		if req.Policy != nil {
			changes["from"] = contract.Policy()
			changes["to"] = *req.Policy
			contract.ApplyPolicy(*req.Policy)
		}
		if req.PriceElements != nil {
			contract.PriceElements = buildPriceElements(contract.ID, *req.PriceElements)
			applyFormulaValidation(contract)
			changes["price_elements"] = contract.PriceElements
			if err := repos.Contract.ReplacePriceElements(ctx, contract.ID, contract.PriceElements); err != nil {
				return err
			}
		}
		raw, err := json.Marshal(changes)
		if err != nil {
			return err
		}

		from := contract.PolicyVersion
		contract.PolicyVersion++
		if err := repos.Contract.Update(ctx, contract); err != nil {
			return err
		}
		if err := repos.Contract.CreateAmendment(ctx, &entity.PolicyAmendment{
			ID:          newID(),
			ContractID:  contract.ID,
			FromVersion: from,
			ToVersion:   contract.PolicyVersion,
			Changes:     datatypes.JSON(raw),
			Reason:      req.Reason,
			AmendedBy:   actor.ID,
		}); err != nil {
			return err
		}
		if err := s.engine.Log(ctx, tx, contractRef(contract.ID), engine.State(contract.Status), engine.State(contract.Status), "amend", actor,
			map[string]interface{}{"from_version": from, "to_version": contract.PolicyVersion, "reason": req.Reason}); err != nil {
			return err
		}
		out = contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Contract policy amended", zap.String("contract_id", contractID), zap.Int("policy_version", out.PolicyVersion))
	return out, nil
}

// CreateVariation 登记工程变更（待审批）
func (s *ContractService) CreateVariation(ctx context.Context, contractID string, req *CreateVariationRequest, actor engine.Actor) (*entity.VariationOrder, error) {
	var out *entity.VariationOrder
	err := s.tx.run(ctx, contractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		contract, err := repos.Contract.FindByID(ctx, contractID)
		if err != nil {
			return err
		}
		if contract.Status != entity.ContractStatusActive {
			return &apperr.StateError{
				EntityType: EntityTypeContract, EntityID: contractID, Current: contract.Status,
				Event: "vary", Precondition: "contract must be active",
			}
		}
		if req.AdditionalQuantity.IsNegative() {
			return apperr.Invalid("additional_quantity", "must not be negative")
		}

		v := &entity.VariationOrder{
			ID:                 newID(),
			ContractID:         contractID,
			Code:               req.Code,
			Description:        req.Description,
			AdditionalQuantity: calc.Round(req.AdditionalQuantity),
			Status:             entity.VariationStatusPending,
			Reason:             req.Reason,
			CreatedBy:          actor.ID,
		}
		if req.RevisedRate != nil {
			if req.RevisedRate.IsNegative() {
				return apperr.Invalid("revised_rate", "must not be negative")
			}
			v.RevisedRate = decimal.NewNullDecimal(calc.Round(*req.RevisedRate))
		}

		var rate decimal.Decimal
		if req.BoqItemID == "" {
			if strings.TrimSpace(req.NewItemNo) == "" || req.RevisedRate == nil {
				return apperr.Invalid("new_item_no", "a new item needs an item number and a rate")
			}
			for _, it := range contract.Items {
				if it.ItemNo == req.NewItemNo {
					return apperr.Invalid("new_item_no", "item %s already exists", req.NewItemNo)
				}
			}
			v.NewItemNo = req.NewItemNo
			v.NewItemUnit = req.NewItemUnit
			rate = v.RevisedRate.Decimal
		} else {
			item := findItem(contract, req.BoqItemID)
			if item == nil {
				return &calc.UnknownItemError{ItemID: req.BoqItemID}
			}
			v.BoqItemID = item.ID
			rate = effectiveRate(contract, *item)
			if v.RevisedRate.Valid {
				rate = v.RevisedRate.Decimal
			}
		}
		v.Amount = calc.Mul(v.AdditionalQuantity, rate)

		if err := repos.Contract.CreateVariation(ctx, v); err != nil {
			return err
		}
		out = v
		return s.engine.Log(ctx, tx, variationRef(v.ID), "", entity.VariationStatusPending, "create", actor,
			map[string]interface{}{"contract_id": contractID, "code": v.Code})
	})
	return out, err
}

// ApproveVariation 批准变更：追加数量提高授权工程量，新单价用于后续计量
func (s *ContractService) ApproveVariation(ctx context.Context, variationID string, actor engine.Actor) (*entity.VariationOrder, error) {
	return s.decideVariation(ctx, variationID, entity.VariationStatusApproved, actor)
}

// RejectVariation 驳回变更
func (s *ContractService) RejectVariation(ctx context.Context, variationID string, actor engine.Actor) (*entity.VariationOrder, error) {
	return s.decideVariation(ctx, variationID, entity.VariationStatusRejected, actor)
}

func (s *ContractService) decideVariation(ctx context.Context, variationID, decision string, actor engine.Actor) (*entity.VariationOrder, error) {
	header, err := repository.NewContractRepository(s.db).FindVariation(ctx, variationID)
	if err != nil {
		return nil, err
	}

	var out *entity.VariationOrder
	err = s.tx.run(ctx, header.ContractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		v, err := repos.Contract.FindVariation(ctx, variationID)
		if err != nil {
			return err
		}
		if v.Status != entity.VariationStatusPending {
			return &apperr.StateError{
				EntityType: "variation_order", EntityID: v.ID, Current: v.Status,
				Event: decision, Precondition: "variation already decided",
			}
		}

		if decision == entity.VariationStatusApproved && v.BoqItemID == "" {
			sort, err := repos.Contract.MaxItemSort(ctx, v.ContractID)
			if err != nil {
				return err
			}
			item := &entity.BoqItem{
				ID:             newID(),
				ContractID:     v.ContractID,
				ItemNo:         v.NewItemNo,
				Description:    v.Description,
				Unit:           v.NewItemUnit,
				ContractRate:   v.RevisedRate.Decimal,
				ContractAmount: decimal.Zero,
				SortOrder:      sort + 1,
				VariationID:    &v.ID,
			}
			if err := repos.Contract.CreateItem(ctx, item); err != nil {
				return err
			}
			v.BoqItemID = item.ID
		}

		now := time.Now()
		v.Status = decision
		v.DecidedBy = actor.ID
		v.DecidedAt = &now
		if err := repos.Contract.UpdateVariation(ctx, v); err != nil {
			return err
		}
		out = v
		return s.engine.Log(ctx, tx, variationRef(v.ID), entity.VariationStatusPending, engine.State(decision), engine.Event(decision), actor, nil)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Variation decided", zap.String("variation_id", variationID), zap.String("decision", decision))
	return out, nil
}

func validatePolicy(p *entity.ContractPolicy) error {
	var errs apperr.Violations
	one := decimal.NewFromInt(1)
	pct := func(field string, v decimal.Decimal) {
		if v.IsNegative() || v.GreaterThan(one) {
			errs = append(errs, apperr.Invalid("policy."+field, "must be between 0 and 1"))
		}
	}
	pct("retention_percentage", p.RetentionPercentage)
	pct("advance_recovery_percentage", p.AdvanceRecoveryPercentage)
	pct("materials_claim_percentage", p.MaterialsClaimPercentage)
	switch p.MaxRetentionMode {
	case calc.MaxRetentionAbsolute:
	case calc.MaxRetentionPercentage:
		pct("max_retention_value", p.MaxRetentionValue)
	default:
		errs = append(errs, apperr.Invalid("policy.max_retention_mode", "must be %s or %s", calc.MaxRetentionAbsolute, calc.MaxRetentionPercentage))
	}
	if p.MaxRetentionValue.IsNegative() {
		errs = append(errs, apperr.Invalid("policy.max_retention_value", "must not be negative"))
	}
	if p.AdvanceAmount.IsNegative() {
		errs = append(errs, apperr.Invalid("policy.advance_amount", "must not be negative"))
	}
	p.AdvanceAmount = calc.Round(p.AdvanceAmount)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func buildPriceElements(contractID string, in []PriceElementInput) []entity.PriceAdjustmentElement {
	out := make([]entity.PriceAdjustmentElement, 0, len(in))
	for i, el := range in {
		out = append(out, entity.PriceAdjustmentElement{
			ID:          newID(),
			ContractID:  contractID,
			ElementType: el.ElementType,
			IndexCode:   el.IndexCode,
			Weight:      el.Weight,
			BaseIndex:   el.BaseIndex,
			SortOrder:   i + 1,
		})
	}
	return out
}

// applyFormulaValidation stores the formula check on the contract. An invalid formula
// is accepted at setup and blocks every later assembly.
func applyFormulaValidation(c *entity.Contract) {
	c.PriceAdjustmentIssues = ""
	if len(c.PriceElements) == 0 {
		c.PriceAdjustmentStatus = entity.PriceAdjustmentDisabled
		return
	}
	if err := calc.ValidateFormula(c.Formula()); err != nil {
		c.PriceAdjustmentStatus = entity.PriceAdjustmentInvalid
		if cfgErr, ok := err.(*calc.PriceAdjustmentConfigError); ok {
			c.PriceAdjustmentIssues = strings.Join(cfgErr.Reasons, "\n")
		} else {
			c.PriceAdjustmentIssues = err.Error()
		}
		return
	}
	c.PriceAdjustmentStatus = entity.PriceAdjustmentValid
}

func parseDate(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, apperr.Invalid(field, "expected YYYY-MM-DD")
	}
	return &t, nil
}

func findItem(c *entity.Contract, id string) *entity.BoqItem {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i]
		}
	}
	return nil
}

func contractRef(id string) engine.EntityRef {
	return engine.EntityRef{Type: EntityTypeContract, ID: id}
}

func variationRef(id string) engine.EntityRef {
	return engine.EntityRef{Type: "variation_order", ID: id}
}
