package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 最终结算事件
const EventFinalize engine.Event = "finalize"

// AdjustmentInput 奖励/罚款。Amount 与 Formula 二选一
type AdjustmentInput struct {
	Type        string           `json:"type" binding:"required,oneof=bonus penalty"`
	Reference   string           `json:"reference"`
	Description string           `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Formula     string           `json:"formula"`
}

// CloseFinalAccountRequest 最终结算请求
type CloseFinalAccountRequest struct {
	// RetentionReleasePercentage 释放的保留金比例，默认全部释放
	RetentionReleasePercentage *decimal.Decimal   `json:"retention_release_percentage"`
	Adjustments                []AdjustmentInput  `json:"adjustments" binding:"dive"`
	Parameters                 map[string]float64 `json:"parameters"`
}

// VerificationReport 最终结算从头重算的核对结果
type VerificationReport struct {
	ContractID            string          `json:"contract_id"`
	StoredAmountDue       decimal.Decimal `json:"stored_amount_due"`
	RecomputedAmountDue   decimal.Decimal `json:"recomputed_amount_due"`
	Matches               bool            `json:"matches"`
	CertificateMismatches []string        `json:"certificate_mismatches,omitempty"`
	ConservationWarnings  []string        `json:"conservation_warnings,omitempty"`
}

// FinalAccountView 最终结算及审批记录
type FinalAccountView struct {
	*entity.FinalAccount
	Approvals []engine.CertificateApproval `json:"approvals"`
}

// FinalAccountService 合同最终结算
type FinalAccountService struct {
	db     *gorm.DB
	engine *engine.Engine
	tx     *contractTx
	logger *zap.Logger
}

func NewFinalAccountService(db *gorm.DB, eng *engine.Engine, tx *contractTx, logger *zap.Logger) *FinalAccountService {
	return &FinalAccountService{db: db, engine: eng, tx: tx, logger: logger}
}

// Machine 最终结算状态机：审批通过后定稿，定稿后不可变
func (s *FinalAccountService) Machine(levels []engine.ApprovalLevel) *engine.Machine {
	draft := engine.State(entity.FinalAccountStatusDraft)
	final := engine.State(entity.FinalAccountStatusFinal)
	return engine.NewMachine(entity.EntityTypeFinalAccount, draft, levels).
		On(EventFinalize, []engine.State{draft}, final, func(ctx context.Context, tx *gorm.DB, ref engine.EntityRef, e engine.Stateful) error {
			fa := e.(*entity.FinalAccount)
			return s.engine.RequireApproved(ctx, tx, ref, e.CurrentState(), EventFinalize, fa.ApprovalRound)
		}).
		AllowMutation(draft)
}

// Get 合同的最终结算
func (s *FinalAccountService) Get(ctx context.Context, contractID string) (*FinalAccountView, error) {
	fa, err := repository.NewFinalAccountRepository(s.db).FindByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.engine.Approvals(ctx, s.db, fa.Ref(), fa.ApprovalRound)
	if err != nil {
		return nil, err
	}
	return &FinalAccountView{FinalAccount: fa, Approvals: approvals}, nil
}

// Close 生成（或在草稿状态下重算）最终结算并开启审批
func (s *FinalAccountService) Close(ctx context.Context, contractID string, req *CloseFinalAccountRequest, actor engine.Actor) (*FinalAccountView, error) {
	pct := decimal.NewFromInt(1)
	if req.RetentionReleasePercentage != nil {
		pct = *req.RetentionReleasePercentage
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(1)) {
			return nil, apperr.Invalid("retention_release_percentage", "must be between 0 and 1")
		}
	}

	err := s.tx.run(ctx, contractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		contract, err := repos.Contract.FindByID(ctx, contractID)
		if err != nil {
			return err
		}
		fa, err := repos.FinalAccount.FindByContract(ctx, contractID)
		if err != nil && !isNotFound(err) {
			return err
		}
		if fa != nil {
			if err := s.engine.RequireMutable(fa.Ref(), fa, "close"); err != nil {
				return err
			}
		} else if contract.Status == entity.ContractStatusClosed {
			return &apperr.StateError{
				EntityType: EntityTypeContract, EntityID: contractID, Current: contract.Status,
				Event: "close", Precondition: "contract is already closed",
			}
		}

		certs, err := repos.Certificate.ListByContract(ctx, contractID, false)
		if err != nil {
			return err
		}
		var open []string
		var counted []entity.InterimPaymentCertificate
		for _, c := range certs {
			if !c.IsTerminal() {
				open = append(open, fmt.Sprintf("%s (%s)", c.Code, c.Status))
				continue
			}
			if c.CountsTowardFinal() {
				counted = append(counted, c)
			}
		}
		if len(open) > 0 {
			return &OpenCertificateError{ContractID: contractID, Open: open}
		}
		if len(counted) == 0 {
			return apperr.Invalid("certificates", "contract %s has no settled certificates", contract.Code)
		}

		if fa == nil {
			fa = &entity.FinalAccount{ID: newID(), ContractID: contractID, Status: entity.FinalAccountStatusDraft}
		}
		payments, err := repos.Payment.ListByContract(ctx, contractID)
		if err != nil {
			return err
		}
		if err := s.fold(fa, contract, counted, payments, pct, req); err != nil {
			return err
		}
		fa.ClosedBy = actor.ID
		fa.ClosedAt = time.Now()

		if fa.ApprovalRound > 0 {
			if err := s.engine.CloseRound(ctx, tx, fa.Ref(), fa.ApprovalRound); err != nil {
				return err
			}
		}
		fa.ApprovalRound++
		if err := repos.FinalAccount.Save(ctx, fa); err != nil {
			return err
		}
		if _, err := s.engine.OpenRound(ctx, tx, fa.Ref(), fa.ApprovalRound); err != nil {
			return err
		}

		contract.Status = entity.ContractStatusCompleted
		if err := repos.Contract.Update(ctx, contract); err != nil {
			return err
		}
		return s.engine.Log(ctx, tx, fa.Ref(), fa.CurrentState(), fa.CurrentState(), "close", actor, map[string]interface{}{
			"round":            fa.ApprovalRound,
			"final_amount_due": fa.FinalAmountDue.String(),
			"certificates":     fa.CertificateCount,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Final account closed", zap.String("contract_id", contractID))
	return s.Get(ctx, contractID)
}

// fold totals the counted certificates from their header amounts.
func (s *FinalAccountService) fold(fa *entity.FinalAccount, contract *entity.Contract, counted []entity.InterimPaymentCertificate, payments []entity.PaymentStatus, pct decimal.Decimal, req *CloseFinalAccountRequest) error {
	fa.CertificateCount = len(counted)
	fa.TotalGross, fa.TotalNet, fa.TotalPriceAdjustment = decimal.Zero, decimal.Zero, decimal.Zero
	fa.TotalAdvanceRecovered, fa.TotalVAT, fa.RetentionHeld = decimal.Zero, decimal.Zero, decimal.Zero
	fa.Items = nil

	countedIDs := make(map[string]bool, len(counted))
	sortOrder := 0
	addItem := func(kind, ref, desc, formula string, amount decimal.Decimal) {
		sortOrder++
		fa.Items = append(fa.Items, entity.FinalAccountItem{
			ID:             newID(),
			FinalAccountID: fa.ID,
			ItemType:       kind,
			Reference:      ref,
			Description:    desc,
			Formula:        formula,
			Amount:         amount,
			SortOrder:      sortOrder,
		})
	}

	for _, c := range counted {
		countedIDs[c.ID] = true
		fa.TotalGross = fa.TotalGross.Add(c.GrossAmount)
		fa.TotalNet = fa.TotalNet.Add(c.NetAmount)
		fa.TotalPriceAdjustment = fa.TotalPriceAdjustment.Add(c.PriceAdjustmentAmount)
		fa.TotalAdvanceRecovered = fa.TotalAdvanceRecovered.Add(c.AdvanceRecoveryAmount)
		fa.TotalVAT = fa.TotalVAT.Add(c.VATAmount)
		fa.RetentionHeld = fa.RetentionHeld.Add(c.RetentionAmount)
		addItem(entity.FinalItemCertificate, c.Code, fmt.Sprintf("Certificate %d (%s)", c.Sequence, c.Status), "", c.NetAmount)
	}

	fa.ApprovedVariations = decimal.Zero
	for _, v := range contract.Variations {
		if v.Status != entity.VariationStatusApproved {
			continue
		}
		fa.ApprovedVariations = fa.ApprovedVariations.Add(v.Amount)
		addItem(entity.FinalItemVariation, v.Code, v.Description, "", v.Amount)
	}

	fa.RetentionReleased = calc.Mul(fa.RetentionHeld, pct)
	addItem(entity.FinalItemRetentionRelease, "", fmt.Sprintf("Release %s of retention held", pct.String()), "", fa.RetentionReleased)

	params, err := closeoutParameters(fa, contract, req.Parameters)
	if err != nil {
		return err
	}
	fa.Bonuses, fa.Penalties = decimal.Zero, decimal.Zero
	var violations apperr.Violations
	for i, adj := range req.Adjustments {
		amount, err := adjustmentAmount(i, adj, params)
		if err != nil {
			violations = append(violations, err)
			continue
		}
		if adj.Type == entity.FinalItemBonus {
			fa.Bonuses = fa.Bonuses.Add(amount)
		} else {
			fa.Penalties = fa.Penalties.Add(amount)
		}
		addItem(adj.Type, adj.Reference, adj.Description, adj.Formula, amount)
	}
	if len(violations) > 0 {
		return violations
	}

	fa.FinalAmountDue = FinalAmountDue(fa.TotalNet, fa.RetentionHeld, fa.RetentionReleased, fa.Bonuses, fa.Penalties)
	fa.AmountPaid = decimal.Zero
	for _, p := range payments {
		if p.PayableType == entity.EntityTypeInterimPayment && countedIDs[p.PayableID] {
			fa.AmountPaid = fa.AmountPaid.Add(p.AmountPaid)
		}
	}
	fa.BalanceDue = fa.FinalAmountDue.Sub(fa.AmountPaid)
	return nil
}

// FinalAmountDue = Σ net + retention released − retention still held + bonuses − penalties.
func FinalAmountDue(totalNet, held, released, bonuses, penalties decimal.Decimal) decimal.Decimal {
	outstanding := held.Sub(released)
	return totalNet.Add(released).Sub(outstanding).Add(bonuses).Sub(penalties)
}

func closeoutParameters(fa *entity.FinalAccount, contract *entity.Contract, custom map[string]float64) (map[string]interface{}, error) {
	params := map[string]interface{}{
		"contract_value":      contract.ContractValue.InexactFloat64(),
		"total_gross":         fa.TotalGross.InexactFloat64(),
		"total_net":           fa.TotalNet.InexactFloat64(),
		"retention_held":      fa.RetentionHeld.InexactFloat64(),
		"retention_released":  fa.RetentionReleased.InexactFloat64(),
		"approved_variations": fa.ApprovedVariations.InexactFloat64(),
		"certificate_count":   float64(fa.CertificateCount),
	}
	for k, v := range custom {
		if _, builtin := params[k]; builtin {
			return nil, apperr.Invalid("parameters."+k, "overrides a built-in closeout parameter")
		}
		params[k] = v
	}
	return params, nil
}

// adjustmentAmount evaluates an adjustment: a fixed amount or a formula over the closeout parameters.
func adjustmentAmount(i int, adj AdjustmentInput, params map[string]interface{}) (decimal.Decimal, error) {
	field := fmt.Sprintf("adjustments[%d]", i)
	if adj.Type != entity.FinalItemBonus && adj.Type != entity.FinalItemPenalty {
		return decimal.Zero, apperr.Invalid(field+".type", "must be bonus or penalty")
	}
	if (adj.Amount == nil) == (adj.Formula == "") {
		return decimal.Zero, apperr.Invalid(field, "give either amount or formula")
	}

	var amount decimal.Decimal
	if adj.Amount != nil {
		amount = calc.Round(*adj.Amount)
	} else {
		expr, err := govaluate.NewEvaluableExpression(adj.Formula)
		if err != nil {
			return decimal.Zero, apperr.Invalid(field+".formula", "%v", err)
		}
		result, err := expr.Evaluate(params)
		if err != nil {
			return decimal.Zero, apperr.Invalid(field+".formula", "%v", err)
		}
		f, ok := result.(float64)
		if !ok {
			return decimal.Zero, apperr.Invalid(field+".formula", "must evaluate to a number, got %T", result)
		}
		amount = calc.Round(decimal.NewFromFloat(f))
	}
	if amount.IsNegative() {
		return decimal.Zero, apperr.Invalid(field, "amount must not be negative")
	}
	return amount, nil
}

// RecordDecision 记录最终结算审批决定；驳回时关闭本轮，需重新 Close
func (s *FinalAccountService) RecordDecision(ctx context.Context, contractID string, req *DecisionRequest, actor engine.Actor) (*FinalAccountView, error) {
	err := s.tx.run(ctx, contractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		fa, err := repos.FinalAccount.FindByContract(ctx, contractID)
		if err != nil {
			return err
		}
		if err := s.engine.RequireMutable(fa.Ref(), fa, "decide"); err != nil {
			return err
		}
		approval, err := s.engine.Decide(ctx, tx, fa.Ref(), fa.CurrentState(), fa.ApprovalRound, req.Level, req.Decision, actor, req.Comment)
		if err != nil {
			return err
		}
		event := engine.Event("approve")
		if req.Decision == engine.DecisionRejected {
			event = "reject_level"
		}
		if err := s.engine.Log(ctx, tx, fa.Ref(), fa.CurrentState(), fa.CurrentState(), event, actor, map[string]interface{}{
			"round": fa.ApprovalRound, "level": approval.ApprovalLevel, "comment": req.Comment,
		}); err != nil {
			return err
		}
		if req.Decision == engine.DecisionRejected {
			return s.engine.CloseRound(ctx, tx, fa.Ref(), fa.ApprovalRound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, contractID)
}

// Finalize 全部审批通过后定稿并关闭合同
func (s *FinalAccountService) Finalize(ctx context.Context, contractID string, actor engine.Actor) (*FinalAccountView, error) {
	err := s.tx.run(ctx, contractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		fa, err := repos.FinalAccount.FindByContract(ctx, contractID)
		if err != nil {
			return err
		}
		res, err := s.engine.Fire(ctx, tx, fa.Ref(), EventFinalize, actor, map[string]interface{}{"round": fa.ApprovalRound})
		if err != nil {
			return err
		}
		fa = res.Entity.(*entity.FinalAccount)
		now := time.Now()
		fa.FinalizedBy = actor.ID
		fa.FinalizedAt = &now
		if err := repos.FinalAccount.UpdateHeader(ctx, fa); err != nil {
			return err
		}

		contract, err := repos.Contract.FindByID(ctx, contractID)
		if err != nil {
			return err
		}
		from := contract.Status
		contract.Status = entity.ContractStatusClosed
		if err := repos.Contract.Update(ctx, contract); err != nil {
			return err
		}
		return s.engine.Log(ctx, tx, contractRef(contractID), engine.State(from), entity.ContractStatusClosed, "close", actor, nil)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Final account finalized", zap.String("contract_id", contractID))
	return s.Get(ctx, contractID)
}

// Verify 从证书明细从头重算最终结算金额并与累计值比对（只读、不加锁）
func (s *FinalAccountService) Verify(ctx context.Context, contractID string) (*VerificationReport, error) {
	repos := repository.NewRepositories(s.db)
	fa, err := repos.FinalAccount.FindByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	certs, err := repos.Certificate.ListByContract(ctx, contractID, true)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{ContractID: contractID, StoredAmountDue: fa.FinalAmountDue}
	totalNet, held := decimal.Zero, decimal.Zero
	type position struct {
		itemNo  string
		summed  decimal.Decimal
		lastQty decimal.Decimal
		rate    decimal.Decimal
	}
	items := make(map[string]*position)
	var order []string

	for _, c := range certs {
		if !c.CountsTowardFinal() {
			continue
		}
		net, retention := recomputeNet(&c)
		if !net.Equal(c.NetAmount) {
			report.CertificateMismatches = append(report.CertificateMismatches,
				fmt.Sprintf("%s: stored net %s, recomputed %s", c.Code, c.NetAmount.StringFixed(3), net.StringFixed(3)))
		}
		totalNet = totalNet.Add(net)
		held = held.Add(retention)

		for _, line := range c.Lines {
			p, ok := items[line.BoqItemID]
			if !ok {
				p = &position{itemNo: line.ItemNo}
				items[line.BoqItemID] = p
				order = append(order, line.BoqItemID)
			}
			p.summed = p.summed.Add(line.CurrentAmount)
			p.lastQty = line.CumulativeQty
			p.rate = line.Rate
		}
	}

	bonuses, penalties := decimal.Zero, decimal.Zero
	for _, it := range fa.Items {
		switch it.ItemType {
		case entity.FinalItemBonus:
			bonuses = bonuses.Add(it.Amount)
		case entity.FinalItemPenalty:
			penalties = penalties.Add(it.Amount)
		}
	}
	report.RecomputedAmountDue = FinalAmountDue(totalNet, held, fa.RetentionReleased, bonuses, penalties)
	report.Matches = report.RecomputedAmountDue.StringFixed(calc.Scale) == fa.FinalAmountDue.StringFixed(calc.Scale) &&
		len(report.CertificateMismatches) == 0

	sort.Strings(order)
	one := decimal.NewFromInt(1)
	for _, id := range order {
		p := items[id]
		expected := calc.Mul(p.lastQty, p.rate)
		if p.summed.Sub(expected).Abs().GreaterThan(one) {
			report.ConservationWarnings = append(report.ConservationWarnings,
				fmt.Sprintf("item %s: certified %s, cumulative quantity at rate gives %s",
					p.itemNo, p.summed.StringFixed(3), expected.StringFixed(3)))
		}
	}
	return report, nil
}

// recomputeNet rebuilds a certificate's net amount from its child rows.
func recomputeNet(c *entity.InterimPaymentCertificate) (net, retention decimal.Decimal) {
	gross := decimal.Zero
	for _, l := range c.Lines {
		gross = gross.Add(l.CurrentAmount)
	}
	for _, m := range c.Materials {
		gross = gross.Add(m.CurrentAmount)
	}
	advance, adjustment := decimal.Zero, decimal.Zero
	if c.Retention != nil {
		retention = c.Retention.CurrentRetention
	}
	if c.Advance != nil {
		advance = c.Advance.CurrentRecovery
	}
	if c.PriceAdjustment != nil {
		adjustment = c.PriceAdjustment.AdjustmentAmount
	}
	return gross.Sub(retention).Sub(advance).Add(adjustment).Sub(c.VATAmount), retention
}
