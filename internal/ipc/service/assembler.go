package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

// AssembleRequest 组装期中支付证书请求
type AssembleRequest struct {
	ContractID  string               `json:"-"`
	Sequence    int                  `json:"sequence" binding:"required,min=1"`
	PeriodStart string               `json:"period_start" binding:"required"`
	PeriodEnd   string               `json:"period_end" binding:"required"`
	Progress    []calc.ItemProgress  `json:"progress" binding:"dive"`
	Materials   []calc.MaterialClaim `json:"materials" binding:"dive"`
	// VATAmount 外部提供的增值税；为空时调用税务服务
	VATAmount *decimal.Decimal `json:"vat_amount"`
	// Supersedes 被本期替代的争议证书
	Supersedes string `json:"supersedes"`
}

// Assembler 证书组装：计量、材料、保留金、预付款扣回、调价、增值税
type Assembler struct {
	engine *engine.Engine
	tx     *contractTx
	ledger *ProgressLedger
	index  IndexSource
	tax    TaxService
	logger *zap.Logger
}

func NewAssembler(eng *engine.Engine, tx *contractTx, ledger *ProgressLedger, index IndexSource, tax TaxService, logger *zap.Logger) *Assembler {
	return &Assembler{engine: eng, tx: tx, ledger: ledger, index: index, tax: tax, logger: logger}
}

// Assemble 组装或重算证书。任一违规时返回汇总的 AssemblyError，且不写入任何数据
func (a *Assembler) Assemble(ctx context.Context, req *AssembleRequest, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	var out *entity.InterimPaymentCertificate
	err := a.tx.run(ctx, req.ContractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		draft, err := a.build(ctx, repos, req, actor)
		if err != nil {
			return err
		}
		if err := a.persist(ctx, tx, repos, draft, actor); err != nil {
			return err
		}
		out = draft.ipc
		return nil
	})
	if err != nil {
		var ae *AssemblyError
		if errors.As(err, &ae) {
			a.logger.Warn("Assembly rejected",
				zap.String("contract_id", req.ContractID),
				zap.Int("sequence", req.Sequence),
				zap.Int("violations", len(ae.Violations)),
			)
		}
		return nil, err
	}

	a.logger.Info("Certificate assembled",
		zap.String("contract_id", out.ContractID),
		zap.String("ipc_id", out.ID),
		zap.Int("sequence", out.Sequence),
		zap.String("gross", out.GrossAmount.String()),
		zap.String("net", out.NetAmount.String()),
	)
	return repository.NewCertificateRepository(a.tx.db).FindByID(ctx, out.ID)
}

// Preview 试算完整证书，不加锁、不写入
func (a *Assembler) Preview(ctx context.Context, req *AssembleRequest, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	draft, err := a.build(ctx, repository.NewRepositories(a.tx.db.WithContext(ctx)), req, actor)
	if err != nil {
		return nil, err
	}
	return draft.ipc, nil
}

type assembly struct {
	ipc        *entity.InterimPaymentCertificate
	recompute  bool
	superseded *entity.InterimPaymentCertificate
}

func (a *Assembler) build(ctx context.Context, repos *repository.Repositories, req *AssembleRequest, actor engine.Actor) (*assembly, error) {
	contract, err := repos.Contract.FindByID(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}
	if contract.Status != entity.ContractStatusActive {
		return nil, &apperr.StateError{
			EntityType: EntityTypeContract, EntityID: contract.ID, Current: contract.Status,
			Event: "assemble", Precondition: "contract is no longer active",
		}
	}

	var violations []error
	start, err := time.Parse("2006-01-02", req.PeriodStart)
	if err != nil {
		violations = append(violations, apperr.Invalid("period_start", "expected YYYY-MM-DD"))
	}
	end, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		violations = append(violations, apperr.Invalid("period_end", "expected YYYY-MM-DD"))
	} else if end.Before(start) {
		violations = append(violations, apperr.Invalid("period_end", "must not precede period_start"))
	}

	// 期号：等于当前最大期号为重算，否则必须连续
	out := &assembly{}
	maxSeq, err := repos.Certificate.MaxSequence(ctx, contract.ID)
	if err != nil {
		return nil, err
	}
	if req.Sequence <= maxSeq {
		existing, err := repos.Certificate.FindBySequence(ctx, contract.ID, req.Sequence)
		if err != nil {
			return nil, err
		}
		if err := a.requireRecomputable(existing, maxSeq); err != nil {
			return nil, err
		}
		out.ipc = existing
		out.recompute = true
	} else if err := calc.CheckSequence(contract.ID, maxSeq, req.Sequence); err != nil {
		violations = append(violations, err)
	}

	pred, err := repos.Certificate.Predecessor(ctx, contract.ID, req.Sequence)
	if err != nil {
		return nil, err
	}
	pred, out.superseded, err = a.resolvePredecessor(ctx, repos, contract.ID, pred, req, out.ipc, &violations)
	if err != nil {
		return nil, err
	}
	if pred != nil && !start.IsZero() && start.Before(pred.PeriodEnd) {
		violations = append(violations, apperr.Invalid("period_start",
			"must not precede the end of %s (%s)", pred.Code, pred.PeriodEnd.Format("2006-01-02")))
	}

	// 计量与材料
	lines, errs := a.ledger.Measure(contract, pred, req.Progress)
	violations = append(violations, errs...)
	var prior []calc.PriorMaterial
	if pred != nil {
		for _, m := range pred.Materials {
			prior = append(prior, calc.PriorMaterial{
				MaterialCode:   m.MaterialCode,
				Description:    m.Description,
				Quantity:       m.Quantity,
				UnitRate:       m.UnitRate,
				ClaimedValue:   m.ClaimedValue,
				IsIncorporated: m.IsIncorporated,
			})
		}
	}
	materials, errs := calc.ValueMaterials(contract.MaterialsClaimPercentage, prior, req.Materials)
	violations = append(violations, errs...)

	workValue := calc.WorkValue(lines)
	materialsValue := calc.MaterialsValue(materials)
	gross := workValue.Add(materialsValue)

	// 扣款：每期都写保留金与预付款行，费率为零时累计值原样结转
	retentionIn := calc.RetentionInput{
		GrossWorkValue: gross,
		Percentage:     contract.RetentionPercentage,
		MaxRetention:   contract.MaxRetention(),
	}
	if pred != nil && pred.Retention != nil {
		retentionIn.PreviousCumulative = pred.Retention.CumulativeRetention
		retentionIn.PreviousMaxReached = pred.Retention.MaxReached
	}
	retention := calc.RetentionResult{
		Raw:        decimal.Zero,
		Current:    decimal.Zero,
		Cumulative: retentionIn.PreviousCumulative,
		MaxReached: retentionIn.PreviousMaxReached,
	}
	if contract.RetentionPercentage.IsPositive() {
		retention = calc.ComputeRetention(retentionIn)
	}

	advanceIn := calc.AdvanceInput{
		AdvanceAmount:      contract.AdvanceAmount,
		RecoveryPercentage: contract.AdvanceRecoveryPercentage,
		GrossWorkValue:     gross,
	}
	if pred != nil && pred.Advance != nil {
		advanceIn.PreviousRecovered = pred.Advance.CumulativeRecovered
	}
	advance := calc.ComputeAdvanceRecovery(advanceIn)

	// 调价
	var adjustment *calc.PriceAdjustmentResult
	switch contract.PriceAdjustmentStatus {
	case entity.PriceAdjustmentInvalid:
		violations = append(violations, &calc.PriceAdjustmentConfigError{Reasons: strings.Split(contract.PriceAdjustmentIssues, "\n")})
	case entity.PriceAdjustmentValid:
		if !end.IsZero() {
			res, errs := a.priceAdjustment(ctx, contract, workValue, end)
			violations = append(violations, errs...)
			adjustment = res
		}
	}
	paAmount := decimal.Zero
	if adjustment != nil {
		paAmount = adjustment.Amount
	}

	// 增值税
	taxable := gross.Sub(retention.Current).Sub(advance.Current).Add(paAmount)
	vat, err := a.vat(ctx, contract, taxable, req.VATAmount)
	if err != nil {
		violations = append(violations, err)
	}

	if len(violations) > 0 {
		return nil, &AssemblyError{ContractID: contract.ID, Sequence: req.Sequence, Violations: violations}
	}

	ipc := out.ipc
	if ipc == nil {
		ipc = &entity.InterimPaymentCertificate{
			ID:         newID(),
			ContractID: contract.ID,
			Sequence:   req.Sequence,
			Code:       fmt.Sprintf("IPC-%s-%03d", contract.Code, req.Sequence),
			Status:     entity.IPCStatusDraft,
		}
		out.ipc = ipc
	}
	now := time.Now()
	ipc.PeriodStart = start
	ipc.PeriodEnd = end
	ipc.BoqWorkAmount = workValue
	ipc.MaterialsAmount = materialsValue
	ipc.GrossAmount = gross
	ipc.RetentionAmount = retention.Current
	ipc.AdvanceRecoveryAmount = advance.Current
	ipc.PriceAdjustmentAmount = paAmount
	ipc.VATAmount = vat
	ipc.NetAmount = taxable.Sub(vat)
	ipc.PreviousCertified = decimal.Zero
	if pred != nil {
		ipc.PreviousCertified = pred.CurrentCertified
	}
	ipc.CurrentCertified = ipc.PreviousCertified.Add(gross)
	ipc.PolicyVersion = contract.PolicyVersion
	ipc.ValidatedAt = &now
	ipc.PreparedBy = actor.ID

	ipc.Lines = toProgressLines(contract, ipc.ID, lines)
	ipc.Materials = toMaterialRows(contract.ID, ipc.ID, materials)
	ipc.Retention = &entity.RetentionDeduction{
		ID:                  newID(),
		CertificateID:       ipc.ID,
		ContractID:          contract.ID,
		GrossWorkValue:      gross,
		RetentionPercentage: contract.RetentionPercentage,
		RawAmount:           retention.Raw,
		MaxRetention:        retentionIn.MaxRetention,
		PreviousCumulative:  retentionIn.PreviousCumulative,
		CurrentRetention:    retention.Current,
		CumulativeRetention: retention.Cumulative,
		MaxReached:          retention.MaxReached,
	}
	ipc.Advance = &entity.AdvanceRecovery{
		ID:                  newID(),
		CertificateID:       ipc.ID,
		ContractID:          contract.ID,
		AdvanceAmount:       contract.AdvanceAmount,
		RecoveryPercentage:  contract.AdvanceRecoveryPercentage,
		GrossWorkValue:      gross,
		RawAmount:           advance.Raw,
		PreviousRecovered:   advanceIn.PreviousRecovered,
		CurrentRecovery:     advance.Current,
		CumulativeRecovered: advance.CumulativeRecovered,
		BalanceRemaining:    advance.BalanceRemaining,
		FullyRecovered:      advance.FullyRecovered,
	}
	ipc.PriceAdjustment = nil
	if adjustment != nil {
		raw, err := json.Marshal(adjustment.Readings)
		if err != nil {
			return nil, err
		}
		ipc.PriceAdjustment = &entity.PriceAdjustmentCalculation{
			ID:               newID(),
			CertificateID:    ipc.ID,
			ContractID:       contract.ID,
			WorkValue:        adjustment.WorkValue,
			IndexDate:        adjustment.IndexDate,
			AdjustmentFactor: adjustment.Factor,
			AdjustmentAmount: adjustment.Amount,
			Elements:         datatypes.JSON(raw),
		}
	}
	return out, nil
}

// requireRecomputable allows recomputing only the latest certificate while it is mutable.
func (a *Assembler) requireRecomputable(existing *entity.InterimPaymentCertificate, maxSeq int) error {
	stateErr := func(precondition string) error {
		return &apperr.StateError{
			EntityType: entity.EntityTypeInterimPayment, EntityID: existing.ID, Current: existing.Status,
			Event: "recompute", Precondition: precondition,
		}
	}
	if existing.Sequence < maxSeq {
		return stateErr(fmt.Sprintf("certificate %d already exists and is not the latest", existing.Sequence))
	}
	if existing.DisputeResolution != "" {
		return stateErr("dispute already resolved as " + existing.DisputeResolution)
	}
	return a.engine.RequireMutable(existing.Ref(), existing, "recompute")
}

// resolvePredecessor checks the predecessor is closed. An unresolved disputed
// predecessor may be superseded explicitly; the chain then continues from the
// certificate before it.
func (a *Assembler) resolvePredecessor(ctx context.Context, repos *repository.Repositories, contractID string, pred *entity.InterimPaymentCertificate, req *AssembleRequest, existing *entity.InterimPaymentCertificate, violations *[]error) (chain, superseded *entity.InterimPaymentCertificate, err error) {
	if pred == nil || pred.IsClosed() {
		if req.Supersedes != "" && !alreadySupersededBy(ctx, repos, req.Supersedes, existing) {
			*violations = append(*violations, apperr.Invalid("supersedes", "%s is not the open disputed predecessor", req.Supersedes))
		}
		return pred, nil, nil
	}

	disputedOpen := pred.Status == entity.IPCStatusDisputed && pred.DisputeResolution == ""
	if disputedOpen && req.Supersedes == pred.ID {
		chain, err := repos.Certificate.Predecessor(ctx, contractID, pred.Sequence)
		if err != nil {
			return nil, nil, err
		}
		if chain != nil && !chain.IsClosed() {
			*violations = append(*violations, &PredecessorOpenError{Code: chain.Code, Status: chain.Status})
		}
		return chain, pred, nil
	}

	open := &PredecessorOpenError{Code: pred.Code, Status: pred.Status}
	if disputedOpen {
		open.Hint = "resolve the dispute or supersede " + pred.ID
	}
	*violations = append(*violations, open)
	return pred, nil, nil
}

func alreadySupersededBy(ctx context.Context, repos *repository.Repositories, id string, existing *entity.InterimPaymentCertificate) bool {
	if existing == nil {
		return false
	}
	old, err := repos.Certificate.FindHeader(ctx, id)
	if err != nil {
		return false
	}
	return old.SupersededByID != nil && *old.SupersededByID == existing.ID
}

func (a *Assembler) priceAdjustment(ctx context.Context, contract *entity.Contract, workValue decimal.Decimal, date time.Time) (*calc.PriceAdjustmentResult, []error) {
	formula := contract.Formula()
	if a.index == nil {
		return nil, []error{&apperr.DependencyError{Source: "index source", Cause: errors.New("not configured")}}
	}

	var errs []error
	readings := make(map[string]decimal.Decimal)
	for _, code := range calc.IndexCodes(formula) {
		v, found, err := a.index.Reading(ctx, code, date)
		switch {
		case err != nil:
			errs = append(errs, &IndexSourceError{IndexCode: code, Cause: err})
		case !found:
			errs = append(errs, &calc.MissingIndexError{IndexCode: code, Date: date})
		default:
			readings[code] = v
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	res, err := calc.ComputePriceAdjustment(workValue, date, formula, readings)
	if err != nil {
		return nil, []error{err}
	}
	return &res, nil
}

func (a *Assembler) vat(ctx context.Context, contract *entity.Contract, taxable decimal.Decimal, supplied *decimal.Decimal) (decimal.Decimal, error) {
	if supplied != nil {
		if supplied.IsNegative() {
			return decimal.Zero, apperr.Invalid("vat_amount", "must not be negative")
		}
		return calc.Round(*supplied), nil
	}
	if a.tax == nil {
		return decimal.Zero, &MissingVATError{Jurisdiction: contract.VATJurisdiction}
	}
	v, err := a.tax.VAT(ctx, taxable, contract.VATJurisdiction)
	if err != nil {
		return decimal.Zero, &MissingVATError{Jurisdiction: contract.VATJurisdiction, Cause: err}
	}
	return calc.Round(v), nil
}

func (a *Assembler) persist(ctx context.Context, tx *gorm.DB, repos *repository.Repositories, draft *assembly, actor engine.Actor) error {
	ipc := draft.ipc
	data := map[string]interface{}{
		"sequence": ipc.Sequence,
		"gross":    ipc.GrossAmount.String(),
		"net":      ipc.NetAmount.String(),
	}
	if draft.recompute {
		if err := repos.Certificate.ReplaceChildren(ctx, ipc); err != nil {
			return err
		}
		if err := repos.Certificate.UpdateHeader(ctx, ipc); err != nil {
			return err
		}
		if err := a.engine.Log(ctx, tx, ipc.Ref(), ipc.CurrentState(), ipc.CurrentState(), "recompute", actor, data); err != nil {
			return err
		}
	} else {
		if err := repos.Certificate.Create(ctx, ipc); err != nil {
			return err
		}
		if err := a.engine.Log(ctx, tx, ipc.Ref(), "", ipc.CurrentState(), "assemble", actor, data); err != nil {
			return err
		}
	}

	if old := draft.superseded; old != nil {
		now := time.Now()
		old.DisputeResolution = entity.DisputeSuperseded
		old.DisputeResolvedAt = &now
		old.SupersededByID = &ipc.ID
		if err := repos.Certificate.UpdateHeader(ctx, old); err != nil {
			return err
		}
		if err := a.engine.Log(ctx, tx, old.Ref(), old.CurrentState(), old.CurrentState(), "supersede", actor,
			map[string]interface{}{"superseded_by": ipc.ID}); err != nil {
			return err
		}
	}
	return nil
}

func toMaterialRows(contractID, certificateID string, vals []calc.MaterialValuation) []entity.MaterialOnSiteValuation {
	out := make([]entity.MaterialOnSiteValuation, 0, len(vals))
	for _, v := range vals {
		out = append(out, entity.MaterialOnSiteValuation{
			ID:                   newID(),
			CertificateID:        certificateID,
			ContractID:           contractID,
			MaterialCode:         v.MaterialCode,
			Description:          v.Description,
			Quantity:             v.Quantity,
			UnitRate:             v.UnitRate,
			DeliveredValue:       v.DeliveredValue,
			ClaimPercentage:      v.ClaimPercentage,
			ClaimedValue:         v.ClaimedValue,
			PreviousClaimedValue: v.PreviousClaimedValue,
			CurrentAmount:        v.CurrentAmount,
			IsIncorporated:       v.IsIncorporated,
			Eligible:             v.Eligible,
		})
	}
	return out
}
