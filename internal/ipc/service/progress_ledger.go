package service

import (
	"context"
	"sort"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProgressLedger 清单计量台账：授权工程量、单价与上期累计
type ProgressLedger struct {
	db     *gorm.DB
	engine *engine.Engine
}

func NewProgressLedger(db *gorm.DB, eng *engine.Engine) *ProgressLedger {
	return &ProgressLedger{db: db, engine: eng}
}

// ProgressPreview 计量试算结果
type ProgressPreview struct {
	ContractID string                   `json:"contract_id"`
	Sequence   int                      `json:"sequence"`
	Lines      []entity.BoqProgressLine `json:"lines"`
	WorkValue  decimal.Decimal          `json:"work_value"`
}

// ItemLedgerEntry 单个清单项在一期证书中的计量
type ItemLedgerEntry struct {
	CertificateID    string          `json:"certificate_id"`
	Sequence         int             `json:"sequence"`
	Status           string          `json:"status"`
	CurrentQty       decimal.Decimal `json:"current_qty"`
	CumulativeQty    decimal.Decimal `json:"cumulative_qty"`
	Rate             decimal.Decimal `json:"rate"`
	CurrentAmount    decimal.Decimal `json:"current_amount"`
	CumulativeAmount decimal.Decimal `json:"cumulative_amount"`
}

// Preview 按期号试算计量，不写入。违规时返回 AssemblyError
func (l *ProgressLedger) Preview(ctx context.Context, contractID string, sequence int, progress []calc.ItemProgress) (*ProgressPreview, error) {
	repos := repository.NewRepositories(l.db)
	contract, err := repos.Contract.FindByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	var violations []error
	maxSeq, err := repos.Certificate.MaxSequence(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if sequence != maxSeq {
		if err := calc.CheckSequence(contractID, maxSeq, sequence); err != nil {
			violations = append(violations, err)
		}
	}
	pred, err := repos.Certificate.Predecessor(ctx, contractID, sequence)
	if err != nil {
		return nil, err
	}

	lines, errs := l.Measure(contract, pred, progress)
	violations = append(violations, errs...)
	if len(violations) > 0 {
		return nil, &AssemblyError{ContractID: contractID, Sequence: sequence, Violations: violations}
	}
	return &ProgressPreview{
		ContractID: contractID,
		Sequence:   sequence,
		Lines:      toProgressLines(contract, "", lines),
		WorkValue:  calc.WorkValue(lines),
	}, nil
}

// ItemHistory 清单项在各期链上证书中的计量记录
func (l *ProgressLedger) ItemHistory(ctx context.Context, contractID, itemID string) ([]ItemLedgerEntry, error) {
	repos := repository.NewRepositories(l.db)
	contract, err := repos.Contract.FindByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if findItem(contract, itemID) == nil {
		return nil, &calc.UnknownItemError{ItemID: itemID}
	}
	certs, err := repos.Certificate.ListByContract(ctx, contractID, true)
	if err != nil {
		return nil, err
	}

	var out []ItemLedgerEntry
	for _, c := range certs {
		if !c.InChain() {
			continue
		}
		for _, line := range c.Lines {
			if line.BoqItemID != itemID {
				continue
			}
			out = append(out, ItemLedgerEntry{
				CertificateID:    c.ID,
				Sequence:         c.Sequence,
				Status:           c.Status,
				CurrentQty:       line.CurrentQty,
				CumulativeQty:    line.CumulativeQty,
				Rate:             line.Rate,
				CurrentAmount:    line.CurrentAmount,
				CumulativeAmount: line.CumulativeAmount,
			})
		}
	}
	return out, nil
}

// Measure folds progress into the contract items, starting from pred's lines.
func (l *ProgressLedger) Measure(contract *entity.Contract, pred *entity.InterimPaymentCertificate, progress []calc.ItemProgress) ([]calc.ProgressLine, []error) {
	return calc.ApplyProgress(ItemStates(contract, pred), progress)
}

// ItemStates is the authorized position of every contract item entering the next certificate.
func ItemStates(contract *entity.Contract, pred *entity.InterimPaymentCertificate) []calc.ItemState {
	previous := make(map[string]entity.BoqProgressLine)
	if pred != nil {
		for _, line := range pred.Lines {
			previous[line.BoqItemID] = line
		}
	}
	states := make([]calc.ItemState, 0, len(contract.Items))
	for _, item := range contract.Items {
		prev := previous[item.ID]
		states = append(states, calc.ItemState{
			ItemID:         item.ID,
			AuthorizedQty:  authorizedQty(contract, item),
			Rate:           effectiveRate(contract, item),
			PreviousQty:    prev.CumulativeQty,
			PreviousAmount: prev.CumulativeAmount,
		})
	}
	return states
}

// authorizedQty is the contract quantity plus approved variation additions, times the tolerance.
func authorizedQty(contract *entity.Contract, item entity.BoqItem) decimal.Decimal {
	qty := item.ContractQuantity
	for _, v := range contract.Variations {
		if v.Status == entity.VariationStatusApproved && v.BoqItemID == item.ID {
			qty = qty.Add(v.AdditionalQuantity)
		}
	}
	tolerance := contract.QuantityTolerance
	if tolerance.IsZero() {
		tolerance = decimal.NewFromInt(1)
	}
	return calc.Mul(qty, tolerance)
}

// effectiveRate is the revised rate of the latest approved variation, else the contract rate.
func effectiveRate(contract *entity.Contract, item entity.BoqItem) decimal.Decimal {
	var approved []entity.VariationOrder
	for _, v := range contract.Variations {
		if v.Status == entity.VariationStatusApproved && v.BoqItemID == item.ID && v.RevisedRate.Valid && v.DecidedAt != nil {
			approved = append(approved, v)
		}
	}
	if len(approved) == 0 {
		return item.ContractRate
	}
	sort.SliceStable(approved, func(i, j int) bool { return approved[i].DecidedAt.Before(*approved[j].DecidedAt) })
	return approved[len(approved)-1].RevisedRate.Decimal
}

func toProgressLines(contract *entity.Contract, certificateID string, lines []calc.ProgressLine) []entity.BoqProgressLine {
	out := make([]entity.BoqProgressLine, 0, len(lines))
	for _, l := range lines {
		item := findItem(contract, l.ItemID)
		out = append(out, entity.BoqProgressLine{
			ID:               newID(),
			CertificateID:    certificateID,
			ContractID:       contract.ID,
			BoqItemID:        l.ItemID,
			ItemNo:           item.ItemNo,
			Unit:             item.Unit,
			AuthorizedQty:    l.AuthorizedQty,
			Rate:             l.Rate,
			PreviousQty:      l.PreviousQty,
			CurrentQty:       l.CurrentQty,
			CumulativeQty:    l.CumulativeQty,
			RemainingQty:     l.RemainingQty,
			PreviousAmount:   l.PreviousAmount,
			CurrentAmount:    l.CurrentAmount,
			CumulativeAmount: l.CumulativeAmount,
			SortOrder:        item.SortOrder,
		})
	}
	return out
}
