package calc

import "github.com/shopspring/decimal"

// ItemState is the authorized position of one BOQ item entering a certificate.
type ItemState struct {
	ItemID         string
	AuthorizedQty  decimal.Decimal
	Rate           decimal.Decimal
	PreviousQty    decimal.Decimal
	PreviousAmount decimal.Decimal
}

// ItemProgress is the quantity executed on one item during a period. Negative values are corrections.
type ItemProgress struct {
	BoqItemID  string          `json:"boq_item_id" binding:"required"`
	CurrentQty decimal.Decimal `json:"current_qty"`
}

// ProgressLine is the measured position of one item at a certificate.
type ProgressLine struct {
	ItemID           string
	AuthorizedQty    decimal.Decimal
	Rate             decimal.Decimal
	PreviousQty      decimal.Decimal
	CurrentQty       decimal.Decimal
	CumulativeQty    decimal.Decimal
	RemainingQty     decimal.Decimal
	PreviousAmount   decimal.Decimal
	CurrentAmount    decimal.Decimal
	CumulativeAmount decimal.Decimal
}

// CheckSequence verifies requested is the next sequence after priorMax.
func CheckSequence(contractID string, priorMax, requested int) error {
	if requested != priorMax+1 {
		return &SequenceGapError{ContractID: contractID, Expected: priorMax + 1, Requested: requested}
	}
	return nil
}

// ApplyProgress folds period progress into the item positions. It returns one line
// per item in input order, carrying forward items without progress, and every
// violation found. Lines are only meaningful when no error is returned.
func ApplyProgress(items []ItemState, progress []ItemProgress) ([]ProgressLine, []error) {
	var errs []error

	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ItemID] = i
	}

	current := make(map[string]decimal.Decimal, len(progress))
	for _, p := range progress {
		if _, ok := index[p.BoqItemID]; !ok {
			errs = append(errs, &UnknownItemError{ItemID: p.BoqItemID})
			continue
		}
		if _, dup := current[p.BoqItemID]; dup {
			errs = append(errs, &DuplicateEntryError{Kind: "boq progress", Key: p.BoqItemID})
			continue
		}
		current[p.BoqItemID] = Round(p.CurrentQty)
	}

	lines := make([]ProgressLine, 0, len(items))
	for _, it := range items {
		qty := current[it.ItemID]
		cumulative := it.PreviousQty.Add(qty)

		if cumulative.IsNegative() {
			errs = append(errs, &NegativeCumulativeError{ItemID: it.ItemID, CumulativeQty: cumulative})
		} else if cumulative.GreaterThan(it.AuthorizedQty) {
			errs = append(errs, &OverrunError{ItemID: it.ItemID, Authorized: it.AuthorizedQty, CumulativeQty: cumulative})
		}

		amount := Mul(qty, it.Rate)
		lines = append(lines, ProgressLine{
			ItemID:           it.ItemID,
			AuthorizedQty:    it.AuthorizedQty,
			Rate:             it.Rate,
			PreviousQty:      it.PreviousQty,
			CurrentQty:       qty,
			CumulativeQty:    cumulative,
			RemainingQty:     it.AuthorizedQty.Sub(cumulative),
			PreviousAmount:   it.PreviousAmount,
			CurrentAmount:    amount,
			CumulativeAmount: it.PreviousAmount.Add(amount),
		})
	}
	return lines, errs
}

// WorkValue sums the current amounts of lines.
func WorkValue(lines []ProgressLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.CurrentAmount)
	}
	return total
}
