package calc

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ElementType is the kind of a price adjustment formula element.
type ElementType string

const (
	ElementFixed     ElementType = "fixed"
	ElementLabor     ElementType = "labor"
	ElementMaterial  ElementType = "material"
	ElementEquipment ElementType = "equipment"
)

// FactorScale is the precision stored for the adjustment factor.
const FactorScale = 6

var one = decimal.NewFromInt(1)

// Element is one term of the weighted-index formula.
type Element struct {
	Type      ElementType
	IndexCode string
	Weight    decimal.Decimal
	BaseIndex decimal.Decimal
}

// ElementReading is the evaluated term of a variable element.
type ElementReading struct {
	Type         ElementType     `json:"element_type"`
	IndexCode    string          `json:"index_code"`
	Weight       decimal.Decimal `json:"weight"`
	BaseIndex    decimal.Decimal `json:"base_index"`
	CurrentIndex decimal.Decimal `json:"current_index"`
	Contribution decimal.Decimal `json:"contribution"`
}

// PriceAdjustmentResult is the escalation applied to one certificate.
type PriceAdjustmentResult struct {
	WorkValue decimal.Decimal
	IndexDate time.Time
	// Factor is kept at FactorScale for display; Amount is computed from the unrounded factor.
	Factor   decimal.Decimal
	Amount   decimal.Decimal
	Readings []ElementReading
}

// ValidateFormula checks the formula at contract setup. The fixed element and all
// variable weights must sum to exactly one.
func ValidateFormula(elements []Element) error {
	var reasons []string
	total := decimal.Zero
	fixed := 0
	seen := make(map[string]bool)

	for i, el := range elements {
		total = total.Add(el.Weight)
		if el.Weight.IsNegative() {
			reasons = append(reasons, fmt.Sprintf("element %d: negative weight %s", i+1, el.Weight))
		}
		switch el.Type {
		case ElementFixed:
			fixed++
		case ElementLabor, ElementMaterial, ElementEquipment:
			if el.IndexCode == "" {
				reasons = append(reasons, fmt.Sprintf("element %d: index code required", i+1))
			} else if seen[el.IndexCode] {
				reasons = append(reasons, fmt.Sprintf("element %d: index %s listed twice", i+1, el.IndexCode))
			}
			seen[el.IndexCode] = true
			if !el.BaseIndex.IsPositive() {
				reasons = append(reasons, fmt.Sprintf("element %d: base index must be positive", i+1))
			}
		default:
			reasons = append(reasons, fmt.Sprintf("element %d: unknown element type %q", i+1, el.Type))
		}
	}
	if fixed > 1 {
		reasons = append(reasons, "more than one fixed element")
	}
	if len(elements) > 0 && !total.Equal(one) {
		reasons = append(reasons, fmt.Sprintf("weights sum to %s, expected 1", total.String()))
	}

	if len(reasons) > 0 {
		return &PriceAdjustmentConfigError{Reasons: reasons}
	}
	return nil
}

// IndexCodes lists the index codes a formula reads, in formula order.
func IndexCodes(elements []Element) []string {
	var codes []string
	for _, el := range elements {
		if el.Type != ElementFixed {
			codes = append(codes, el.IndexCode)
		}
	}
	return codes
}

// ComputePriceAdjustment evaluates
//
//	factor = fixed + Σ(weight × current/base) − 1
//	amount = workValue × factor
//
// current must hold a reading for every variable element dated indexDate.
func ComputePriceAdjustment(workValue decimal.Decimal, indexDate time.Time, elements []Element, current map[string]decimal.Decimal) (PriceAdjustmentResult, error) {
	factor := decimal.Zero
	readings := make([]ElementReading, 0, len(elements))

	for _, el := range elements {
		if el.Type == ElementFixed {
			factor = factor.Add(el.Weight)
			continue
		}
		cur, ok := current[el.IndexCode]
		if !ok {
			return PriceAdjustmentResult{}, &MissingIndexError{IndexCode: el.IndexCode, Date: indexDate}
		}
		contribution := el.Weight.Mul(cur).DivRound(el.BaseIndex, 16)
		factor = factor.Add(contribution)
		readings = append(readings, ElementReading{
			Type:         el.Type,
			IndexCode:    el.IndexCode,
			Weight:       el.Weight,
			BaseIndex:    el.BaseIndex,
			CurrentIndex: cur,
			Contribution: contribution.Round(FactorScale),
		})
	}
	factor = factor.Sub(one)

	return PriceAdjustmentResult{
		WorkValue: workValue,
		IndexDate: indexDate,
		Factor:    factor.Round(FactorScale),
		Amount:    Mul(workValue, factor),
		Readings:  readings,
	}, nil
}
