package calc

import (
	"sort"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/shopspring/decimal"
)

// MaterialClaim is the contractor's statement of one material on site for a period.
type MaterialClaim struct {
	MaterialCode   string          `json:"material_code" binding:"required"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitRate       decimal.Decimal `json:"unit_rate"`
	IsIncorporated bool            `json:"is_incorporated"`
}

// PriorMaterial is a material valuation carried by the predecessor certificate.
type PriorMaterial struct {
	MaterialCode   string
	Description    string
	Quantity       decimal.Decimal
	UnitRate       decimal.Decimal
	ClaimedValue   decimal.Decimal
	IsIncorporated bool
}

// MaterialValuation is one material valued on a certificate.
type MaterialValuation struct {
	MaterialCode         string
	Description          string
	Quantity             decimal.Decimal
	UnitRate             decimal.Decimal
	DeliveredValue       decimal.Decimal
	ClaimPercentage      decimal.Decimal
	ClaimedValue         decimal.Decimal
	PreviousClaimedValue decimal.Decimal
	CurrentAmount        decimal.Decimal
	IsIncorporated       bool
	Eligible             bool
}

// ValueMaterials values unincorporated materials at claimPct of delivered value.
//
// A material flagged incorporated releases its previous claim (current amount is the
// negative of it) and is frozen: later claims on the same code are rejected and it is
// dropped from subsequent certificates. Eligible materials without a new claim carry
// their previous valuation forward with a zero current amount.
func ValueMaterials(claimPct decimal.Decimal, prior []PriorMaterial, claims []MaterialClaim) ([]MaterialValuation, []error) {
	var errs []error

	previous := make(map[string]PriorMaterial, len(prior))
	for _, p := range prior {
		previous[p.MaterialCode] = p
	}

	claimed := make(map[string]bool, len(claims))
	var out []MaterialValuation
	for _, c := range claims {
		if claimed[c.MaterialCode] {
			errs = append(errs, &DuplicateEntryError{Kind: "material", Key: c.MaterialCode})
			continue
		}
		claimed[c.MaterialCode] = true

		p, hasPrior := previous[c.MaterialCode]
		if hasPrior && p.IsIncorporated {
			errs = append(errs, &MaterialIncorporatedError{MaterialCode: c.MaterialCode})
			continue
		}
		if c.Quantity.IsNegative() || c.UnitRate.IsNegative() {
			errs = append(errs, apperr.Invalid("materials."+c.MaterialCode, "quantity and unit rate must not be negative"))
			continue
		}

		delivered := Mul(c.Quantity, c.UnitRate)
		v := MaterialValuation{
			MaterialCode:         c.MaterialCode,
			Description:          c.Description,
			Quantity:             c.Quantity,
			UnitRate:             c.UnitRate,
			DeliveredValue:       delivered,
			ClaimPercentage:      claimPct,
			PreviousClaimedValue: p.ClaimedValue,
			IsIncorporated:       c.IsIncorporated,
			Eligible:             !c.IsIncorporated,
		}
		if c.IsIncorporated {
			v.ClaimedValue = decimal.Zero
		} else {
			v.ClaimedValue = Mul(delivered, claimPct)
		}
		v.CurrentAmount = v.ClaimedValue.Sub(p.ClaimedValue)
		out = append(out, v)
	}

	for _, p := range prior {
		if claimed[p.MaterialCode] || p.IsIncorporated {
			continue
		}
		out = append(out, MaterialValuation{
			MaterialCode:         p.MaterialCode,
			Description:          p.Description,
			Quantity:             p.Quantity,
			UnitRate:             p.UnitRate,
			DeliveredValue:       Mul(p.Quantity, p.UnitRate),
			ClaimPercentage:      claimPct,
			ClaimedValue:         p.ClaimedValue,
			PreviousClaimedValue: p.ClaimedValue,
			CurrentAmount:        decimal.Zero,
			Eligible:             true,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MaterialCode < out[j].MaterialCode })
	return out, errs
}

// MaterialsValue sums the current amounts of valuations.
func MaterialsValue(vals []MaterialValuation) decimal.Decimal {
	total := decimal.Zero
	for _, v := range vals {
		total = total.Add(v.CurrentAmount)
	}
	return total
}
