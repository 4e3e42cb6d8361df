package calc

import "github.com/shopspring/decimal"

// AdvanceInput is the advance recovery position entering a certificate.
type AdvanceInput struct {
	AdvanceAmount      decimal.Decimal
	RecoveryPercentage decimal.Decimal
	GrossWorkValue     decimal.Decimal
	PreviousRecovered  decimal.Decimal
}

// AdvanceResult is the advance recovered by a certificate.
type AdvanceResult struct {
	Raw                 decimal.Decimal
	Current             decimal.Decimal
	CumulativeRecovered decimal.Decimal
	BalanceRemaining    decimal.Decimal
	FullyRecovered      bool
}

// ComputeAdvanceRecovery recovers a share of gross work value until the advance is repaid.
func ComputeAdvanceRecovery(in AdvanceInput) AdvanceResult {
	raw := Mul(in.GrossWorkValue, in.RecoveryPercentage)
	outstanding := nonNegative(in.AdvanceAmount.Sub(in.PreviousRecovered))

	current := nonNegative(decimal.Min(raw, outstanding))
	cumulative := in.PreviousRecovered.Add(current)
	balance := nonNegative(in.AdvanceAmount.Sub(cumulative))

	return AdvanceResult{
		Raw:                 raw,
		Current:             current,
		CumulativeRecovered: cumulative,
		BalanceRemaining:    balance,
		FullyRecovered:      balance.IsZero(),
	}
}
