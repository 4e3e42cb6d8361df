package calc

import "github.com/shopspring/decimal"

// Max retention modes.
const (
	MaxRetentionAbsolute   = "absolute"
	MaxRetentionPercentage = "percentage"
)

// ResolveMaxRetention converts the contract cap into an amount. A percentage cap is
// taken against the contract value.
func ResolveMaxRetention(mode string, value, contractValue decimal.Decimal) decimal.Decimal {
	if mode == MaxRetentionPercentage {
		return Mul(contractValue, value)
	}
	return Round(value)
}

// RetentionInput is the retention position entering a certificate.
type RetentionInput struct {
	GrossWorkValue     decimal.Decimal
	Percentage         decimal.Decimal
	MaxRetention       decimal.Decimal
	PreviousCumulative decimal.Decimal
	PreviousMaxReached bool
}

// RetentionResult is the retention deducted by a certificate.
type RetentionResult struct {
	Raw        decimal.Decimal
	Current    decimal.Decimal
	Cumulative decimal.Decimal
	MaxReached bool
}

// ComputeRetention applies the percentage to the gross work value, capped by the
// headroom left under MaxRetention. Once the cap is reached it stays reached.
func ComputeRetention(in RetentionInput) RetentionResult {
	raw := Mul(in.GrossWorkValue, in.Percentage)
	res := RetentionResult{Raw: raw, Cumulative: in.PreviousCumulative}

	if in.PreviousMaxReached {
		res.MaxReached = true
		return res
	}

	headroom := nonNegative(in.MaxRetention.Sub(in.PreviousCumulative))
	res.Current = nonNegative(decimal.Min(raw, headroom))
	res.Cumulative = in.PreviousCumulative.Add(res.Current)
	res.MaxReached = res.Cumulative.GreaterThanOrEqual(in.MaxRetention)
	return res
}
