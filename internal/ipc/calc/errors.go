package calc

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/shopspring/decimal"
)

// SequenceGapError is returned when a certificate sequence is not the next one in the chain.
type SequenceGapError struct {
	ContractID string
	Expected   int
	Requested  int
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("contract %s: certificate sequence %d requested, expected %d", e.ContractID, e.Requested, e.Expected)
}

func (e *SequenceGapError) Is(target error) bool { return target == apperr.ErrValidation }

// OverrunError is returned when cumulative progress exceeds the authorized quantity.
type OverrunError struct {
	ItemID        string
	Authorized    decimal.Decimal
	CumulativeQty decimal.Decimal
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("boq item %s: cumulative quantity %s exceeds authorized %s",
		e.ItemID, e.CumulativeQty.StringFixed(Scale), e.Authorized.StringFixed(Scale))
}

func (e *OverrunError) Is(target error) bool { return target == apperr.ErrValidation }

// NegativeCumulativeError is returned when a correction drives cumulative progress below zero.
type NegativeCumulativeError struct {
	ItemID        string
	CumulativeQty decimal.Decimal
}

func (e *NegativeCumulativeError) Error() string {
	return fmt.Sprintf("boq item %s: cumulative quantity %s is negative", e.ItemID, e.CumulativeQty.StringFixed(Scale))
}

func (e *NegativeCumulativeError) Is(target error) bool { return target == apperr.ErrValidation }

// UnknownItemError is returned for progress against an item not in the contract BOQ.
type UnknownItemError struct {
	ItemID string
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("boq item %s is not part of the contract", e.ItemID)
}

func (e *UnknownItemError) Is(target error) bool { return target == apperr.ErrValidation }

// DuplicateEntryError is returned when one certificate carries two entries for the same key.
type DuplicateEntryError struct {
	Kind string
	Key  string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate %s entry %s", e.Kind, e.Key)
}

func (e *DuplicateEntryError) Is(target error) bool { return target == apperr.ErrValidation }

// PriceAdjustmentConfigError is returned when the adjustment formula weights are unusable.
type PriceAdjustmentConfigError struct {
	Reasons []string
}

func (e *PriceAdjustmentConfigError) Error() string {
	return "price adjustment formula invalid: " + strings.Join(e.Reasons, "; ")
}

func (e *PriceAdjustmentConfigError) Is(target error) bool { return target == apperr.ErrValidation }

// MissingIndexError is returned when no published reading exists for an index on the valuation date.
type MissingIndexError struct {
	IndexCode string
	Date      time.Time
}

func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("no published value for index %s on %s", e.IndexCode, e.Date.Format("2006-01-02"))
}

func (e *MissingIndexError) Is(target error) bool { return target == apperr.ErrDependency }

// MaterialIncorporatedError is returned when a material already incorporated into works is claimed again.
type MaterialIncorporatedError struct {
	MaterialCode string
}

func (e *MaterialIncorporatedError) Error() string {
	return fmt.Sprintf("material %s was incorporated into the works and can no longer be claimed", e.MaterialCode)
}

func (e *MaterialIncorporatedError) Is(target error) bool { return target == apperr.ErrValidation }
