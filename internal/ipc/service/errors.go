package service

import (
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
)

// AssemblyError aggregates every violation found while assembling one certificate.
type AssemblyError struct {
	ContractID string
	Sequence   int
	Violations []error
}

func (e *AssemblyError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("certificate %d of contract %s rejected with %d violation(s): %s",
		e.Sequence, e.ContractID, len(e.Violations), strings.Join(msgs, "; "))
}

func (e *AssemblyError) Unwrap() []error { return e.Violations }

// MissingVATError is returned when VAT was neither supplied nor obtainable from the tax service.
type MissingVATError struct {
	Jurisdiction string
	Cause        error
}

func (e *MissingVATError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("no VAT amount supplied and no tax service for jurisdiction %q", e.Jurisdiction)
	}
	return fmt.Sprintf("VAT unavailable for jurisdiction %q: %v", e.Jurisdiction, e.Cause)
}

func (e *MissingVATError) Is(target error) bool { return target == apperr.ErrDependency }
func (e *MissingVATError) Unwrap() error        { return e.Cause }

// IndexSourceError wraps a failure of the index source itself.
type IndexSourceError struct {
	IndexCode string
	Cause     error
}

func (e *IndexSourceError) Error() string {
	return fmt.Sprintf("index source failed for %s: %v", e.IndexCode, e.Cause)
}

func (e *IndexSourceError) Is(target error) bool { return target == apperr.ErrDependency }
func (e *IndexSourceError) Unwrap() error        { return e.Cause }

// PredecessorOpenError is returned when the previous certificate is not yet closed.
type PredecessorOpenError struct {
	Code   string
	Status string
	Hint   string
}

func (e *PredecessorOpenError) Error() string {
	msg := fmt.Sprintf("previous certificate %s is still %s", e.Code, e.Status)
	if e.Hint != "" {
		msg += "; " + e.Hint
	}
	return msg
}

func (e *PredecessorOpenError) Is(target error) bool { return target == apperr.ErrValidation }

// OpenCertificateError is returned when closing a contract that still has certificates in progress.
type OpenCertificateError struct {
	ContractID string
	Open       []string
}

func (e *OpenCertificateError) Error() string {
	return fmt.Sprintf("contract %s has certificates not yet settled: %s", e.ContractID, strings.Join(e.Open, ", "))
}

func (e *OpenCertificateError) Is(target error) bool { return target == apperr.ErrState }
