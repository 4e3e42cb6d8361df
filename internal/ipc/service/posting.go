package service

import (
	"encoding/json"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// 总账科目
const (
	AccountContractWorks     = "contract_works"
	AccountRetentionPayable  = "retention_payable"
	AccountAdvancePayments   = "advance_payments"
	AccountVATWithheld       = "vat_withheld"
	AccountContractorPayable = "contractor_payable"
)

// BuildPosting 认证证书的借贷分录：借工程成本（毛额+调价），贷保留金、预付款、增值税与应付承包商
func BuildPosting(ipc *entity.InterimPaymentCertificate, currency string) (*entity.LedgerPosting, error) {
	var lines []entity.PostingLine
	add := func(account string, amount decimal.Decimal, debit bool, memo string) {
		if amount.IsZero() {
			return
		}
		// negative amounts move to the opposite side
		if amount.IsNegative() {
			amount = amount.Neg()
			debit = !debit
		}
		line := entity.PostingLine{Account: account, Debit: decimal.Zero, Credit: decimal.Zero, Memo: memo}
		if debit {
			line.Debit = amount
		} else {
			line.Credit = amount
		}
		lines = append(lines, line)
	}

	add(AccountContractWorks, ipc.GrossAmount.Add(ipc.PriceAdjustmentAmount), true, ipc.Code)
	add(AccountRetentionPayable, ipc.RetentionAmount, false, "retention")
	add(AccountAdvancePayments, ipc.AdvanceRecoveryAmount, false, "advance recovery")
	add(AccountVATWithheld, ipc.VATAmount, false, "vat")
	add(AccountContractorPayable, ipc.NetAmount, false, "net payable")

	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	return &entity.LedgerPosting{
		ID:            newID(),
		CertificateID: ipc.ID,
		Round:         ipc.ApprovalRound,
		ContractID:    ipc.ContractID,
		Currency:      currency,
		Lines:         datatypes.JSON(raw),
		TotalDebit:    debit,
		TotalCredit:   credit,
		Status:        entity.PostingStatusPending,
	}, nil
}
