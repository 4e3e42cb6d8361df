package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service/mocks"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAssemble_RetentionCap(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "RET-1", entity.ContractPolicy{
		RetentionPercentage: dec("0.1"),
		MaxRetentionMode:    calc.MaxRetentionPercentage,
		MaxRetentionValue:   dec("0.05"),
	})

	ipc1 := assemble(t, svc, c, 1, "400")
	assert.Equal(t, "40000", ipc1.GrossAmount.String())
	assert.Equal(t, "4000", ipc1.RetentionAmount.String())
	require.NotNil(t, ipc1.Retention)
	assert.Equal(t, "4000", ipc1.Retention.CumulativeRetention.String())
	assert.False(t, ipc1.Retention.MaxReached)
	assert.Equal(t, "36000", ipc1.NetAmount.String())
	certify(t, svc, ipc1.ID)

	ipc2 := assemble(t, svc, c, 2, "400")
	assert.Equal(t, "4000", ipc2.Retention.RawAmount.String())
	assert.Equal(t, "1000", ipc2.RetentionAmount.String())
	assert.Equal(t, "5000", ipc2.Retention.CumulativeRetention.String())
	assert.True(t, ipc2.Retention.MaxReached)
	assert.Equal(t, "40000", ipc2.PreviousCertified.String())
	assert.Equal(t, "80000", ipc2.CurrentCertified.String())
	certify(t, svc, ipc2.ID)

	ipc3 := assemble(t, svc, c, 3, "200")
	assert.Equal(t, "20000", ipc3.GrossAmount.String())
	assert.True(t, ipc3.RetentionAmount.IsZero())
	assert.Equal(t, "5000", ipc3.Retention.CumulativeRetention.String())
}

func TestAssemble_RetentionCarriedThroughZeroRate(t *testing.T) {
	svc, _ := setupServices(t)
	ctx := context.Background()
	policy := entity.ContractPolicy{
		RetentionPercentage: dec("0.1"),
		MaxRetentionMode:    calc.MaxRetentionAbsolute,
		MaxRetentionValue:   dec("5000"),
	}
	c := createContract(t, svc, "RET-0", policy)
	amend := func(pct string) {
		t.Helper()
		p := policy
		p.RetentionPercentage = dec(pct)
		_, err := svc.Contract.AmendPolicy(ctx, c.ID, &AmendPolicyRequest{Policy: &p, Reason: "retention " + pct}, approver)
		require.NoError(t, err)
	}

	ipc1 := assemble(t, svc, c, 1, "400")
	assert.Equal(t, "4000", ipc1.RetentionAmount.String())
	certify(t, svc, ipc1.ID)

	amend("0")
	ipc2 := assemble(t, svc, c, 2, "100")
	assert.True(t, ipc2.RetentionAmount.IsZero())
	require.NotNil(t, ipc2.Retention)
	assert.Equal(t, "4000", ipc2.Retention.PreviousCumulative.String())
	assert.Equal(t, "4000", ipc2.Retention.CumulativeRetention.String())
	assert.False(t, ipc2.Retention.MaxReached)
	require.NotNil(t, ipc2.Advance)
	certify(t, svc, ipc2.ID)

	amend("0.1")
	ipc3 := assemble(t, svc, c, 3, "400")
	assert.Equal(t, "4000", ipc3.Retention.RawAmount.String())
	assert.Equal(t, "1000", ipc3.RetentionAmount.String())
	assert.Equal(t, "4000", ipc3.Retention.PreviousCumulative.String())
	assert.Equal(t, "5000", ipc3.Retention.CumulativeRetention.String())
	assert.True(t, ipc3.Retention.MaxReached)
}

func TestAssemble_AdvanceRecovery(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "ADV-1", entity.ContractPolicy{
		AdvanceAmount:             dec("10000"),
		AdvanceRecoveryPercentage: dec("0.2"),
	})

	want := []struct{ current, balance string }{
		{"6000", "4000"},
		{"4000", "0"},
		{"0", "0"},
	}
	for i, w := range want {
		ipc := assemble(t, svc, c, i+1, "300")
		require.NotNil(t, ipc.Advance)
		assert.Equal(t, "30000", ipc.GrossAmount.String())
		assert.Equal(t, w.current, ipc.AdvanceRecoveryAmount.String(), "ipc %d recovery", i+1)
		assert.Equal(t, w.balance, ipc.Advance.BalanceRemaining.String(), "ipc %d balance", i+1)
		if i < len(want)-1 {
			certify(t, svc, ipc.ID)
		}
	}
}

func TestAssemble_CarriesProgressForward(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "FWD-1", entity.ContractPolicy{})

	ipc1 := assemble(t, svc, c, 1, "250")
	certify(t, svc, ipc1.ID)
	ipc2 := assemble(t, svc, c, 2, "-50")

	require.Len(t, ipc2.Lines, 1)
	line := ipc2.Lines[0]
	assert.Equal(t, "250", line.PreviousQty.String())
	assert.Equal(t, "200", line.CumulativeQty.String())
	assert.Equal(t, "800", line.RemainingQty.String())
	assert.Equal(t, "-5000", line.CurrentAmount.String())
	assert.Equal(t, "-5000", ipc2.GrossAmount.String())
}

func TestAssemble_SequenceGap(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "SEQ-1", entity.ContractPolicy{})

	_, err := svc.Assembler.Assemble(context.Background(), periodRequest(c, 2, "10"), preparer)
	require.Error(t, err)

	var gap *calc.SequenceGapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, 1, gap.Expected)
	assert.Equal(t, 2, gap.Requested)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAssemble_AggregatesViolations(t *testing.T) {
	svc, db := setupServices(t)
	c := createContract(t, svc, "AGG-1", entity.ContractPolicy{})

	req := periodRequest(c, 3, "1200")
	req.Progress = append(req.Progress, calc.ItemProgress{BoqItemID: "missing", CurrentQty: dec("1")})
	req.PeriodEnd = "2024-01-01"

	_, err := svc.Assembler.Assemble(context.Background(), req, preparer)
	var ae *AssemblyError
	require.ErrorAs(t, err, &ae)
	assert.Len(t, ae.Violations, 4)

	var overrun *calc.OverrunError
	assert.ErrorAs(t, err, &overrun)
	var unknown *calc.UnknownItemError
	assert.ErrorAs(t, err, &unknown)

	certs, err := repository.NewCertificateRepository(db).ListByContract(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Empty(t, certs)
}

func TestAssemble_RecomputeIsIdempotent(t *testing.T) {
	svc, db := setupServices(t)
	c := createContract(t, svc, "IDEM-1", entity.ContractPolicy{RetentionPercentage: dec("0.05"), MaxRetentionValue: dec("100000")})
	ctx := context.Background()

	first := assemble(t, svc, c, 1, "100")
	second := assemble(t, svc, c, 1, "100")
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.NetAmount.Equal(second.NetAmount))
	assert.True(t, first.RetentionAmount.Equal(second.RetentionAmount))

	third := assemble(t, svc, c, 1, "150")
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "15000", third.GrossAmount.String())

	certs, err := repository.NewCertificateRepository(db).ListByContract(ctx, c.ID, true)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Len(t, certs[0].Lines, 1)

	history, err := svc.Query.History(ctx, first.ID)
	require.NoError(t, err)
	events := make([]string, 0, len(history))
	for _, h := range history {
		events = append(events, h.Event)
	}
	assert.Equal(t, []string{"assemble", "recompute", "recompute"}, events)
}

func TestAssemble_RecomputeRejectedOutsideDraft(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "RCP-1", entity.ContractPolicy{})

	ipc := assemble(t, svc, c, 1, "100")
	_, err := svc.Workflow.Submit(context.Background(), ipc.ID, preparer)
	require.NoError(t, err)

	_, err = svc.Assembler.Assemble(context.Background(), periodRequest(c, 1, "120"), preparer)
	var se *apperr.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, entity.IPCStatusSubmitted, se.Current)
}

func TestAssemble_PredecessorMustBeClosed(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "PRED-1", entity.ContractPolicy{})

	assemble(t, svc, c, 1, "100")
	_, err := svc.Assembler.Assemble(context.Background(), periodRequest(c, 2, "100"), preparer)

	var open *PredecessorOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, entity.IPCStatusDraft, open.Status)
}

func TestAssemble_MaterialsOnSite(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "MAT-1", entity.ContractPolicy{MaterialsClaimPercentage: dec("0.8")})

	req := periodRequest(c, 1, "0")
	req.Materials = []calc.MaterialClaim{
		{MaterialCode: "REBAR", Description: "Rebar", Quantity: dec("10"), UnitRate: dec("500")},
	}
	ipc1, err := svc.Assembler.Assemble(context.Background(), req, preparer)
	require.NoError(t, err)
	assert.Equal(t, "4000", ipc1.MaterialsAmount.String())
	certify(t, svc, ipc1.ID)

	req = periodRequest(c, 2, "20")
	req.Materials = []calc.MaterialClaim{
		{MaterialCode: "REBAR", Description: "Rebar", Quantity: dec("10"), UnitRate: dec("500"), IsIncorporated: true},
	}
	ipc2, err := svc.Assembler.Assemble(context.Background(), req, preparer)
	require.NoError(t, err)
	assert.Equal(t, "-4000", ipc2.MaterialsAmount.String())
	assert.Equal(t, "-2000", ipc2.GrossAmount.String())
}

func TestAssemble_PriceAdjustment(t *testing.T) {
	ctrl := gomock.NewController(t)
	index := mocks.NewMockIndexSource(ctrl)
	svc, _ := setupServices(t, func(d *Deps) { d.IndexSource = index })

	c, err := svc.Contract.Create(context.Background(), "u-admin", &CreateContractRequest{
		Code:   "PA-1",
		Title:  "Bridge",
		Items:  []BoqItemInput{{ItemNo: "1", Quantity: dec("1000"), Rate: dec("100")}},
		Policy: &entity.ContractPolicy{MaxRetentionMode: calc.MaxRetentionAbsolute},
		PriceElements: []PriceElementInput{
			{ElementType: "fixed", Weight: dec("0.2")},
			{ElementType: "labor", IndexCode: "LAB", Weight: dec("0.8"), BaseIndex: dec("100")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, entity.PriceAdjustmentValid, c.PriceAdjustmentStatus)

	periodEnd := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	index.EXPECT().Reading(gomock.Any(), "LAB", periodEnd).Return(dec("110"), true, nil)

	ipc := assemble(t, svc, c, 1, "400")
	assert.Equal(t, "3200", ipc.PriceAdjustmentAmount.String())
	require.NotNil(t, ipc.PriceAdjustment)
	assert.Equal(t, "0.08", ipc.PriceAdjustment.AdjustmentFactor.String())
	assert.Equal(t, "43200", ipc.NetAmount.String())
}

func TestAssemble_MissingIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	index := mocks.NewMockIndexSource(ctrl)
	svc, _ := setupServices(t, func(d *Deps) { d.IndexSource = index })

	c, err := svc.Contract.Create(context.Background(), "u-admin", &CreateContractRequest{
		Code:   "PA-2",
		Title:  "Bridge",
		Items:  []BoqItemInput{{ItemNo: "1", Quantity: dec("1000"), Rate: dec("100")}},
		Policy: &entity.ContractPolicy{MaxRetentionMode: calc.MaxRetentionAbsolute},
		PriceElements: []PriceElementInput{
			{ElementType: "fixed", Weight: dec("0.5")},
			{ElementType: "material", IndexCode: "CEM", Weight: dec("0.3"), BaseIndex: dec("80")},
			{ElementType: "equipment", IndexCode: "EQP", Weight: dec("0.2"), BaseIndex: dec("90")},
		},
	})
	require.NoError(t, err)

	index.EXPECT().Reading(gomock.Any(), "CEM", gomock.Any()).Return(decimal.Zero, false, nil)
	index.EXPECT().Reading(gomock.Any(), "EQP", gomock.Any()).Return(decimal.Zero, false, errors.New("timeout"))

	_, err = svc.Assembler.Assemble(context.Background(), periodRequest(c, 1, "10"), preparer)
	var missing *calc.MissingIndexError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "CEM", missing.IndexCode)
	var sourceErr *IndexSourceError
	require.ErrorAs(t, err, &sourceErr)
	assert.Equal(t, "EQP", sourceErr.IndexCode)
	assert.ErrorIs(t, err, apperr.ErrDependency)
}

func TestAssemble_InvalidFormulaBlocksAssembly(t *testing.T) {
	svc, _ := setupServices(t)
	c, err := svc.Contract.Create(context.Background(), "u-admin", &CreateContractRequest{
		Code:   "PA-3",
		Title:  "Tunnel",
		Items:  []BoqItemInput{{ItemNo: "1", Quantity: dec("10"), Rate: dec("10")}},
		Policy: &entity.ContractPolicy{MaxRetentionMode: calc.MaxRetentionAbsolute},
		PriceElements: []PriceElementInput{
			{ElementType: "fixed", Weight: dec("0.5")},
			{ElementType: "labor", IndexCode: "LAB", Weight: dec("0.4"), BaseIndex: dec("100")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.PriceAdjustmentInvalid, c.PriceAdjustmentStatus)
	assert.Contains(t, c.PriceAdjustmentIssues, "weights sum to 0.9")

	_, err = svc.Assembler.Assemble(context.Background(), periodRequest(c, 1, "1"), preparer)
	var cfg *calc.PriceAdjustmentConfigError
	require.ErrorAs(t, err, &cfg)
}

func TestAssemble_VATFromTaxService(t *testing.T) {
	ctrl := gomock.NewController(t)
	tax := mocks.NewMockTaxService(ctrl)
	svc, _ := setupServices(t, func(d *Deps) { d.Tax = tax })
	c := createContract(t, svc, "VAT-1", entity.ContractPolicy{RetentionPercentage: dec("0.1"), MaxRetentionValue: dec("100000")})

	tax.EXPECT().VAT(gomock.Any(), decimalEq(dec("9000")), c.VATJurisdiction).Return(dec("450.0004"), nil)
	req := periodRequest(c, 1, "100")
	req.VATAmount = nil
	ipc, err := svc.Assembler.Assemble(context.Background(), req, preparer)
	require.NoError(t, err)
	assert.Equal(t, "450", ipc.VATAmount.String())
	assert.Equal(t, "8550", ipc.NetAmount.String())

	tax.EXPECT().VAT(gomock.Any(), gomock.Any(), gomock.Any()).Return(decimal.Zero, errors.New("503"))
	_, err = svc.Assembler.Assemble(context.Background(), req, preparer)
	var vatErr *MissingVATError
	require.ErrorAs(t, err, &vatErr)
	assert.ErrorIs(t, err, apperr.ErrDependency)
}

func TestAssemble_Preview(t *testing.T) {
	svc, db := setupServices(t)
	c := createContract(t, svc, "PRV-1", entity.ContractPolicy{})

	ipc, err := svc.Assembler.Preview(context.Background(), periodRequest(c, 1, "100"), preparer)
	require.NoError(t, err)
	assert.Equal(t, "10000", ipc.GrossAmount.String())

	certs, err := repository.NewCertificateRepository(db).ListByContract(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Empty(t, certs)
}

func TestProgressLedger_PreviewAndHistory(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "LED-1", entity.ContractPolicy{})
	ctx := context.Background()

	preview, err := svc.Progress.Preview(ctx, c.ID, 1, []calc.ItemProgress{{BoqItemID: c.Items[0].ID, CurrentQty: dec("1001")}})
	var overrun *calc.OverrunError
	require.ErrorAs(t, err, &overrun)
	assert.Nil(t, preview)

	ipc := assemble(t, svc, c, 1, "100")
	certify(t, svc, ipc.ID)
	assemble(t, svc, c, 2, "50")

	history, err := svc.Progress.ItemHistory(ctx, c.ID, c.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "100", history[0].CumulativeQty.String())
	assert.Equal(t, "150", history[1].CumulativeQty.String())
}
