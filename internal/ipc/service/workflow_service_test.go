package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service/mocks"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestWorkflow_CertifyBlockedByPendingLevel(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "WF-1", entity.ContractPolicy{})
	ctx := context.Background()

	ipc := assemble(t, svc, c, 1, "100")
	_, err := svc.Workflow.Submit(ctx, ipc.ID, preparer)
	require.NoError(t, err)
	_, err = svc.Workflow.StartReview(ctx, ipc.ID, preparer)
	require.NoError(t, err)

	_, err = svc.Workflow.RecordDecision(ctx, ipc.ID, &DecisionRequest{Level: 2, Decision: engine.DecisionApproved}, approver)
	var se *apperr.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.BlockingLevel)

	_, err = svc.Workflow.Certify(ctx, ipc.ID, approver)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.BlockingLevel)
	assert.Equal(t, entity.IPCStatusUnderReview, se.Current)
	assert.Contains(t, se.Error(), "level 1 approval pending")
}

func TestWorkflow_SubmitRequiresCurrentPolicy(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "WF-2", entity.ContractPolicy{})
	ctx := context.Background()

	ipc := assemble(t, svc, c, 1, "100")
	_, err := svc.Contract.AmendPolicy(ctx, c.ID, &AmendPolicyRequest{
		Policy: &entity.ContractPolicy{RetentionPercentage: dec("0.05"), MaxRetentionMode: "absolute", MaxRetentionValue: dec("5000")},
		Reason: "bond renegotiated",
	}, approver)
	require.NoError(t, err)

	_, err = svc.Workflow.Submit(ctx, ipc.ID, preparer)
	require.ErrorIs(t, err, apperr.ErrState)
	assert.Contains(t, err.Error(), "policy version 1")

	ipc = assemble(t, svc, c, 1, "100")
	assert.Equal(t, "500", ipc.RetentionAmount.String())
	_, err = svc.Workflow.Submit(ctx, ipc.ID, preparer)
	require.NoError(t, err)
}

func TestWorkflow_RejectReturnsToDraft(t *testing.T) {
	svc, db := setupServices(t)
	c := createContract(t, svc, "WF-3", entity.ContractPolicy{})
	ctx := context.Background()

	ipc := assemble(t, svc, c, 1, "100")
	_, err := svc.Workflow.Submit(ctx, ipc.ID, preparer)
	require.NoError(t, err)
	_, err = svc.Workflow.RecordDecision(ctx, ipc.ID, &DecisionRequest{Level: 1, Decision: engine.DecisionApproved}, approver)
	require.NoError(t, err)

	ipc, err = svc.Workflow.RecordDecision(ctx, ipc.ID, &DecisionRequest{Level: 2, Decision: engine.DecisionRejected, Comment: "quantities disputed"}, approver)
	require.NoError(t, err)
	assert.Equal(t, entity.IPCStatusDraft, ipc.Status)

	eng := engine.NewEngine(nil)
	rows, err := eng.Approvals(ctx, db, ipc.Ref(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, engine.DecisionApproved, rows[0].Decision)
	assert.Equal(t, engine.DecisionRejected, rows[1].Decision)
	assert.Equal(t, engine.DecisionClosed, rows[2].Decision)

	ipc = assemble(t, svc, c, 1, "90")
	certified := certify(t, svc, ipc.ID)
	assert.Equal(t, entity.IPCStatusCertified, certified.Status)
	assert.Equal(t, 2, certified.ApprovalRound)
}

func TestWorkflow_CertifyOpensPaymentAndPosting(t *testing.T) {
	ctrl := gomock.NewController(t)
	archiver := mocks.NewMockArchiver(ctrl)
	svc, db := setupServices(t, func(d *Deps) { d.Archiver = archiver })
	c := createContract(t, svc, "WF-4", entity.ContractPolicy{
		RetentionPercentage: dec("0.1"), MaxRetentionMode: "absolute", MaxRetentionValue: dec("100000"),
	})
	ctx := context.Background()

	ipc := assemble(t, svc, c, 1, "100")
	archiver.EXPECT().
		Archive(gomock.Any(), "certificates/"+c.ID+"/"+ipc.Code+".xlsx", gomock.Any(), xlsxContentType).
		Return(nil)

	ipc = certify(t, svc, ipc.ID)
	require.NotNil(t, ipc.CertifiedAt)

	ps, err := svc.Payment.Get(ctx, ipc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPending, ps.Status)
	assert.Equal(t, "9000", ps.AmountDue.String())

	postings, err := repository.NewLedgerRepository(db).ListByCertificate(ctx, ipc.ID)
	require.NoError(t, err)
	require.Len(t, postings, 1)
	p := postings[0]
	assert.Equal(t, entity.PostingStatusPending, p.Status)
	assert.Equal(t, 1, p.Round)
	assert.True(t, p.TotalDebit.Equal(p.TotalCredit))
	assert.Equal(t, "10000", p.TotalDebit.String())

	var lines []entity.PostingLine
	require.NoError(t, json.Unmarshal(p.Lines, &lines))
	accounts := make(map[string]string)
	for _, l := range lines {
		accounts[l.Account] = l.Debit.Sub(l.Credit).String()
	}
	assert.Equal(t, "10000", accounts[AccountContractWorks])
	assert.Equal(t, "-1000", accounts[AccountRetentionPayable])
	assert.Equal(t, "-9000", accounts[AccountContractorPayable])
}

func TestWorkflow_ArchiveFailureDoesNotFailCertify(t *testing.T) {
	ctrl := gomock.NewController(t)
	archiver := mocks.NewMockArchiver(ctrl)
	svc, _ := setupServices(t, func(d *Deps) { d.Archiver = archiver })
	c := createContract(t, svc, "WF-5", entity.ContractPolicy{})

	ipc := assemble(t, svc, c, 1, "100")
	archiver.EXPECT().Archive(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("bucket missing"))

	ipc = certify(t, svc, ipc.ID)
	assert.Equal(t, entity.IPCStatusCertified, ipc.Status)
}

func TestPayment_PartialThenFull(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "PAY-1", entity.ContractPolicy{})
	ctx := context.Background()

	ipc := certify(t, svc, assemble(t, svc, c, 1, "100").ID)

	_, err := svc.Payment.RecordPayment(ctx, ipc.ID, &RecordPaymentRequest{Reference: "TX-1", Amount: dec("12000")}, approver)
	require.ErrorIs(t, err, apperr.ErrValidation)

	ps, err := svc.Payment.RecordPayment(ctx, ipc.ID, &RecordPaymentRequest{Reference: "TX-1", Amount: dec("4000")}, approver)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPartiallyPaid, ps.Status)

	again, err := svc.Payment.RecordPayment(ctx, ipc.ID, &RecordPaymentRequest{Reference: "TX-1", Amount: dec("4000")}, approver)
	require.NoError(t, err)
	assert.Equal(t, "4000", again.AmountPaid.String())

	paidAt := "2025-03-15"
	ps, err = svc.Payment.RecordPayment(ctx, ipc.ID, &RecordPaymentRequest{Reference: "TX-2", Amount: dec("6000"), PaidAt: &paidAt}, approver)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPaid, ps.Status)
	assert.Len(t, ps.Records, 2)

	view, err := svc.Query.GetCertificate(ctx, ipc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IPCStatusPaid, view.Status)
	require.NotNil(t, view.PaidAt)
	assert.Equal(t, paidAt, view.PaidAt.Format("2006-01-02"))
}

func TestPayment_RequiresCertified(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "PAY-2", entity.ContractPolicy{})

	ipc := assemble(t, svc, c, 1, "100")
	_, err := svc.Payment.RecordPayment(context.Background(), ipc.ID, &RecordPaymentRequest{Reference: "TX-9", Amount: dec("1")}, approver)
	require.ErrorIs(t, err, apperr.ErrState)
}

func TestPayment_ReferenceBelongsToOnePayable(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "PAY-3", entity.ContractPolicy{})
	ctx := context.Background()

	ipc1 := certify(t, svc, assemble(t, svc, c, 1, "100").ID)
	_, err := svc.Payment.RecordPayment(ctx, ipc1.ID, &RecordPaymentRequest{Reference: "TX-A", Amount: dec("10000")}, approver)
	require.NoError(t, err)

	ipc2 := certify(t, svc, assemble(t, svc, c, 2, "100").ID)
	_, err = svc.Payment.RecordPayment(ctx, ipc2.ID, &RecordPaymentRequest{Reference: "TX-A", Amount: dec("10000")}, approver)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestWorkflow_DisputeAndSupersede(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "DSP-1", entity.ContractPolicy{})
	ctx := context.Background()

	ipc1 := certify(t, svc, assemble(t, svc, c, 1, "100").ID)
	pay(t, svc, ipc1)
	ipc2 := certify(t, svc, assemble(t, svc, c, 2, "300").ID)

	ipc2, err := svc.Workflow.Dispute(ctx, ipc2.ID, &ReasonRequest{Reason: "over-measured"}, approver)
	require.NoError(t, err)
	assert.Equal(t, entity.IPCStatusDisputed, ipc2.Status)

	_, err = svc.Assembler.Assemble(ctx, periodRequest(c, 3, "50"), preparer)
	var open *PredecessorOpenError
	require.ErrorAs(t, err, &open)
	assert.Contains(t, open.Hint, ipc2.ID)

	req := periodRequest(c, 3, "200")
	req.Supersedes = ipc2.ID
	ipc3, err := svc.Assembler.Assemble(ctx, req, preparer)
	require.NoError(t, err)
	assert.Equal(t, "100", ipc3.Lines[0].PreviousQty.String())
	assert.Equal(t, "10000", ipc3.PreviousCertified.String())

	old, err := svc.Query.GetCertificate(ctx, ipc2.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DisputeSuperseded, old.DisputeResolution)
	require.NotNil(t, old.SupersededByID)
	assert.Equal(t, ipc3.ID, *old.SupersededByID)

	_, err = svc.Workflow.Reopen(ctx, ipc2.ID, approver)
	require.ErrorIs(t, err, apperr.ErrState)
}

func TestWorkflow_ResolveDisputeClosesChain(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "DSP-2", entity.ContractPolicy{})
	ctx := context.Background()

	ipc1 := certify(t, svc, assemble(t, svc, c, 1, "100").ID)
	_, err := svc.Workflow.Dispute(ctx, ipc1.ID, &ReasonRequest{Reason: "rate query"}, approver)
	require.NoError(t, err)

	ipc1, err = svc.Workflow.ResolveDispute(ctx, ipc1.ID, &ReasonRequest{Reason: "agreed at site meeting"}, approver)
	require.NoError(t, err)
	assert.Equal(t, entity.DisputeReconciled, ipc1.DisputeResolution)
	assert.Equal(t, entity.IPCStatusDisputed, ipc1.Status)

	_, err = svc.Workflow.ResolveDispute(ctx, ipc1.ID, &ReasonRequest{Reason: "again"}, approver)
	require.ErrorIs(t, err, apperr.ErrState)

	ipc2 := assemble(t, svc, c, 2, "100")
	assert.Equal(t, "100", ipc2.Lines[0].PreviousQty.String())
}

func TestWorkflow_ReopenAndCancel(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "DSP-3", entity.ContractPolicy{})
	ctx := context.Background()

	ipc := assemble(t, svc, c, 1, "100")
	_, err := svc.Workflow.Submit(ctx, ipc.ID, preparer)
	require.NoError(t, err)
	_, err = svc.Workflow.Cancel(ctx, ipc.ID, &ReasonRequest{Reason: "wrong period"}, preparer)
	require.ErrorIs(t, err, apperr.ErrState)

	_, err = svc.Workflow.Dispute(ctx, ipc.ID, &ReasonRequest{Reason: "incomplete"}, approver)
	require.NoError(t, err)
	ipc, err = svc.Workflow.Reopen(ctx, ipc.ID, preparer)
	require.NoError(t, err)
	assert.Equal(t, entity.IPCStatusDraft, ipc.Status)

	ipc, err = svc.Workflow.Cancel(ctx, ipc.ID, &ReasonRequest{Reason: "wrong period"}, preparer)
	require.NoError(t, err)
	assert.Equal(t, entity.IPCStatusCancelled, ipc.Status)

	// cancelled certificates leave the chain; the next sequence starts from nothing
	ipc2 := assemble(t, svc, c, 2, "100")
	assert.True(t, ipc2.Lines[0].PreviousQty.IsZero())

	history, err := svc.Query.History(ctx, ipc.ID)
	require.NoError(t, err)
	var events []string
	for _, h := range history {
		events = append(events, h.Event)
	}
	assert.Equal(t, "assemble,submit,dispute,reopen,cancel", strings.Join(events, ","))
}
