package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/config"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/bitfantasy/nimo-ipc/internal/shared/lock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	preparer = engine.Actor{ID: "u-qs", Name: "QS", Role: "quantity_surveyor"}
	approver = engine.Actor{ID: "u-er", Name: "Employer Rep", Role: "employer_representative"}
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	// concurrent readers wait for the writer instead of failing with SQLITE_BUSY
	dsn := filepath.Join(t.TempDir(), "ipc.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, entity.AutoMigrate(db))
	return db
}

// setupServices wires the services on a fresh sqlite database with the memory locker.
func setupServices(t *testing.T, opts ...func(*Deps)) (*Services, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	wf, err := config.LoadWorkflows("")
	require.NoError(t, err)

	d := Deps{
		DB:        db,
		Locker:    lock.NewMemoryLocker(lock.Options{Timeout: 2 * time.Second}),
		Workflows: wf,
	}
	for _, opt := range opts {
		opt(&d)
	}
	svc, err := NewServices(d)
	require.NoError(t, err)
	return svc, db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// decimalEq matches a decimal argument by value regardless of its scale.
type decimalEq decimal.Decimal

func (m decimalEq) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(decimal.Decimal(m))
}

func (m decimalEq) String() string { return "equals " + decimal.Decimal(m).String() }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// createContract creates a one-item contract of 1000 units at 100.
func createContract(t *testing.T, svc *Services, code string, policy entity.ContractPolicy) *entity.Contract {
	t.Helper()
	if policy.MaxRetentionMode == "" {
		policy.MaxRetentionMode = calc.MaxRetentionAbsolute
	}
	c, err := svc.Contract.Create(context.Background(), "u-admin", &CreateContractRequest{
		Code:  code,
		Title: "Ring road " + code,
		Items: []BoqItemInput{
			{ItemNo: "1.1", Description: "Earthworks", Unit: "m3", Quantity: dec("1000"), Rate: dec("100")},
		},
		Policy: &policy,
	})
	require.NoError(t, err)
	return c
}

// assemble builds certificate seq with qty units on the first item, one month per period.
func assemble(t *testing.T, svc *Services, c *entity.Contract, seq int, qty string) *entity.InterimPaymentCertificate {
	t.Helper()
	ipc, err := svc.Assembler.Assemble(context.Background(), periodRequest(c, seq, qty), preparer)
	require.NoError(t, err)
	return ipc
}

func periodRequest(c *entity.Contract, seq int, qty string) *AssembleRequest {
	start := time.Date(2025, time.Month(seq), 1, 0, 0, 0, 0, time.UTC)
	return &AssembleRequest{
		ContractID:  c.ID,
		Sequence:    seq,
		PeriodStart: start.Format("2006-01-02"),
		PeriodEnd:   start.AddDate(0, 1, -1).Format("2006-01-02"),
		Progress:    []calc.ItemProgress{{BoqItemID: c.Items[0].ID, CurrentQty: dec(qty)}},
		VATAmount:   decPtr("0"),
	}
}

// approveAll submits the certificate and approves every level of the new round.
func approveAll(t *testing.T, svc *Services, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Workflow.Submit(ctx, id, preparer)
	require.NoError(t, err)
	for level := 1; level <= 3; level++ {
		_, err := svc.Workflow.RecordDecision(ctx, id, &DecisionRequest{Level: level, Decision: engine.DecisionApproved}, approver)
		require.NoError(t, err, fmt.Sprintf("approve level %d", level))
	}
}

func certify(t *testing.T, svc *Services, id string) *entity.InterimPaymentCertificate {
	t.Helper()
	approveAll(t, svc, id)
	ipc, err := svc.Workflow.Certify(context.Background(), id, approver)
	require.NoError(t, err)
	return ipc
}

func pay(t *testing.T, svc *Services, ipc *entity.InterimPaymentCertificate) {
	t.Helper()
	_, err := svc.Payment.RecordPayment(context.Background(), ipc.ID, &RecordPaymentRequest{
		Reference: "PAY-" + ipc.Code,
		Amount:    ipc.NetAmount,
	}, approver)
	require.NoError(t, err)
}
