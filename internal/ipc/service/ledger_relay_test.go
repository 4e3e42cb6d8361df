package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service/mocks"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"
)

func seedPosting(t *testing.T, db *gorm.DB, id string, created time.Time) {
	t.Helper()
	require.NoError(t, repository.NewLedgerRepository(db).Create(context.Background(), &entity.LedgerPosting{
		ID:            id,
		CertificateID: "cert-" + id,
		Round:         1,
		ContractID:    "contract-1",
		Currency:      "USD",
		Lines:         []byte(`[]`),
		TotalDebit:    dec("100"),
		TotalCredit:   dec("100"),
		Status:        entity.PostingStatusPending,
		CreatedAt:     created,
	}))
}

func TestLedgerRelay_ContinuesPastFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockLedgerSink(ctrl)
	svc, db := setupServices(t, func(d *Deps) { d.Ledger = sink })
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seedPosting(t, db, "p1", base)
	seedPosting(t, db, "p2", base.Add(time.Minute))

	gomock.InOrder(
		sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, p *entity.LedgerPosting) error {
				assert.Equal(t, "p1", p.ID)
				return errors.New("throttled")
			}),
		sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(nil),
	)

	res, err := svc.Relay.Relay(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, res.Failed)

	var p1, p2 entity.LedgerPosting
	require.NoError(t, db.First(&p1, "id = ?", "p1").Error)
	require.NoError(t, db.First(&p2, "id = ?", "p2").Error)
	assert.Equal(t, entity.PostingStatusPending, p1.Status)
	assert.Equal(t, 1, p1.Attempts)
	assert.Equal(t, "throttled", p1.LastError)
	assert.Equal(t, entity.PostingStatusDispatched, p2.Status)
	assert.NotNil(t, p2.DispatchedAt)

	// the failed posting is retried on the next pass
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(nil)
	res, err = svc.Relay.Relay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
	assert.Zero(t, res.Failed)
}

func TestLedgerRelay_CertifiedPosting(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockLedgerSink(ctrl)
	svc, _ := setupServices(t, func(d *Deps) { d.Ledger = sink })
	c := createContract(t, svc, "LR-1", entity.ContractPolicy{})
	ipc := certify(t, svc, assemble(t, svc, c, 1, "10").ID)

	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *entity.LedgerPosting) error {
			assert.Equal(t, ipc.ID, p.CertificateID)
			assert.True(t, p.TotalDebit.Equal(p.TotalCredit))
			return nil
		})
	res, err := svc.Relay.Relay(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
}

func TestLedgerRelay_RequiresSink(t *testing.T) {
	svc, _ := setupServices(t)
	_, err := svc.Relay.Relay(context.Background(), 10)
	require.ErrorIs(t, err, apperr.ErrDependency)
}
