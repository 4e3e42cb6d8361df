package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/service/mocks"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func contractRequest(code string) *CreateContractRequest {
	return &CreateContractRequest{
		Code:  code,
		Title: "Water treatment plant",
		Items: []BoqItemInput{
			{ItemNo: "A1", Description: "Excavation", Unit: "m3", Quantity: dec("120.5"), Rate: dec("33.333")},
			{ItemNo: "A2", Description: "Concrete", Unit: "m3", Quantity: dec("40"), Rate: dec("250")},
		},
	}
}

func TestContract_CreateWithBondingPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	bonding := mocks.NewMockBondingService(ctrl)
	svc, _ := setupServices(t, func(d *Deps) { d.Bonding = bonding })

	bonding.EXPECT().Policy(gomock.Any(), "CT-1").Return(&entity.ContractPolicy{
		RetentionPercentage: dec("0.05"),
		MaxRetentionMode:    calc.MaxRetentionPercentage,
		MaxRetentionValue:   dec("0.05"),
	}, nil)

	c, err := svc.Contract.Create(context.Background(), "u-admin", contractRequest("CT-1"))
	require.NoError(t, err)
	assert.Equal(t, entity.ContractStatusActive, c.Status)
	assert.Equal(t, 1, c.PolicyVersion)
	assert.Equal(t, "0.05", c.RetentionPercentage.String())
	require.Len(t, c.Items, 2)
	// 120.5 × 33.333 = 4016.6265 → 4016.627
	assert.Equal(t, "4016.627", c.Items[0].ContractAmount.String())
	assert.Equal(t, "14016.627", c.ContractValue.String())
	assert.Equal(t, entity.PriceAdjustmentDisabled, c.PriceAdjustmentStatus)
	assert.Equal(t, "700.831", c.MaxRetention().StringFixed(3))
}

func TestContract_CreateFailures(t *testing.T) {
	t.Run("bonding unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		bonding := mocks.NewMockBondingService(ctrl)
		svc, _ := setupServices(t, func(d *Deps) { d.Bonding = bonding })
		bonding.EXPECT().Policy(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

		_, err := svc.Contract.Create(context.Background(), "u-admin", contractRequest("CT-2"))
		require.ErrorIs(t, err, apperr.ErrDependency)
	})

	t.Run("no policy source", func(t *testing.T) {
		svc, _ := setupServices(t)
		_, err := svc.Contract.Create(context.Background(), "u-admin", contractRequest("CT-3"))
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("invalid policy reports every field", func(t *testing.T) {
		svc, _ := setupServices(t)
		req := contractRequest("CT-4")
		req.Policy = &entity.ContractPolicy{
			RetentionPercentage: dec("1.5"),
			MaxRetentionMode:    "ratio",
			AdvanceAmount:       dec("-1"),
		}
		_, err := svc.Contract.Create(context.Background(), "u-admin", req)
		var violations apperr.Violations
		require.ErrorAs(t, err, &violations)
		assert.Len(t, violations, 3)
	})

	t.Run("duplicate code", func(t *testing.T) {
		svc, _ := setupServices(t)
		createContract(t, svc, "CT-5", entity.ContractPolicy{})
		req := contractRequest("CT-5")
		req.Policy = &entity.ContractPolicy{MaxRetentionMode: calc.MaxRetentionAbsolute}
		_, err := svc.Contract.Create(context.Background(), "u-admin", req)
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("tolerance below one", func(t *testing.T) {
		svc, _ := setupServices(t)
		req := contractRequest("CT-6")
		req.Policy = &entity.ContractPolicy{MaxRetentionMode: calc.MaxRetentionAbsolute}
		req.QuantityTolerance = decPtr("0.9")
		_, err := svc.Contract.Create(context.Background(), "u-admin", req)
		require.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestContract_AmendPolicyRecordsAmendment(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "CT-7", entity.ContractPolicy{})
	ctx := context.Background()

	amended, err := svc.Contract.AmendPolicy(ctx, c.ID, &AmendPolicyRequest{
		PriceElements: &[]PriceElementInput{
			{ElementType: "fixed", Weight: dec("0.3")},
			{ElementType: "labor", IndexCode: "LAB", Weight: dec("0.7"), BaseIndex: dec("100")},
		},
		Reason: "escalation clause added",
	}, approver)
	require.NoError(t, err)
	assert.Equal(t, 2, amended.PolicyVersion)
	assert.Equal(t, entity.PriceAdjustmentValid, amended.PriceAdjustmentStatus)

	amendments, err := svc.Contract.Amendments(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, amendments, 1)
	assert.Equal(t, 1, amendments[0].FromVersion)
	assert.Equal(t, 2, amendments[0].ToVersion)

	_, err = svc.Contract.AmendPolicy(ctx, c.ID, &AmendPolicyRequest{Reason: "nothing"}, approver)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestVariation_ExtendsAuthorizedQuantity(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "VO-1", entity.ContractPolicy{})
	ctx := context.Background()

	_, err := svc.Assembler.Assemble(ctx, periodRequest(c, 1, "1100"), preparer)
	var overrun *calc.OverrunError
	require.ErrorAs(t, err, &overrun)

	vo, err := svc.Contract.CreateVariation(ctx, c.ID, &CreateVariationRequest{
		Code:               "VO-001",
		BoqItemID:          c.Items[0].ID,
		AdditionalQuantity: dec("200"),
		RevisedRate:        decPtr("110"),
		Reason:             "unforeseen rock",
	}, approver)
	require.NoError(t, err)
	assert.Equal(t, entity.VariationStatusPending, vo.Status)
	assert.Equal(t, "22000", vo.Amount.String())

	_, err = svc.Assembler.Assemble(ctx, periodRequest(c, 1, "1100"), preparer)
	require.ErrorAs(t, err, &overrun)

	_, err = svc.Contract.ApproveVariation(ctx, vo.ID, approver)
	require.NoError(t, err)
	_, err = svc.Contract.ApproveVariation(ctx, vo.ID, approver)
	require.ErrorIs(t, err, apperr.ErrState)

	ipc := assemble(t, svc, c, 1, "1100")
	require.Len(t, ipc.Lines, 1)
	assert.Equal(t, "1200", ipc.Lines[0].AuthorizedQty.String())
	assert.Equal(t, "110", ipc.Lines[0].Rate.String())
	assert.Equal(t, "121000", ipc.GrossAmount.String())
}

func TestVariation_NewItem(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "VO-2", entity.ContractPolicy{})
	ctx := context.Background()

	_, err := svc.Contract.CreateVariation(ctx, c.ID, &CreateVariationRequest{
		Code: "VO-002", AdditionalQuantity: dec("10"),
	}, approver)
	require.ErrorIs(t, err, apperr.ErrValidation)

	vo, err := svc.Contract.CreateVariation(ctx, c.ID, &CreateVariationRequest{
		Code:               "VO-003",
		Description:        "Guard rail",
		AdditionalQuantity: dec("50"),
		RevisedRate:        decPtr("40"),
		NewItemNo:          "9.1",
		NewItemUnit:        "m",
	}, approver)
	require.NoError(t, err)
	vo, err = svc.Contract.ApproveVariation(ctx, vo.ID, approver)
	require.NoError(t, err)
	require.NotEmpty(t, vo.BoqItemID)

	c, err = svc.Contract.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, c.Items, 2)
	added := findItem(c, vo.BoqItemID)
	require.NotNil(t, added)
	assert.Equal(t, "9.1", added.ItemNo)

	req := periodRequest(c, 1, "0")
	req.Progress = append(req.Progress, calc.ItemProgress{BoqItemID: added.ID, CurrentQty: dec("50")})
	ipc, err := svc.Assembler.Assemble(ctx, req, preparer)
	require.NoError(t, err)
	assert.Equal(t, "2000", ipc.GrossAmount.String())
}

func TestVariation_RejectedHasNoEffect(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "VO-3", entity.ContractPolicy{})
	ctx := context.Background()

	vo, err := svc.Contract.CreateVariation(ctx, c.ID, &CreateVariationRequest{
		Code: "VO-004", BoqItemID: c.Items[0].ID, AdditionalQuantity: dec("500"),
	}, approver)
	require.NoError(t, err)
	vo, err = svc.Contract.RejectVariation(ctx, vo.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, entity.VariationStatusRejected, vo.Status)

	_, err = svc.Assembler.Assemble(ctx, periodRequest(c, 1, "1001"), preparer)
	var overrun *calc.OverrunError
	require.ErrorAs(t, err, &overrun)
}
