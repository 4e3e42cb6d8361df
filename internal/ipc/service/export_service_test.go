package service

import (
	"context"
	"testing"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport_Certificate(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "EX-1", entity.ContractPolicy{
		RetentionPercentage: dec("0.1"), MaxRetentionMode: "absolute", MaxRetentionValue: dec("100000"),
	})
	ipc := certify(t, svc, assemble(t, svc, c, 1, "400").ID)

	f, name, err := svc.Export.Certificate(context.Background(), ipc.ID)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, ipc.Code+".xlsx", name)
	assert.Equal(t, []string{"Summary", "BOQ Progress", "Materials", "Approvals"}, f.GetSheetList())

	code, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, ipc.Code, code)
	words, err := f.GetCellValue("Summary", "B16")
	require.NoError(t, err)
	assert.Equal(t, "thirty-six thousand USD", words)

	rows, err := f.GetRows("BOQ Progress")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "1.1", rows[1][0])
	assert.Equal(t, "Total", rows[2][0])

	approvals, err := f.GetRows("Approvals")
	require.NoError(t, err)
	assert.Len(t, approvals, 4)
}

func TestExport_MeasurementRoundTrip(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "EX-2", entity.ContractPolicy{})
	ctx := context.Background()

	f, name, err := svc.Export.MeasurementTemplate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Measurement_EX-2.xlsx", name)
	require.NoError(t, f.SetCellValue("Measurement", "E2", 250))

	progress, err := svc.Export.ParseMeasurement(ctx, c.ID, f)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, c.Items[0].ID, progress[0].BoqItemID)
	assert.Equal(t, "250", progress[0].CurrentQty.String())

	ipc, err := svc.Assembler.Assemble(ctx, &AssembleRequest{
		ContractID: c.ID, Sequence: 1, PeriodStart: "2025-01-01", PeriodEnd: "2025-01-31",
		Progress: progress, VATAmount: decPtr("0"),
	}, preparer)
	require.NoError(t, err)
	assert.Equal(t, "25000", ipc.GrossAmount.String())
}

func TestExport_MeasurementViolations(t *testing.T) {
	svc, _ := setupServices(t)
	c := createContract(t, svc, "EX-3", entity.ContractPolicy{})
	ctx := context.Background()

	f, _, err := svc.Export.MeasurementTemplate(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Measurement", "E2", "lots"))
	require.NoError(t, f.SetSheetRow("Measurement", "A3", &[]interface{}{"9.9", "Unknown", "m", 1, 5}))

	_, err = svc.Export.ParseMeasurement(ctx, c.ID, f)
	var violations apperr.Violations
	require.ErrorAs(t, err, &violations)
	require.Len(t, violations, 2)
	assert.ErrorIs(t, violations[0], apperr.ErrValidation)
	var unknown *calc.UnknownItemError
	assert.ErrorAs(t, violations[1], &unknown)
}

func TestAmountInWords(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"0", "USD", "zero USD"},
		{"40000.25", "USD", "forty thousand USD and 250/1000"},
		{"-12.5", "", "minus twelve and 500/1000"},
		{"7.0004", "EUR", "seven EUR"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, AmountInWords(dec(tt.amount), tt.currency))
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1,234,567.500", FormatAmount(dec("1234567.5")))
	assert.Equal(t, "-0.500", FormatAmount(dec("-0.5")))
	assert.Equal(t, "999.000", FormatAmount(dec("999")))
	assert.Equal(t, "-45,000.001", FormatAmount(dec("-45000.0006")))
}
