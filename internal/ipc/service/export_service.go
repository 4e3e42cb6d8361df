package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/divan/num2words"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportService 证书导出与计量表导入
type ExportService struct {
	db     *gorm.DB
	engine *engine.Engine
}

func NewExportService(db *gorm.DB, eng *engine.Engine) *ExportService {
	return &ExportService{db: db, engine: eng}
}

var progressHeaders = []string{
	"Item", "Unit", "Authorized Qty", "Rate", "Previous Qty", "Current Qty",
	"Cumulative Qty", "Remaining Qty", "Previous Amount", "Current Amount", "Cumulative Amount",
}

var materialHeaders = []string{
	"Material", "Description", "Quantity", "Unit Rate", "Delivered Value", "Claim %",
	"Claimed Value", "Previous Claimed", "Current Amount", "Incorporated",
}

var approvalHeaders = []string{"Round", "Level", "Role", "Decision", "Approver", "Comment", "Decided At"}

// Certificate 导出证书为 xlsx：汇总、清单计量、现场材料、审批
func (s *ExportService) Certificate(ctx context.Context, id string) (*excelize.File, string, error) {
	repos := repository.NewRepositories(s.db)
	ipc, err := repos.Certificate.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	contract, err := repos.Contract.FindByID(ctx, ipc.ContractID)
	if err != nil {
		return nil, "", err
	}
	approvals, err := s.engine.Approvals(ctx, s.db, ipc.Ref(), 0)
	if err != nil {
		return nil, "", fmt.Errorf("list approvals: %w", err)
	}

	f := excelize.NewFile()
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	moneyStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4})
	boldStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})

	// 汇总
	sheet := "Summary"
	f.SetSheetName("Sheet1", sheet)
	summary := [][2]interface{}{
		{"Certificate", ipc.Code},
		{"Contract", contract.Code + " " + contract.Title},
		{"Contractor", contract.ContractorName},
		{"Period", ipc.PeriodStart.Format("2006-01-02") + " to " + ipc.PeriodEnd.Format("2006-01-02")},
		{"Status", ipc.Status},
		{"BOQ work", ipc.BoqWorkAmount.InexactFloat64()},
		{"Materials on site", ipc.MaterialsAmount.InexactFloat64()},
		{"Gross amount", ipc.GrossAmount.InexactFloat64()},
		{"Less retention", ipc.RetentionAmount.InexactFloat64()},
		{"Less advance recovery", ipc.AdvanceRecoveryAmount.InexactFloat64()},
		{"Price adjustment", ipc.PriceAdjustmentAmount.InexactFloat64()},
		{"Less VAT", ipc.VATAmount.InexactFloat64()},
		{"Net amount", ipc.NetAmount.InexactFloat64()},
		{"Previously certified", ipc.PreviousCertified.InexactFloat64()},
		{"Cumulative certified", ipc.CurrentCertified.InexactFloat64()},
		{"Amount in words", AmountInWords(ipc.NetAmount, contract.Currency)},
	}
	for i, row := range summary {
		r := i + 1
		f.SetCellValue(sheet, fmt.Sprintf("A%d", r), row[0])
		f.SetCellValue(sheet, fmt.Sprintf("B%d", r), row[1])
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", r), fmt.Sprintf("A%d", r), boldStyle)
		if _, isNum := row[1].(float64); isNum {
			f.SetCellStyle(sheet, fmt.Sprintf("B%d", r), fmt.Sprintf("B%d", r), moneyStyle)
		}
	}
	f.SetColWidth(sheet, "A", "A", 24)
	f.SetColWidth(sheet, "B", "B", 60)

	// 清单计量
	sheet = "BOQ Progress"
	f.NewSheet(sheet)
	writeHeader(f, sheet, progressHeaders, headerStyle)
	for i, l := range ipc.Lines {
		r := i + 2
		values := []interface{}{
			l.ItemNo, l.Unit, l.AuthorizedQty.InexactFloat64(), l.Rate.InexactFloat64(),
			l.PreviousQty.InexactFloat64(), l.CurrentQty.InexactFloat64(), l.CumulativeQty.InexactFloat64(),
			l.RemainingQty.InexactFloat64(), l.PreviousAmount.InexactFloat64(), l.CurrentAmount.InexactFloat64(),
			l.CumulativeAmount.InexactFloat64(),
		}
		writeRow(f, sheet, r, values)
	}
	total := len(ipc.Lines) + 2
	f.SetCellValue(sheet, fmt.Sprintf("A%d", total), "Total")
	f.SetCellValue(sheet, fmt.Sprintf("J%d", total), ipc.BoqWorkAmount.InexactFloat64())
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", total), fmt.Sprintf("K%d", total), boldStyle)
	setWidths(f, sheet, []float64{10, 8, 14, 12, 14, 14, 14, 14, 16, 16, 16})

	// 现场材料
	sheet = "Materials"
	f.NewSheet(sheet)
	writeHeader(f, sheet, materialHeaders, headerStyle)
	for i, m := range ipc.Materials {
		incorporated := "No"
		if m.IsIncorporated {
			incorporated = "Yes"
		}
		writeRow(f, sheet, i+2, []interface{}{
			m.MaterialCode, m.Description, m.Quantity.InexactFloat64(), m.UnitRate.InexactFloat64(),
			m.DeliveredValue.InexactFloat64(), m.ClaimPercentage.InexactFloat64(), m.ClaimedValue.InexactFloat64(),
			m.PreviousClaimedValue.InexactFloat64(), m.CurrentAmount.InexactFloat64(), incorporated,
		})
	}
	setWidths(f, sheet, []float64{14, 24, 12, 12, 16, 10, 16, 16, 16, 12})

	// 审批
	sheet = "Approvals"
	f.NewSheet(sheet)
	writeHeader(f, sheet, approvalHeaders, headerStyle)
	for i, a := range approvals {
		decided := ""
		if a.DecidedAt != nil {
			decided = a.DecidedAt.Format("2006-01-02 15:04")
		}
		approver := a.ApproverName
		if approver == "" {
			approver = a.ApproverID
		}
		writeRow(f, sheet, i+2, []interface{}{a.Round, a.ApprovalLevel, a.Role, a.Decision, approver, a.Comment, decided})
	}
	setWidths(f, sheet, []float64{8, 8, 24, 12, 20, 30, 18})

	filename := fmt.Sprintf("%s.xlsx", ipc.Code)
	return f, filename, nil
}

// MeasurementTemplate 导出计量表模板：每个清单项一行，填写本期工程量
func (s *ExportService) MeasurementTemplate(ctx context.Context, contractID string) (*excelize.File, string, error) {
	contract, err := repository.NewContractRepository(s.db).FindByID(ctx, contractID)
	if err != nil {
		return nil, "", err
	}
	f := excelize.NewFile()
	sheet := "Measurement"
	f.SetSheetName("Sheet1", sheet)
	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	writeHeader(f, sheet, []string{"Item", "Description", "Unit", "Rate", "Current Qty"}, headerStyle)
	for i, it := range contract.Items {
		writeRow(f, sheet, i+2, []interface{}{it.ItemNo, it.Description, it.Unit, effectiveRate(contract, it).InexactFloat64()})
	}
	setWidths(f, sheet, []float64{10, 40, 8, 12, 14})
	return f, fmt.Sprintf("Measurement_%s.xlsx", contract.Code), nil
}

// ParseMeasurement 读取计量表，按清单编号匹配清单项。空白数量视为本期无进度
func (s *ExportService) ParseMeasurement(ctx context.Context, contractID string, f *excelize.File) ([]calc.ItemProgress, error) {
	contract, err := repository.NewContractRepository(s.db).FindByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	byNo := make(map[string]string, len(contract.Items))
	for _, it := range contract.Items {
		byNo[it.ItemNo] = it.ID
	}

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read measurement sheet: %w", err)
	}
	var progress []calc.ItemProgress
	var violations apperr.Violations
	for i, row := range rows {
		if i == 0 || len(row) < 5 || strings.TrimSpace(row[4]) == "" {
			continue
		}
		itemNo := strings.TrimSpace(row[0])
		id, ok := byNo[itemNo]
		if !ok {
			violations = append(violations, &calc.UnknownItemError{ItemID: itemNo})
			continue
		}
		qty, err := decimal.NewFromString(strings.TrimSpace(row[4]))
		if err != nil {
			violations = append(violations, apperr.Invalid(fmt.Sprintf("row %d", i+1), "quantity %q is not a number", row[4]))
			continue
		}
		progress = append(progress, calc.ItemProgress{BoqItemID: id, CurrentQty: qty})
	}
	if len(violations) > 0 {
		return nil, violations
	}
	return progress, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) {
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, style)
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) {
	for i, v := range values {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), v)
	}
}

func setWidths(f *excelize.File, sheet string, widths []float64) {
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
}

// AmountInWords spells an amount for the certificate, e.g. "forty thousand USD and 250/1000".
func AmountInWords(amount decimal.Decimal, currency string) string {
	amount = calc.Round(amount)
	var b strings.Builder
	if amount.IsNegative() {
		b.WriteString("minus ")
		amount = amount.Neg()
	}
	whole := amount.IntPart()
	b.WriteString(num2words.Convert(int(whole)))
	if currency != "" {
		b.WriteString(" " + currency)
	}
	frac := amount.Sub(decimal.NewFromInt(whole)).Shift(calc.Scale).IntPart()
	if frac > 0 {
		fmt.Fprintf(&b, " and %d/1000", frac)
	}
	return b.String()
}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount groups thousands and keeps three decimals, e.g. "1,234,567.500".
func FormatAmount(d decimal.Decimal) string {
	fixed := calc.Round(d).StringFixed(calc.Scale)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	n, err := decimal.NewFromString(whole)
	if err != nil {
		return sign + fixed
	}
	return sign + amountPrinter.Sprintf("%d", n.IntPart()) + "." + frac
}
