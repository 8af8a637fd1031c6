package investments

import (
	"bytes"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet     = "Summary"
	investmentsSheet = "Investments"
	returnsSheet     = "Returns"
	moneyFormat      = "#,##0.00"
)

// sheetStyles holds the style ids shared by every sheet of a workbook
type sheetStyles struct {
	header int
	data   int
	money  int
	date   int
}

// ExportPortfolio renders the summary and every position as an XLSX workbook
func ExportPortfolio(summary *PortfolioSummary, list []Investment) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	styles, err := newSheetStyles(file)
	if err != nil {
		return nil, err
	}
	if err := file.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeSummary(file, styles, summary); err != nil {
		return nil, err
	}

	invRows := make([][]any, 0, len(list))
	var retRows [][]any
	for i := range list {
		inv := &list[i]
		var maturity any
		if inv.MaturityDate != nil {
			maturity = *inv.MaturityDate
		}
		invRows = append(invRows, []any{
			inv.ID.String(),
			inv.ProjectID.String(),
			inv.InvestmentType,
			inv.Status,
			inv.Currency,
			inv.Amount,
			inv.ExpectedReturns.AnnualRate,
			inv.TermMonths,
			inv.ExpectedReturns.TotalExpectedReturn,
			inv.ExpectedReturns.PaybackPeriodMonths,
			inv.TotalReturnsReceived(),
			inv.ROIPercentage(),
			inv.CreatedAt,
			maturity,
		})
		for _, r := range inv.Returns {
			retRows = append(retRows, []any{
				inv.ID.String(),
				r.Seq,
				r.ReturnType,
				r.Status,
				inv.Currency,
				r.Amount,
				r.Date,
			})
		}
	}

	if err := writeTable(file, styles, investmentsSheet, []string{
		"Investment ID", "Project ID", "Type", "Status", "Currency", "Amount",
		"Annual Rate %", "Term (months)", "Expected Total", "Payback (months)",
		"Returns Received", "ROI %", "Opened", "Maturity",
	}, invRows); err != nil {
		return nil, err
	}
	if err := writeTable(file, styles, returnsSheet, []string{
		"Investment ID", "Seq", "Type", "Status", "Currency", "Amount", "Date",
	}, retRows); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func newSheetStyles(file *excelize.File) (sheetStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	numFmt := moneyFormat

	header, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"22784A"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    border,
	})
	if err != nil {
		return sheetStyles{}, fmt.Errorf("failed to create header style: %w", err)
	}
	data, err := file.NewStyle(&excelize.Style{Border: border})
	if err != nil {
		return sheetStyles{}, fmt.Errorf("failed to create data style: %w", err)
	}
	money, err := file.NewStyle(&excelize.Style{Border: border, CustomNumFmt: &numFmt})
	if err != nil {
		return sheetStyles{}, fmt.Errorf("failed to create money style: %w", err)
	}
	date, err := file.NewStyle(&excelize.Style{Border: border, NumFmt: 14})
	if err != nil {
		return sheetStyles{}, fmt.Errorf("failed to create date style: %w", err)
	}
	return sheetStyles{header: header, data: data, money: money, date: date}, nil
}

func writeSummary(file *excelize.File, styles sheetStyles, summary *PortfolioSummary) error {
	rows := [][]any{
		{"Investor", summary.InvestorID},
		{"Currency", summary.Currency},
		{"Investments", summary.Investments},
		{"Total invested", summary.TotalInvested},
		{"Total expected return", summary.TotalExpected},
		{"Total returns received", summary.TotalReturns},
		{"Average ROI %", summary.AverageROI},
	}
	for _, status := range []string{StatusPending, StatusActive, StatusCompleted, StatusDefaulted, StatusExited} {
		rows = append(rows, []any{"Status: " + status, summary.CountsByStatus[status]})
	}
	return writeTable(file, styles, summarySheet, []string{"Metric", "Value"}, rows)
}

// writeTable writes a header row and data rows, freezing the header and
// sizing columns to their content
func writeTable(file *excelize.File, styles sheetStyles, sheet string, columns []string, rows [][]any) error {
	if idx, _ := file.GetSheetIndex(sheet); idx < 0 {
		if _, err := file.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
	}

	widths := make([]float64, len(columns))
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		widths[i] = estimateWidth(col)
	}
	first, _ := excelize.CoordinatesToCellName(1, 1)
	last, _ := excelize.CoordinatesToCellName(len(columns), 1)
	if err := file.SetCellStyle(sheet, first, last, styles.header); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for r, row := range rows {
		for c, val := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			style, err := setCell(file, styles, sheet, cell, val)
			if err != nil {
				return err
			}
			if err := file.SetCellStyle(sheet, cell, cell, style); err != nil {
				return fmt.Errorf("failed to style cell %s: %w", cell, err)
			}
			if w := estimateWidth(val); c < len(widths) && w > widths[c] {
				widths[c] = w
			}
		}
	}

	if err := file.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if w < 10 {
			w = 10
		}
		if w > 50 {
			w = 50
		}
		if err := file.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("failed to size column %s: %w", col, err)
		}
	}
	return nil
}

func setCell(file *excelize.File, styles sheetStyles, sheet, cell string, val any) (int, error) {
	var err error
	style := styles.data
	switch v := val.(type) {
	case nil:
		err = file.SetCellValue(sheet, cell, "")
	case decimal.Decimal:
		f, _ := v.Float64()
		err = file.SetCellFloat(sheet, cell, f, 2, 64)
		style = styles.money
	case time.Time:
		err = file.SetCellValue(sheet, cell, v)
		style = styles.date
	default:
		err = file.SetCellValue(sheet, cell, v)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write cell %s: %w", cell, err)
	}
	return style, nil
}

func estimateWidth(val any) float64 {
	if val == nil {
		return 0
	}
	if t, ok := val.(time.Time); ok {
		return float64(len(t.Format("2006-01-02"))) * 1.2
	}
	return float64(len(fmt.Sprintf("%v", val))) * 1.2
}
