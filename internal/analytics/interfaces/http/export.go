package http

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"autovolt-cloud/internal/analytics/application"
)

// BuildMonthlyReportXLSX renders a monthly classroom summary workbook.
func BuildMonthlyReportXLSX(summary *application.MonthlySummary) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	daysSheet := "days"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(daysSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Monthly Energy Report")
	_ = f.SetCellValue(summarySheet, "A3", "Classroom")
	_ = f.SetCellValue(summarySheet, "B3", summary.Classroom)
	_ = f.SetCellValue(summarySheet, "A4", "Month")
	_ = f.SetCellValue(summarySheet, "B4", summary.Month)
	_ = f.SetCellValue(summarySheet, "A5", "Timezone")
	_ = f.SetCellValue(summarySheet, "B5", summary.Timezone)
	_ = f.SetCellValue(summarySheet, "A6", "Total Energy (kWh)")
	_ = f.SetCellValue(summarySheet, "B6", summary.TotalKWh)
	_ = f.SetCellValue(summarySheet, "A7", "Total Cost")
	_ = f.SetCellValue(summarySheet, "B7", summary.TotalCost)
	_ = f.SetCellValue(summarySheet, "A8", "Currency")
	_ = f.SetCellValue(summarySheet, "B8", summary.Currency)
	_ = f.SetCellValue(summarySheet, "A9", "On Time (hours)")
	_ = f.SetCellValue(summarySheet, "B9", summary.OnTimeHours)

	_ = f.SetCellValue(daysSheet, "A1", "Date")
	_ = f.SetCellValue(daysSheet, "B1", "Energy (Wh)")
	_ = f.SetCellValue(daysSheet, "C1", "Cost")
	for i, day := range summary.DailyTotals {
		row := i + 2
		_ = f.SetCellValue(daysSheet, fmt.Sprintf("A%d", row), day.Date)
		_ = f.SetCellValue(daysSheet, fmt.Sprintf("B%d", row), day.TotalWh)
		_ = f.SetCellValue(daysSheet, fmt.Sprintf("C%d", row), day.Cost)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildMonthlyReportPDF renders a monthly classroom summary PDF.
func BuildMonthlyReportPDF(summary *application.MonthlySummary) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Monthly Energy Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Classroom: %s", summary.Classroom))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Month: %s", summary.Month))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Timezone: %s", summary.Timezone))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Energy (kWh): %.3f", summary.TotalKWh))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Cost (%s): %.2f", summary.Currency, summary.TotalCost))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("On Time (hours): %.1f", summary.OnTimeHours))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Energy (Wh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Cost", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, day := range summary.DailyTotals {
		pdf.CellFormat(40, 6, day.Date, "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.1f", day.TotalWh), "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.2f", day.Cost), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
