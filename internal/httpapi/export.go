package httpapi

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"shopledger/backend/internal/domain"
)

var historyHeader = []string{"id", "committed_at", "barcode", "category", "brand", "size", "quantity", "unit_price", "total"}

func salesReportToCSV(report domain.SalesReport) ([]byte, error) {
	var buf bytes.Buffer
	out := csv.NewWriter(&buf)

	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "window", report.Window},
		{"summary", "from", report.From.Format(time.RFC3339)},
		{"summary", "to", report.To.Format(time.RFC3339)},
		{"summary", "revenue_total", report.RevenueTotal.StringFixed(2)},
		{"summary", "transactions", strconv.Itoa(report.Transactions)},
		{"summary", "items_sold", strconv.Itoa(report.ItemsSold)},
	}
	for _, brand := range report.ByBrand {
		rows = append(rows, []string{"brand", brand.Brand, brand.Amount.StringFixed(2)})
	}
	if err := out.WriteAll(rows); err != nil {
		return nil, err
	}

	// History follows as its own table after a blank line.
	if err := out.Write(nil); err != nil {
		return nil, err
	}
	if err := out.Write(historyHeader); err != nil {
		return nil, err
	}
	for _, row := range report.History {
		if err := out.Write(historyRecord(row)); err != nil {
			return nil, err
		}
	}
	out.Flush()
	return buf.Bytes(), out.Error()
}

func historyRecord(row domain.LedgerRow) []string {
	return []string{
		strconv.FormatInt(row.ID, 10),
		row.CommittedAt.Format(time.RFC3339),
		row.Barcode,
		row.Category,
		row.Brand,
		row.Size,
		strconv.Itoa(row.Quantity),
		row.UnitPrice.StringFixed(2),
		row.Total.StringFixed(2),
	}
}

// salesReportToXLSX renders the report as a workbook with Summary, Brands and
// History sheets.
func salesReportToXLSX(report domain.SalesReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	summaryRows := [][]any{
		{"Window", report.Window},
		{"From", report.From.Format(time.RFC3339)},
		{"To", report.To.Format(time.RFC3339)},
		{"Revenue", report.RevenueTotal.InexactFloat64()},
		{"Transactions", report.Transactions},
		{"Items sold", report.ItemsSold},
		{"Generated at", report.GeneratedAt.Format(time.RFC3339)},
	}
	if err := writeSheetRows(f, summary, summaryRows); err != nil {
		return nil, err
	}

	brandRows := [][]any{{"Brand", "Revenue"}}
	for _, brand := range report.ByBrand {
		brandRows = append(brandRows, []any{brand.Brand, brand.Amount.InexactFloat64()})
	}
	if _, err := f.NewSheet("Brands"); err != nil {
		return nil, err
	}
	if err := writeSheetRows(f, "Brands", brandRows); err != nil {
		return nil, err
	}

	header := make([]any, len(historyHeader))
	for i, h := range historyHeader {
		header[i] = h
	}
	historyRows := [][]any{header}
	for _, row := range report.History {
		historyRows = append(historyRows, []any{
			row.ID,
			row.CommittedAt.Format(time.RFC3339),
			row.Barcode,
			row.Category,
			row.Brand,
			row.Size,
			row.Quantity,
			row.UnitPrice.InexactFloat64(),
			row.Total.InexactFloat64(),
		})
	}
	if _, err := f.NewSheet("History"); err != nil {
		return nil, err
	}
	if err := writeSheetRows(f, "History", historyRows); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheetRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
