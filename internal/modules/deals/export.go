package deals

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

var exportHeader = []string{
	"listing_id", "source", "title", "url", "category", "price", "currency", "fair_price",
	"avg_price", "median_price", "comp_count", "discount_vs_avg_pct", "discount_vs_median_pct", "stale",
}

func (d *Deal) row() []string {
	return []string{
		strconv.FormatInt(d.ListingID, 10),
		d.Source,
		d.Title,
		d.URL,
		d.Category,
		d.Price.StringFixed(2),
		string(d.Currency),
		d.FairPrice.StringFixed(2),
		d.AvgPrice.StringFixed(2),
		d.MedianPrice.StringFixed(2),
		strconv.Itoa(d.ComparableCount),
		strconv.FormatFloat(d.DiscountVsAvgPct, 'f', 2, 64),
		strconv.FormatFloat(d.DiscountVsMedianPct, 'f', 2, 64),
		strconv.FormatBool(d.Stale),
	}
}

// WriteCSV writes deals as CSV with a header row
func WriteCSV(w io.Writer, deals []Deal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for i := range deals {
		if err := cw.Write(deals[i].row()); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

const sheetName = "Deals"

// WriteXLSX writes deals as a single-sheet workbook. Numeric columns are
// stored as numbers so they sort and sum in a spreadsheet.
func WriteXLSX(w io.Writer, deals []Deal) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := range deals {
		d := &deals[i]
		row := []interface{}{
			d.ListingID, d.Source, d.Title, d.URL, d.Category,
			d.Price.InexactFloat64(), string(d.Currency), d.FairPrice.InexactFloat64(),
			d.AvgPrice.InexactFloat64(), d.MedianPrice.InexactFloat64(), d.ComparableCount,
			d.DiscountVsAvgPct, d.DiscountVsMedianPct, d.Stale,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
