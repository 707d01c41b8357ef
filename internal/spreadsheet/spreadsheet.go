// Package spreadsheet reads bulk inventory files and writes catalog exports.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"pharmacy-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
)

// Columns of the import schema, in template order
var Columns = []string{
	"name",
	"therapeutic_category",
	"manufacturing_date",
	"expiring_date",
	"dosage_form",
	"price",
	"stock_quantity",
}

// ContentType is the MIME type of generated workbooks
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const dateLayout = "2006-01-02"

var (
	// ErrNoSheet is returned for a workbook without worksheets
	ErrNoSheet = errors.New("workbook has no sheets")

	dateLayouts = []string{dateLayout, "2006/01/02", "02/01/2006", "01-02-06", "1/2/06", "2006-01-02 15:04:05"}
)

// MissingColumnsError lists required header columns absent from the first row
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing columns: " + strings.Join(e.Columns, ", ")
}

// Parse reads the first sheet of an xlsx workbook. Rows with a missing or malformed
// value are returned as rejects and never reach duplicate resolution.
func Parse(data []byte) ([]models.ImportRecord, []models.ImportReject, error) {
	file, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	if len(file.Sheets) == 0 {
		return nil, nil, ErrNoSheet
	}
	sheet := file.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil, &MissingColumnsError{Columns: Columns}
	}

	index, err := headerIndex(sheet.Rows[0])
	if err != nil {
		return nil, nil, err
	}

	var (
		records  []models.ImportRecord
		rejected []models.ImportReject
	)
	for i := 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		if row == nil || blank(row) {
			continue
		}
		rowNum := i + 1

		rec, reason := parseRow(row, index, file.Date1904)
		if reason != "" {
			rejected = append(rejected, models.ImportReject{Row: rowNum, Reason: reason})
			continue
		}
		rec.Row = rowNum
		records = append(records, *rec)
	}
	return records, rejected, nil
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

func headerIndex(row *xlsx.Row) (map[string]int, error) {
	index := make(map[string]int, len(Columns))
	for i, cell := range row.Cells {
		name := normalizeHeader(cell.String())
		if _, dup := index[name]; name != "" && !dup {
			index[name] = i
		}
	}

	var missing []string
	for _, c := range Columns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}
	return index, nil
}

func blank(row *xlsx.Row) bool {
	for _, c := range row.Cells {
		if strings.TrimSpace(c.String()) != "" {
			return false
		}
	}
	return true
}

func cellAt(row *xlsx.Row, i int) *xlsx.Cell {
	if i < len(row.Cells) {
		return row.Cells[i]
	}
	return nil
}

func parseRow(row *xlsx.Row, index map[string]int, date1904 bool) (*models.ImportRecord, string) {
	values := make(map[string]string, len(Columns))
	for _, c := range Columns {
		cell := cellAt(row, index[c])
		if cell == nil {
			return nil, "missing " + c
		}
		v := strings.TrimSpace(cell.String())
		if v == "" {
			return nil, "missing " + c
		}
		values[c] = v
	}

	mfg, err := parseDate(values["manufacturing_date"], date1904)
	if err != nil {
		return nil, "invalid manufacturing_date " + strconv.Quote(values["manufacturing_date"])
	}
	exp, err := parseDate(values["expiring_date"], date1904)
	if err != nil {
		return nil, "invalid expiring_date " + strconv.Quote(values["expiring_date"])
	}
	if !exp.After(mfg) {
		return nil, "expiring_date must be after manufacturing_date"
	}

	price, err := decimal.NewFromString(values["price"])
	if err != nil || !price.IsPositive() {
		return nil, "invalid price " + strconv.Quote(values["price"])
	}

	stock, err := parseQuantity(values["stock_quantity"])
	if err != nil {
		return nil, "invalid stock_quantity " + strconv.Quote(values["stock_quantity"])
	}

	return &models.ImportRecord{
		Name:                values["name"],
		TherapeuticCategory: values["therapeutic_category"],
		ManufacturingDate:   mfg,
		ExpiringDate:        exp,
		DosageForm:          values["dosage_form"],
		Price:               price.Round(2),
		StockQuantity:       stock,
	}, ""
}

// parseDate accepts text dates and Excel serial day numbers
func parseDate(s string, date1904 bool) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		t := xlsx.TimeFromExcelTime(serial, date1904)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseQuantity(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("quantity %q is not a non-negative whole number", s)
	}
	return int(f), nil
}

func addHeader(sheet *xlsx.Sheet, columns []string) {
	row := sheet.AddRow()
	for _, c := range columns {
		row.AddCell().SetString(c)
	}
}

// WriteTemplate writes an empty workbook carrying the import header and one example row
func WriteTemplate(w io.Writer) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Inventory")
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	addHeader(sheet, Columns)

	example := sheet.AddRow()
	for _, v := range []string{"Paracetamol 500mg", "Analgesic", "2025-01-01", "2027-01-01", "Tablet", "25.00", "100"} {
		example.AddCell().SetString(v)
	}
	return file.Write(w)
}

// WriteCatalog exports medicines in the import schema followed by an inventory value column
func WriteCatalog(w io.Writer, medicines []models.Medicine) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Catalog")
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	addHeader(sheet, append(append([]string{"id"}, Columns...), "inventory_value"))

	for i := range medicines {
		m := &medicines[i]
		row := sheet.AddRow()
		row.AddCell().SetValue(m.ID)
		row.AddCell().SetString(m.Name)
		row.AddCell().SetString(m.TherapeuticCategory)
		row.AddCell().SetString(m.ManufacturingDate.Format(dateLayout))
		row.AddCell().SetString(m.ExpiringDate.Format(dateLayout))
		row.AddCell().SetString(m.DosageForm)
		row.AddCell().SetString(m.Price.StringFixed(2))
		row.AddCell().SetInt(m.StockQuantity)
		row.AddCell().SetString(m.InventoryValue().StringFixed(2))
	}
	return file.Write(w)
}
