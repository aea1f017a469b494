package orders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportXLSX renders the full orders worksheet (header included) into a
// temporary .xlsx file and returns its path.
func (l *Log) ExportXLSX(ctx context.Context) (string, error) {
	rows, err := l.store.FetchRawRows(ctx, false)
	if err != nil {
		return "", fmt.Errorf("fetch order rows: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, value := range row {
			cells[j] = value
		}

		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return "", fmt.Errorf("cell coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return "", fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	path := filepath.Join(os.TempDir(),
		fmt.Sprintf("orders-%s.xlsx", time.Now().UTC().Format("20060102-150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save export: %w", err)
	}
	return path, nil
}
