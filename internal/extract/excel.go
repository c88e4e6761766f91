package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// extractExcel reads every sheet of a workbook as a cell grid. The sheet
// index stands in for the page number in the produced rows.
func extractExcel(content []byte, sink *rowSink) error {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		sink.newTable()
		for _, cells := range rows {
			if sink.add(cells, i+1) {
				return nil
			}
		}
	}
	return nil
}
