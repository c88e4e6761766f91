package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// cellGap is the minimum horizontal gap, in PDF points, that separates two
// text fragments into different cells when reconstructing a table row.
const cellGap = 8.0

// extractPDF walks the document page by page in structured mode: GetTextByRow
// groups text fragments by their Y position, which recovers table rows even
// without ruling lines. Pages whose row geometry yields nothing fall back to
// line mode over the page's plain text.
func extractPDF(content []byte, sink *rowSink) error {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil || len(rows) == 0 {
			text, terr := page.GetPlainText(nil)
			if terr != nil {
				if err == nil {
					err = terr
				}
				return fmt.Errorf("extract page %d: %w", i, err)
			}
			if lineRows(text, i, sink) {
				return nil
			}
			continue
		}
		for _, row := range rows {
			if sink.add(mergeCells(row.Content), i) {
				return nil
			}
		}
	}
	return nil
}

// mergeCells joins adjacent text fragments of one geometric row into cells.
// Fragments arrive sorted left to right; a horizontal gap of at least cellGap
// starts a new cell.
func mergeCells(frags pdf.TextHorizontal) []string {
	var cells []string
	var cur bytes.Buffer
	var endX float64
	for i, f := range frags {
		if i > 0 && f.X-endX >= cellGap {
			cells = append(cells, cur.String())
			cur.Reset()
		}
		cur.WriteString(f.S)
		if f.X+f.W > endX {
			endX = f.X + f.W
		}
	}
	if cur.Len() > 0 {
		cells = append(cells, cur.String())
	}
	return cells
}
