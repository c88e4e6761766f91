package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// multiSpace splits line-mode fields on runs of two or more whitespace characters.
var multiSpace = regexp.MustCompile(`\s{2,}`)

// extractLines treats content as plain text: one candidate row per line.
// Invalid UTF-8 sequences are replaced with the replacement character.
func extractLines(content []byte, sink *rowSink) error {
	if !utf8.Valid(content) {
		content = []byte(strings.ToValidUTF8(string(content), "�"))
	}
	lineRows(string(content), 1, sink)
	return nil
}

// lineRows splits text into lines and each line into fields on runs of >=2
// whitespace characters, falling back to single whitespace when a line has no
// multi-space runs. Ragged columns are tolerated. Returns true when the sink
// requested an early stop.
func lineRows(text string, page int, sink *rowSink) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		fields := multiSpace.Split(line, -1)
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if sink.add(fields, page) {
			return true
		}
	}
	return false
}

// extractCSV reads comma-separated content. Records with varying field counts
// are allowed; the resolver deals with ragged rows.
func extractCSV(content []byte, sink *rowSink) error {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read csv: %w", err)
		}
		if sink.add(record, 1) {
			return nil
		}
	}
}
