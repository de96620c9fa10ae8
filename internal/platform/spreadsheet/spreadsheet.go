// Package spreadsheet renders tabular data to a styled .xlsx workbook and
// reads such workbooks back.
package spreadsheet

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/vxs/registro/pkg/boolish"
	"github.com/vxs/registro/pkg/dates"
)

// MIMEType is the content type of the produced file.
const MIMEType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	headerFill    = "FF8330"
	highlightFill = "FFAB66"
	dateFormat    = "yyyy-mm-dd"
)

// ColumnWidths assigns widths by 1-based column position. Columns beyond
// the table keep the default width.
var ColumnWidths = map[int]float64{
	1: 20, 2: 15, 3: 25, 4: 30, 5: 20,
	6: 20, 7: 25, 8: 20, 9: 20, 10: 30,
}

// Sheet describes the content of a single-sheet workbook.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]interface{}
	// DateColumns lists headers whose cells are written as dates without a
	// time of day.
	DateColumns []string
	// HighlightColumn names the header whose truthy cells mark the whole
	// row for highlighting. Empty disables highlighting.
	HighlightColumn string
}

type styles struct {
	header        int
	date          int
	highlight     int
	highlightDate int
}

func newStyles(f *excelize.File) (*styles, error) {
	var s styles
	var err error
	s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	numFmt := dateFormat
	s.date, err = f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return nil, fmt.Errorf("date style: %w", err)
	}
	fill := excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{highlightFill}}
	s.highlight, err = f.NewStyle(&excelize.Style{Fill: fill})
	if err != nil {
		return nil, fmt.Errorf("highlight style: %w", err)
	}
	s.highlightDate, err = f.NewStyle(&excelize.Style{Fill: fill, CustomNumFmt: &numFmt})
	if err != nil {
		return nil, fmt.Errorf("highlight date style: %w", err)
	}
	return &s, nil
}

// Write renders sh as an .xlsx workbook to w.
func Write(w io.Writer, sh Sheet) error {
	f, err := Build(sh)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Build renders sh into an in-memory workbook. The caller closes it.
func Build(sh Sheet) (*excelize.File, error) {
	name := sh.Name
	if name == "" {
		name = "Sheet1"
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	st, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := fill(f, name, sh, st); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func fill(f *excelize.File, name string, sh Sheet, st *styles) error {
	cols := len(sh.Headers)
	if cols == 0 {
		return fmt.Errorf("sheet %q has no columns", name)
	}
	lastCol, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}

	dateCol := make(map[int]bool, len(sh.DateColumns))
	highlightIdx := -1
	for i, h := range sh.Headers {
		for _, d := range sh.DateColumns {
			if h == d {
				dateCol[i] = true
			}
		}
		if sh.HighlightColumn != "" && h == sh.HighlightColumn {
			highlightIdx = i
		}
	}

	headers := make([]interface{}, cols)
	for i, h := range sh.Headers {
		headers[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(name, "A1", lastCol+"1", st.header); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for r, row := range sh.Rows {
		rowNum := r + 2
		highlighted := highlightIdx >= 0 && highlightIdx < len(row) && boolish.Parse(row[highlightIdx])
		for c := 0; c < cols; c++ {
			cell, err := excelize.CoordinatesToCellName(c+1, rowNum)
			if err != nil {
				return err
			}
			var v interface{}
			if c < len(row) {
				v = cellValue(row[c])
			}
			if dateCol[c] {
				v = dateValue(v)
			}
			if v != nil {
				if err := f.SetCellValue(name, cell, v); err != nil {
					return fmt.Errorf("write %s: %w", cell, err)
				}
			}

			style := 0
			switch {
			case highlighted && dateCol[c]:
				style = st.highlightDate
			case highlighted:
				style = st.highlight
			case dateCol[c]:
				style = st.date
			}
			if style != 0 {
				if err := f.SetCellStyle(name, cell, cell, style); err != nil {
					return fmt.Errorf("style %s: %w", cell, err)
				}
			}
		}
	}

	for col := 1; col <= cols; col++ {
		width, ok := ColumnWidths[col]
		if !ok {
			continue
		}
		letter, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(name, letter, letter, width); err != nil {
			return fmt.Errorf("column width %s: %w", letter, err)
		}
	}

	if err := f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	return nil
}

// cellValue dereferences optional scalars so nil pointers produce empty
// cells instead of printed addresses.
func cellValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *int:
		if t == nil {
			return nil
		}
		return *t
	case *int64:
		if t == nil {
			return nil
		}
		return *t
	case *float64:
		if t == nil {
			return nil
		}
		return *t
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *bool:
		if t == nil {
			return nil
		}
		return *t
	case boolish.Bool:
		return bool(t)
	}
	return v
}

// dateValue converts the supported date representations to a midnight UTC
// time so the cell holds a date serial with no fractional day. Values that
// are not dates are passed through; unparseable strings are kept as text.
func dateValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case dates.Date:
		return t.Time
	case *dates.Date:
		if t == nil {
			return nil
		}
		return t.Time
	case time.Time:
		return dates.FromTime(t).Time
	case *time.Time:
		if t == nil {
			return nil
		}
		return dates.FromTime(*t).Time
	case string:
		if t == "" {
			return nil
		}
		if d, err := dates.Parse(t); err == nil {
			return d.Time
		}
	}
	return v
}

// Read returns the header and data rows of the first sheet as displayed
// text (dates in yyyy-mm-dd).
func Read(r io.Reader) (headers []string, rows [][]string, err error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	all, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}
