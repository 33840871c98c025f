// Package export renders import reports as downloadable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/edusys/bulkimport/internal/domain"
)

// Format selects the file rendering for a report download.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat parses a requested download format.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unknown report format %q", raw)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

var reportHeader = []string{"row", "disposition", "field", "kind", "message", "value"}

// WriteReport renders the report's row outcomes in the requested format. Rows
// without errors produce one line each; rows with errors produce one line per
// error, matching how reviewers fix files one finding at a time.
func WriteReport(w io.Writer, report domain.ImportReport, format Format) error {
	switch format {
	case FormatXLSX:
		return writeXLSX(w, report)
	default:
		return writeCSV(w, report)
	}
}

func reportLines(report domain.ImportReport) [][]string {
	lines := make([][]string, 0, len(report.Rows))
	for _, outcome := range report.Rows {
		if len(outcome.Errors) == 0 {
			lines = append(lines, []string{
				strconv.Itoa(outcome.Row), string(outcome.Disposition), "", "", "", "",
			})
			continue
		}
		for _, e := range outcome.Errors {
			lines = append(lines, []string{
				strconv.Itoa(outcome.Row), string(outcome.Disposition),
				e.Field, string(e.Kind), e.Message, e.Value,
			})
		}
	}
	return lines
}

// WriteTemplate renders an empty upload template for an entity: one header
// row listing the canonical field names in schema order.
func WriteTemplate(w io.Writer, fields []domain.FieldDescriptor, format Format) error {
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}

	if format == FormatXLSX {
		f := excelize.NewFile()
		defer func() { _ = f.Close() }()
		cells := make([]any, len(header))
		for i, h := range header {
			cells[i] = h
		}
		if err := f.SetSheetRow(f.GetSheetName(0), "A1", &cells); err != nil {
			return fmt.Errorf("failed to write template header: %w", err)
		}
		if err := f.Write(w); err != nil {
			return fmt.Errorf("failed to write workbook: %w", err)
		}
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write template header: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

func writeCSV(w io.Writer, report domain.ImportReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, line := range reportLines(report) {
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("failed to write report line: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, report domain.ImportReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	header := make([]any, len(reportHeader))
	for i, h := range reportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	for i, line := range reportLines(report) {
		cells := make([]any, len(line))
		for j, v := range line {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to address report row: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
