package export

import (
	"encoding/csv"
	"io"

	"github.com/stanstork/formvault-api/internal/models"
	"github.com/xuri/excelize/v2"
)

// rowSink receives header and data rows of an export in order.
type rowSink interface {
	WriteRow(row []string) error
	Close() error
}

func newSink(format models.ExportFormat, out io.Writer) (rowSink, error) {
	if format == models.ExportFormatXLSX {
		return newXLSXSink(out)
	}
	return &csvSink{w: csv.NewWriter(out)}, nil
}

type csvSink struct {
	w *csv.Writer
}

func (s *csvSink) WriteRow(row []string) error {
	return s.w.Write(row)
}

func (s *csvSink) Close() error {
	s.w.Flush()
	return s.w.Error()
}

const xlsxSheet = "Entries"

// xlsxSink streams rows into a single-sheet workbook and writes the workbook
// to out on Close.
type xlsxSink struct {
	f   *excelize.File
	sw  *excelize.StreamWriter
	out io.Writer
	row int
}

func newXLSXSink(out io.Writer) (*xlsxSink, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		f.Close()
		return nil, err
	}
	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &xlsxSink{f: f, sw: sw, out: out}, nil
}

func (s *xlsxSink) WriteRow(row []string) error {
	s.row++
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	return s.sw.SetRow(cell, values)
}

func (s *xlsxSink) Close() error {
	defer s.f.Close()
	if err := s.sw.Flush(); err != nil {
		return err
	}
	return s.f.Write(s.out)
}
