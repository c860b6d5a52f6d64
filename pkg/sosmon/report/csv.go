package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

// CSVHeader is the first row of every usage CSV.
var CSVHeader = []string{"Disk", "Total", "Used", "Available"}

// EncodeCSV writes the header and one row per record, in order.
func EncodeCSV(w *bytes.Buffer, records []types.DiskRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writer.Write(rec.CSVRow()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSV replaces the file at path with the usage CSV of records. The
// data goes to a temporary file first and is renamed into place.
func WriteCSV(fs afero.Fs, path string, records []types.DiskRecord) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, records); err != nil {
		return fmt.Errorf("encoding usage csv: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o775); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, ".usage-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("writing usage csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("renaming usage csv: %w", err)
	}
	return nil
}

// CSVFormatter renders the same columns as the usage CSV file.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	return EncodeCSV(w, r.Disks)
}

func init() {
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

var _ Formatter = (*CSVFormatter)(nil)
