package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"parcelscope/internal/model"
)

// csvBuffer accumulates rows incrementally and finalizes to CSV bytes.
// encoding/csv handles standard escaping: cells containing quotes,
// commas, or newlines are quote-wrapped with internal quotes doubled.
type csvBuffer struct {
	buf    bytes.Buffer
	writer *csv.Writer
	rows   int
}

func newCSVBuffer(headers []string) (*csvBuffer, error) {
	b := &csvBuffer{}
	b.writer = csv.NewWriter(&b.buf)
	if err := b.writer.Write(headers); err != nil {
		return nil, fmt.Errorf("write headers: %w", err)
	}
	return b, nil
}

// appendRows projects rows through the selected columns
func (b *csvBuffer) appendRows(cols []column, rows []model.ParcelRow) error {
	record := make([]string, len(cols))
	for i := range rows {
		for j, c := range cols {
			record[j] = c.value(&rows[i])
		}
		if err := b.writer.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		b.rows++
	}
	return nil
}

// finalize flushes and returns the accumulated CSV
func (b *csvBuffer) finalize() ([]byte, error) {
	b.writer.Flush()
	if err := b.writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return b.buf.Bytes(), nil
}

func headerLabels(cols []column) []string {
	labels := make([]string, len(cols))
	for i, c := range cols {
		labels[i] = c.label
	}
	return labels
}

// csvFilename builds the artifact name; the suffix reflects the applied
// owner-scope filter
func csvFilename(zip string, filter model.OwnerFilter) string {
	name := "parcels"
	if zip != "" {
		name += "_" + zip
	}
	return fmt.Sprintf("%s_%s.csv", name, filter)
}

// Deliverer receives a finalized CSV artifact. The default writes it
// under the configured output directory; tests substitute their own.
type Deliverer func(filename string, data []byte) error

// FileDeliverer writes artifacts into dir, creating it as needed
func FileDeliverer(dir string) Deliverer {
	return func(filename string, data []byte) error {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		path := filepath.Join(dir, filename)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	}
}
