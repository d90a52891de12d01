package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/LJTian/MarketPulse/internal/processor"
)

// ContentTypeCSV 产物的 MIME 类型
const ContentTypeCSV = "text/csv; charset=utf-8"

// EncodeCSV 输出表头加每条记录一行，列顺序固定为 processor.Columns
func EncodeCSV(records []processor.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(processor.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(rec.Row()); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", rec.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
