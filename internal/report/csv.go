package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
)

var csvHeader = []string{"id", "filename", "analyzed_at", "page_detail", "strategic_summary"}

// WriteCSV exports records as a history sheet, one row per analysis.
func WriteCSV(w io.Writer, records []deck.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.Filename,
			r.AnalyzedAt.UTC().Format(time.RFC3339),
			r.PageDetail,
			r.StrategicSummary,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
