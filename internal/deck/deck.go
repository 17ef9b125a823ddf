package deck

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Page is one rasterized slide.
type Page struct {
	Index  int    // 1-based position in the source document
	Image  []byte // JPEG-encoded
	Width  int
	Height int
}

// Record is a completed analysis as stored in the ledger. Values are
// copied, never mutated after Insert.
type Record struct {
	ID               int64
	Filename         string
	AnalyzedAt       time.Time
	PageDetail       string // per-page text joined in page order
	StrategicSummary string // 7-criterion synthesis
	ContentSHA256    string // hex digest of the source bytes, empty for legacy rows
}

var ErrInvalidRecord = errors.New("invalid record")

// Validate checks the fields every persisted record must carry. PageDetail
// may be empty for a document with no pages.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidRecord)
	}
	if r.AnalyzedAt.IsZero() {
		return fmt.Errorf("%w: analyzed_at is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.StrategicSummary) == "" {
		return fmt.Errorf("%w: strategic_summary is required", ErrInvalidRecord)
	}
	return nil
}

// Normalize returns a copy with the timestamp in UTC at millisecond
// precision, the resolution the ledger stores.
func (r Record) Normalize() Record {
	r.AnalyzedAt = r.AnalyzedAt.UTC().Truncate(time.Millisecond)
	return r
}
