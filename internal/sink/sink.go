// Package sink talks to the external folder that decks arrive in and
// reports are delivered to.
package sink

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// ResultFolderName is the child folder reports are uploaded into.
const ResultFolderName = "[Analysis_Results]"

// ReportMIMEType is the content type of uploaded reports.
const ReportMIMEType = "text/markdown"

// MaxDownloadBytes caps a single PDF download.
const MaxDownloadBytes = 200 << 20

var (
	ErrNotFound    = errors.New("sink: not found")
	ErrPermission  = errors.New("sink: permission denied")
	ErrRateLimited = errors.New("sink: rate limited")
	ErrTooLarge    = errors.New("sink: file exceeds download limit")
)

// File identifies one object in the sink. ID is opaque to callers.
type File struct {
	ID   string
	Name string
}

// Sink is an external folder store.
type Sink interface {
	// ListPDFs returns the PDFs directly inside folder.
	ListPDFs(ctx context.Context, folder string) ([]File, error)
	Download(ctx context.Context, id string) ([]byte, error)
	// EnsureResultFolder returns the ID of the result folder under
	// parent, creating it if needed.
	EnsureResultFolder(ctx context.Context, parent string) (string, error)
	UploadReport(ctx context.Context, folder, name string, markdown []byte) (string, error)
	// Rename changes the display name of id and returns its ID after the
	// rename, which differs from id for stores without in-place renames.
	Rename(ctx context.Context, id, name string) (string, error)
}

// IsPDF reports whether name has a .pdf extension.
func IsPDF(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// classify maps Google API status codes onto the sink errors. Other
// errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch gerr.Code {
	case http.StatusNotFound:
		return wrap(ErrNotFound, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		if isRateLimitReason(gerr) {
			return wrap(ErrRateLimited, err)
		}
		return wrap(ErrPermission, err)
	case http.StatusTooManyRequests:
		return wrap(ErrRateLimited, err)
	}
	return err
}

// Drive reports per-user rate limits as 403 with a reason.
func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

type classifiedError struct {
	kind error
	err  error
}

func (e *classifiedError) Error() string   { return e.kind.Error() + ": " + e.err.Error() }
func (e *classifiedError) Unwrap() []error { return []error{e.kind, e.err} }

func wrap(kind, err error) error { return &classifiedError{kind: kind, err: err} }
