package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&googleapi.Error{Code: 404}, ErrNotFound},
		{&googleapi.Error{Code: 403}, ErrPermission},
		{&googleapi.Error{Code: 401}, ErrPermission},
		{&googleapi.Error{Code: 429}, ErrRateLimited},
		{&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, ErrRateLimited},
		{fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 404}), ErrNotFound},
	}
	for _, tc := range cases {
		got := classify(tc.err)
		assert.ErrorIs(t, got, tc.want, tc.err.Error())

		var gerr *googleapi.Error
		assert.True(t, errors.As(got, &gerr), "original error stays reachable")
	}

	plain := errors.New("boom")
	assert.Same(t, plain, classify(plain))
	assert.IsType(t, &googleapi.Error{}, classify(&googleapi.Error{Code: 500}))
	assert.NoError(t, classify(nil))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `O\'Neil`, quote("O'Neil"))
	assert.Equal(t, `a\\b`, quote(`a\b`))
}

func TestPathHelpers(t *testing.T) {
	b, rest := splitPath("bucket/decks/in")
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "decks/in", rest)

	b, rest = splitPath("/bucket/")
	assert.Equal(t, "bucket", b)
	assert.Empty(t, rest)

	assert.Equal(t, "bucket/decks/[Analysis_Results]", ResultFolder("bucket/decks/"))
	assert.Equal(t, "decks/[done] a.pdf", RenamedObject("decks/a.pdf", "[done] a.pdf"))
	assert.Equal(t, "[done] a.pdf", RenamedObject("a.pdf", "[done] a.pdf"))
}

func TestLocalSink(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("%PDF-b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.PDF"), []byte("%PDF-a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	s := NewLocal()
	files, err := s.ListPDFs(ctx, dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.PDF", files[0].Name)
	assert.Equal(t, "b.pdf", files[1].Name)

	data, err := s.Download(ctx, files[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-b", string(data))

	id, err := s.Rename(ctx, files[1].ID, "[done] b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "[done] b.pdf", filepath.Base(id))
	_, err = os.Stat(files[1].ID)
	assert.True(t, os.IsNotExist(err))

	_, err = s.Download(ctx, files[1].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	folder, err := s.EnsureResultFolder(ctx, dir)
	require.NoError(t, err)
	again, err := s.EnsureResultFolder(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, folder, again)

	_, err = s.UploadReport(ctx, folder, "b_analysis_report.md", []byte("# r"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, ResultFolderName, "b_analysis_report.md"))
	require.NoError(t, err)
	assert.Equal(t, "# r", string(got))

	// The result folder is not listed as a PDF.
	files, err = s.ListPDFs(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

// fakeDrive serves the subset of the Drive v3 REST API the sink uses.
type fakeDrive struct {
	mu      sync.Mutex
	files   map[string]string // id -> name
	content map[string]string
	queries []string
	renamed map[string]string
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/files":
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		if r.URL.Query().Get("supportsAllDrives") != "true" {
			http.Error(w, `{"error":{"code":400,"message":"missing flag"}}`, http.StatusBadRequest)
			return
		}
		var list struct {
			Files []map[string]string `json:"files"`
		}
		for id, name := range f.files {
			list.Files = append(list.Files, map[string]string{"id": id, "name": name})
		}
		_ = json.NewEncoder(w).Encode(list)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/files/"):
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		body, ok := f.content[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"File not found"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, body)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/files/"):
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.renamed[id] = body.Name
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFakeDrive(t *testing.T) (*fakeDrive, *Drive) {
	t.Helper()
	fd := &fakeDrive{
		files:   map[string]string{"f1": "deck.pdf"},
		content: map[string]string{"f1": "%PDF-1.4 fake"},
		renamed: map[string]string{},
	}
	srv := httptest.NewServer(fd)
	t.Cleanup(srv.Close)

	d, err := NewDriveWithOptions(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return fd, d
}

func TestDriveListDownloadRename(t *testing.T) {
	fd, d := newFakeDrive(t)
	ctx := context.Background()

	files, err := d.ListPDFs(ctx, "folder'1")
	require.NoError(t, err)
	assert.Equal(t, []File{{ID: "f1", Name: "deck.pdf"}}, files)
	require.Len(t, fd.queries, 1)
	assert.Equal(t, `'folder\'1' in parents and mimeType='application/pdf' and trashed=false`, fd.queries[0])

	data, err := d.Download(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	_, err = d.Download(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := d.Rename(ctx, "f1", "[done] deck.pdf")
	require.NoError(t, err)
	assert.Equal(t, "f1", id)
	assert.Equal(t, "[done] deck.pdf", fd.renamed["f1"])
}

// memSink records uploads for delivery tests.
type memSink struct {
	Local
	mu        sync.Mutex
	ensures   int
	ensureErr error
	uploads   map[string]string
}

func (m *memSink) EnsureResultFolder(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensures++
	if m.ensureErr != nil {
		return "", m.ensureErr
	}
	return "results", nil
}

func (m *memSink) UploadReport(_ context.Context, folder, name string, md []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[folder+"/"+name] = string(md)
	return name, nil
}

func TestReportDelivery(t *testing.T) {
	ms := &memSink{uploads: map[string]string{}}
	d := NewReportDelivery(ms, "parent")
	rec := deck.Record{
		ID:               3,
		Filename:         "deck.pdf",
		AnalyzedAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PageDetail:       "## [Page 1] Raw Data Analysis",
		StrategicSummary: "### 1. Problem Definition",
	}

	require.NoError(t, d.Deliver(context.Background(), rec))
	require.NoError(t, d.Deliver(context.Background(), rec))

	assert.Equal(t, 1, ms.ensures, "result folder is resolved once")
	body, ok := ms.uploads["results/deck_analysis_report.md"]
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(body, "# IR Analysis Report: deck.pdf"))
}

func TestReportDeliveryFolderError(t *testing.T) {
	ms := &memSink{uploads: map[string]string{}, ensureErr: ErrPermission}
	d := NewReportDelivery(ms, "parent")

	err := d.Deliver(context.Background(), deck.Record{Filename: "x.pdf"})
	assert.ErrorIs(t, err, ErrPermission)

	ms.ensureErr = nil
	require.NoError(t, d.Deliver(context.Background(), deck.Record{Filename: "x.pdf"}))
	assert.Equal(t, 2, ms.ensures, "failed lookup is retried")
}
