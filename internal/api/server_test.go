package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/irdigest/internal/config"
	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/extract"
	"github.com/dgallion1/irdigest/internal/ledger"
	"github.com/dgallion1/irdigest/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "secret"

type fakeRecords struct {
	mu   sync.Mutex
	recs []deck.Record
}

func (f *fakeRecords) GetByFilename(_ context.Context, name string) (*deck.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.recs) - 1; i >= 0; i-- {
		if f.recs[i].Filename == name {
			r := f.recs[i]
			return &r, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (f *fakeRecords) GetByID(_ context.Context, id int64) (*deck.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (f *fakeRecords) ListAll(context.Context) ([]deck.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]deck.Record, len(f.recs))
	for i, r := range f.recs {
		out[len(f.recs)-1-i] = r
	}
	return out, nil
}

func (f *fakeRecords) DeleteByID(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.recs {
		if r.ID == id {
			f.recs = append(f.recs[:i], f.recs[i+1:]...)
			return nil
		}
	}
	return ledger.ErrNotFound
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*pipeline.Job
	full bool
}

func (f *fakeJobs) Submit(job *pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return pipeline.ErrQueueFull
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) GetJob(id string) *pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeJobs) QueueDepth() int { return len(f.jobs) }

type fakeDeliverer struct {
	err       error
	delivered []int64
}

func (f *fakeDeliverer) Deliver(_ context.Context, rec deck.Record) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, rec.ID)
	return nil
}

type fixture struct {
	srv      *Server
	records  *fakeRecords
	jobs     *fakeJobs
	delivery *fakeDeliverer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Server.APIKey = testKey
	f := &fixture{
		records: &fakeRecords{recs: []deck.Record{{
			ID:               1,
			Filename:         "alpha.pdf",
			AnalyzedAt:       time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			PageDetail:       "## [Page 1] Raw Data Analysis\nARR 2M USD",
			StrategicSummary: "### 1. Problem Definition\nSlow audits.",
		}}},
		jobs:     &fakeJobs{jobs: map[string]*pipeline.Job{}},
		delivery: &fakeDeliverer{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.srv = NewServer(Deps{Records: f.records, Jobs: f.jobs, Delivery: f.delivery}, log, cfg)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func uploadBody(t *testing.T, filename string, data []byte, force bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	if force {
		require.NoError(t, mw.WriteField("force", "true"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj << >> endobj\n%%EOF")

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analyses", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/analyses", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/analyses", nil, "").Code)
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	cfg := config.Default()
	cfg.Server.APIKey = ""
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(Deps{Records: &fakeRecords{}, Jobs: &fakeJobs{}}, log, cfg)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analyses", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadQueuesNewFile(t *testing.T) {
	f := newFixture(t)
	body, ct := uploadBody(t, "../../beta.pdf", pdfBytes, false)

	rec := f.do(t, http.MethodPost, "/api/analyses", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	out := decode(t, rec)
	jobID, _ := out["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "beta.pdf", out["filename"])
	assert.Equal(t, "/api/jobs/"+jobID, out["poll_url"])

	job := f.jobs.GetJob(jobID)
	require.NotNil(t, job)
	assert.Equal(t, pdfBytes, job.FileData())
	assert.False(t, job.Force)

	rec = f.do(t, http.MethodGet, "/api/jobs/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["status"])
}

func TestUploadCacheHit(t *testing.T) {
	f := newFixture(t)
	body, ct := uploadBody(t, "alpha.pdf", pdfBytes, false)

	rec := f.do(t, http.MethodPost, "/api/analyses", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "cached", out["status"])
	record := out["record"].(map[string]any)
	assert.EqualValues(t, 1, record["id"])
	assert.Empty(t, f.jobs.jobs)
}

func TestUploadForceBypassesCache(t *testing.T) {
	f := newFixture(t)
	body, ct := uploadBody(t, "alpha.pdf", pdfBytes, true)

	rec := f.do(t, http.MethodPost, "/api/analyses", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := f.jobs.GetJob(decode(t, rec)["job_id"].(string))
	require.NotNil(t, job)
	assert.True(t, job.Force)
}

func TestUploadRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	body, ct := uploadBody(t, "notes.txt", []byte("hello"), false)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/analyses", body, ct).Code)

	body, ct = uploadBody(t, "fake.pdf", []byte("not a pdf"), false)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/analyses", body, ct).Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/analyses", strings.NewReader("x"), "text/plain").Code)
}

func TestUploadQueueFull(t *testing.T) {
	f := newFixture(t)
	f.jobs.full = true
	body, ct := uploadBody(t, "gamma.pdf", pdfBytes, false)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/analyses", body, ct).Code)
}

func TestJobNotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/jobs/nope", nil, "").Code)
}

func TestListOmitsPageDetail(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/analyses", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Analyses []map[string]any `json:"analyses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Analyses, 1)
	assert.Equal(t, "alpha.pdf", out.Analyses[0]["filename"])
	assert.NotContains(t, out.Analyses[0], "page_detail")
}

func TestGetAnalysis(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/analyses/1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["page_detail"], "ARR 2M USD")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/analyses/99", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/analyses/abc", nil, "").Code)
}

func TestReportFormats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/analyses/1/report", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "IR_Analysis_alpha.md")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "# IR Analysis Report: alpha.pdf"))

	rec = f.do(t, http.MethodGet, "/api/analyses/1/report?format=html", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>IR Analysis Report: alpha.pdf</h1>")

	rec = f.do(t, http.MethodGet, "/api/analyses/1/report?format=docx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "IR_Analysis_alpha.docx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "docx is a zip container")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/analyses/1/report?format=pdf", nil, "").Code)
}

func TestDeleteAnalysis(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/analyses/1", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/analyses/1", nil, "").Code)
}

func TestDeliver(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/analyses/1/deliver", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{1}, f.delivery.delivered)

	f.delivery.err = &pipeline.DeliveryError{RecordID: 1, Err: errors.New("drive down")}
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/api/analyses/1/deliver", nil, "").Code)

	f.delivery.err = pipeline.ErrNoDelivery
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/analyses/1/deliver", nil, "").Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/analyses/42/deliver", nil, "").Code)
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/analyses/export.csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha.pdf", rows[1][1])
}

type echoGen struct{}

func (echoGen) Generate(context.Context, extract.Request) (string, error) { return "ok", nil }

func TestLLMStats(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/api/stats/llm", nil, "").Code)

	client := extract.NewClient(echoGen{}, extract.ClientOptions{Model: "test-model"})
	_, err := client.Generate(context.Background(), extract.Request{Kind: extract.KindPage, Prompt: "p"})
	require.NoError(t, err)
	f.srv.deps.LLM = client

	rec := f.do(t, http.MethodGet, "/api/stats/llm", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "test-model", out["model"])
	byKind := out["by_kind"].(map[string]any)
	page := byKind[extract.KindPage].(map[string]any)
	assert.EqualValues(t, 1, page["count"])
}
