package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/apkguard/internal/application"
	appscans "github.com/bryanwahyu/apkguard/internal/application/scans"
	"github.com/bryanwahyu/apkguard/internal/config"
	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
	"github.com/bryanwahyu/apkguard/internal/infra/storage"
)

type stubAnalyzer struct {
	basic *domain.BasicInfo
	err   error
	calls int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, path string) (*domain.BasicInfo, error) {
	s.calls++
	return s.basic, s.err
}

type stubHeuristics struct{ report *domain.SecurityReport }

func (s *stubHeuristics) Scan(ctx context.Context, path string, basic *domain.BasicInfo) (*domain.SecurityReport, error) {
	return s.report, nil
}

type stubBanking struct{ report *domain.BankingReport }

func (s *stubBanking) Detect(ctx context.Context, path string, basic *domain.BasicInfo) (*domain.BankingReport, error) {
	return s.report, nil
}

type stubIntel struct {
	ready  bool
	report *domain.ThreatReport
}

func (s *stubIntel) Ready() bool { return s.ready }

func (s *stubIntel) Check(ctx context.Context, basic *domain.BasicInfo) (*domain.ThreatReport, error) {
	return s.report, nil
}

type stubML struct {
	prob float64
	err  error
}

func (s *stubML) Classify(ctx context.Context, path string, basic *domain.BasicInfo) (float64, error) {
	return s.prob, s.err
}

type fixture struct {
	handler   http.Handler
	analyzer  *stubAnalyzer
	intel     *stubIntel
	svc       *appscans.Service
	uploadDir string
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Mode = mode
	cfg.Upload.MaxBytes = 1 << 20
	cfg.CORS.AllowedOrigins = []string{"*"}
	cfg.RateLimit.Requests = 1000
	cfg.RateLimit.WindowSeconds = 60

	dir := t.TempDir()
	uploads, err := storage.NewUploads(dir, cfg.Upload.MaxBytes)
	require.NoError(t, err)

	analyzer := &stubAnalyzer{basic: &domain.BasicInfo{PackageName: "com.example.app", SHA256: "abc"}}
	intel := &stubIntel{ready: true, report: &domain.ThreatReport{}}
	svc := &appscans.Service{
		Packages:   analyzer,
		Heuristics: &stubHeuristics{report: &domain.SecurityReport{}},
		Banking:    &stubBanking{report: &domain.BankingReport{}},
		Intel:      intel,
		Janitor:    uploads,
		Clock:      application.SystemClock{},
	}

	return &fixture{
		handler:   NewRouter(svc, uploads, intel, cfg),
		analyzer:  analyzer,
		intel:     intel,
		svc:       svc,
		uploadDir: dir,
	}
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="apk"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func (f *fixture) submit(t *testing.T, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/scan", body)
	req.Header.Set("Content-Type", contentType)
	req.RemoteAddr = "10.1.1.1:9999"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func uploadDirEmpty(dir string) func() bool {
	return func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 0
	}
}

func TestSubmitScanSuccess(t *testing.T) {
	f := newFixture(t, "production")
	body, ct := multipartBody(t, "bank.apk", "application/octet-stream", []byte("PKfake"))

	rec := f.submit(t, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		ScanID  string `json:"scanId"`
		Result  struct {
			RiskLevel       string   `json:"riskLevel"`
			IsFake          bool     `json:"isFake"`
			Confidence      int      `json:"confidence"`
			Threats         []string `json:"threats"`
			Recommendations []string `json:"recommendations"`
			Summary         string   `json:"summary"`
		} `json:"result"`
		Metadata struct {
			Basic    *domain.BasicInfo      `json:"basic"`
			Security *domain.SecurityReport `json:"security"`
			Threats  *domain.ThreatReport   `json:"threats"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ScanID)
	assert.Equal(t, "minimal", resp.Result.RiskLevel)
	assert.False(t, resp.Result.IsFake)
	assert.Contains(t, resp.Result.Summary, "likely legitimate")
	require.NotNil(t, resp.Metadata.Basic)
	assert.Equal(t, "com.example.app", resp.Metadata.Basic.PackageName)

	// deferred cleanup empties the upload dir
	assert.Eventually(t, uploadDirEmpty(f.uploadDir), time.Second, 5*time.Millisecond)
}

func TestSubmitScanRejectsNonAPKBeforeAnalyzers(t *testing.T) {
	f := newFixture(t, "production")
	body, ct := multipartBody(t, "notes.txt", "text/plain", []byte("hello"))

	rec := f.submit(t, body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "validation_failed", resp["error"])
	assert.NotContains(t, resp, "scanId")

	assert.Zero(t, f.analyzer.calls)
	assert.True(t, uploadDirEmpty(f.uploadDir)())
}

func TestSubmitScanMissingFileField(t *testing.T) {
	f := newFixture(t, "production")

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("note", "no file here"))
	require.NoError(t, w.Close())

	rec := f.submit(t, body, w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitScanNotReady(t *testing.T) {
	f := newFixture(t, "production")
	f.intel.ready = false

	body, ct := multipartBody(t, "bank.apk", "application/octet-stream", []byte("PK"))
	rec := f.submit(t, body, ct)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp["error"])
}

func TestSubmitScanStageFailure(t *testing.T) {
	f := newFixture(t, "production")
	f.analyzer.err = errors.New("manifest exploded with secret path /srv/x")

	body, ct := multipartBody(t, "bank.apk", "application/octet-stream", []byte("PK"))
	rec := f.submit(t, body, ct)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "scan_failed", resp["error"])
	assert.NotEmpty(t, resp["scanId"]) // correlation survives failure

	// production redacts the collaborator detail
	assert.Equal(t, "scan failed", resp["message"])

	// failure path already deleted the artifact
	assert.True(t, uploadDirEmpty(f.uploadDir)())
}

func TestSubmitScanStageFailureDevelopmentExposesDetail(t *testing.T) {
	f := newFixture(t, "development")
	f.analyzer.err = errors.New("manifest exploded")

	body, ct := multipartBody(t, "bank.apk", "application/octet-stream", []byte("PK"))
	rec := f.submit(t, body, ct)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["message"], "manifest exploded")
}

func TestSubmitScanMLFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, "production")
	f.svc.ML = &stubML{err: errors.New("classifier down")}

	body, ct := multipartBody(t, "bank.apk", "application/octet-stream", []byte("PK"))
	rec := f.submit(t, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success  bool `json:"success"`
		Metadata struct {
			ML *domain.MLReport `json:"ml"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Metadata.ML)
	assert.Equal(t, "classifier down", resp.Metadata.ML.Err)

	assert.Eventually(t, uploadDirEmpty(f.uploadDir), time.Second, 5*time.Millisecond)
}

func TestHealthProbe(t *testing.T) {
	f := newFixture(t, "production")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.intel.ready = false
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Status string `json:"status"`
		Checks struct {
			ThreatIntel struct {
				Initialized bool `json:"initialized"`
			} `json:"threat_intel"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "initializing", resp.Status)
	assert.False(t, resp.Checks.ThreatIntel.Initialized)
}
