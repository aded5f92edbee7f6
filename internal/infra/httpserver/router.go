package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appscans "github.com/bryanwahyu/apkguard/internal/application/scans"
	"github.com/bryanwahyu/apkguard/internal/config"
	"github.com/bryanwahyu/apkguard/internal/domain/risk"
	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
	"github.com/bryanwahyu/apkguard/internal/infra/storage"
	"github.com/bryanwahyu/apkguard/internal/middleware"
)

// multipart framing overhead on top of the artifact byte cap
const multipartSlack = 1 << 20

type Router struct {
	scansSvc *appscans.Service
	uploads  *storage.Uploads
	intel    domain.ThreatIntel
	cfg      *config.Config
}

func NewRouter(scansSvc *appscans.Service, uploads *storage.Uploads, intel domain.ThreatIntel, cfg *config.Config) http.Handler {
	rt := &Router{scansSvc: scansSvc, uploads: uploads, intel: intel, cfg: cfg}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second))

	mux.Get("/health", rt.handleHealth)
	mux.Post("/api/scan", rt.wrap(rt.handleSubmitScan))

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (rt *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			rt.writeFailure(w, err)
		}
	}
}

// scanError carries the allocated scan ID with a pipeline failure so the
// failure payload stays correlatable with server logs.
type scanError struct {
	ScanID domain.ScanID
	Err    error
}

func (e *scanError) Error() string { return e.Err.Error() }
func (e *scanError) Unwrap() error { return e.Err }

// GET /health
func (rt *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	ready := rt.intel.Ready()
	status := http.StatusOK
	state := "ok"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "initializing"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": state,
		"checks": map[string]any{
			"threat_intel": map[string]bool{"initialized": ready},
		},
		"timestamp": time.Now().UTC(),
	})
}

// POST /api/scan — multipart form, field "apk", exactly one file
func (rt *Router) handleSubmitScan(w http.ResponseWriter, req *http.Request) error {
	if !rt.intel.Ready() {
		return domain.ErrNotReady
	}

	req.Body = http.MaxBytesReader(w, req.Body, rt.cfg.Upload.MaxBytes+multipartSlack)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrPayloadTooLarge
		}
		return domain.NewValidationError("invalid multipart request: %v", err)
	}

	files := req.MultipartForm.File["apk"]
	if len(files) == 0 {
		return domain.NewValidationError("missing file field %q", "apk")
	}
	if len(files) > 1 {
		return domain.NewValidationError("exactly one file per request, got %d", len(files))
	}

	header := files[0]
	file, err := header.Open()
	if err != nil {
		return domain.NewValidationError("unreadable upload: %v", err)
	}
	defer file.Close()

	path, err := rt.uploads.Accept(file, header)
	if err != nil {
		return err
	}

	// upload accepted: from here on every failure carries the scan ID
	scanReq := appscans.ScanRequest{
		ScanID:   domain.NewScanID(),
		Path:     path,
		Filename: header.Filename,
	}

	res, err := rt.scansSvc.Scan(req.Context(), scanReq)
	if err != nil {
		return &scanError{ScanID: scanReq.ScanID, Err: err}
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"scanId":  res.ScanID,
		"result": map[string]any{
			"riskLevel":       res.Risk.Level,
			"isFake":          res.Risk.IsFake,
			"confidence":      res.Risk.Confidence,
			"threats":         res.Risk.Threats,
			"recommendations": res.Risk.Recommendations,
			"summary":         risk.Summary(res.Risk),
		},
		"metadata": map[string]any{
			"basic":     res.Analysis.Basic,
			"security":  res.Analysis.Security,
			"banking":   res.Analysis.Banking,
			"threats":   res.Analysis.Threats,
			"ml":        res.Analysis.ML,
			"timestamp": res.Timestamp,
		},
	})
}

func (rt *Router) writeFailure(w http.ResponseWriter, err error) {
	var scanID domain.ScanID
	var se *scanError
	if errors.As(err, &se) {
		scanID = se.ScanID
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	message := err.Error()

	var verr *domain.ValidationError
	var stageErr *domain.StageError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		code = "validation_failed"
	case errors.Is(err, domain.ErrPayloadTooLarge):
		status = http.StatusRequestEntityTooLarge
		code = "payload_too_large"
	case errors.Is(err, domain.ErrNotReady):
		status = http.StatusServiceUnavailable
		code = "not_ready"
	case errors.As(err, &stageErr):
		code = "scan_failed"
	}

	// internal detail stays in the logs outside development mode
	if status == http.StatusInternalServerError && !rt.cfg.Development() {
		message = "scan failed"
	}

	body := map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	}
	if scanID != "" {
		body["scanId"] = scanID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
