package scans

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanwahyu/apkguard/internal/application"
	"github.com/bryanwahyu/apkguard/internal/domain/risk"
	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

// Service drives one scan request through the analyzer pipeline.
// Service is designed to be used concurrently and is thread-safe: all fields
// are set at construction and never mutated.
type Service struct {
	Packages   domain.PackageAnalyzer
	Heuristics domain.HeuristicScanner
	Banking    domain.BankingDetector
	Intel      domain.ThreatIntel
	ML         domain.MLClassifier // nil = ML stage disabled
	Janitor    domain.Janitor
	Vault      domain.SampleVault // nil = no sample archival
	Clock      application.Clock
}

// ScanRequest is the handle to one accepted upload. The service owns the
// artifact at Path for the request's duration and deletes it exactly once.
type ScanRequest struct {
	ScanID   domain.ScanID
	Path     string
	Filename string
}

// stage is one pipeline step. A mandatory stage's failure aborts the scan;
// the only non-mandatory stage (ML) records its failure inline instead.
type stage struct {
	name      string
	mandatory bool
	run       func(ctx context.Context, res *domain.ScanResult) error
}

// cleanupHandle deletes the artifact at most once no matter how many paths
// race to trigger it.
type cleanupHandle struct {
	once    sync.Once
	path    string
	scanID  domain.ScanID
	janitor domain.Janitor
}

func (c *cleanupHandle) remove() {
	c.once.Do(func() {
		if err := c.janitor.Remove(c.path); err != nil {
			log.Printf("scan=%s cleanup error path=%s err=%v", c.scanID, c.path, err)
		}
	})
}

// Scan runs the fixed pipeline over one uploaded artifact. On success the
// caller gets the finalized result and artifact deletion happens out of band;
// on a mandatory-stage failure the artifact is deleted before the error is
// returned. Stages run strictly in order, no retries.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (*domain.ScanResult, error) {
	res := &domain.ScanResult{
		ScanID:    req.ScanID,
		Filename:  req.Filename,
		Timestamp: s.Clock.Now(),
	}
	cleanup := &cleanupHandle{path: req.Path, scanID: req.ScanID, janitor: s.Janitor}

	for _, st := range s.pipeline(req) {
		if err := st.run(ctx, res); err != nil {
			if st.mandatory {
				cleanup.remove()
				return nil, &domain.StageError{Stage: st.name, Err: err}
			}
			// ML stage: capture the marker, keep going
			res.Analysis.ML = &domain.MLReport{Err: err.Error()}
			log.Printf("scan=%s stage=%s optional failure err=%v", req.ScanID, st.name, err)
		}
	}

	res.Risk = risk.Evaluate(res.Analysis)
	s.finishAsync(res, cleanup)
	return res, nil
}

func (s *Service) pipeline(req ScanRequest) []stage {
	stages := []stage{
		{name: "package-info", mandatory: true, run: func(ctx context.Context, res *domain.ScanResult) error {
			basic, err := s.Packages.Analyze(ctx, req.Path)
			if err != nil {
				return err
			}
			res.Analysis.Basic = basic
			return nil
		}},
		{name: "security-heuristics", mandatory: true, run: func(ctx context.Context, res *domain.ScanResult) error {
			sec, err := s.Heuristics.Scan(ctx, req.Path, res.Analysis.Basic)
			if err != nil {
				return err
			}
			res.Analysis.Security = sec
			return nil
		}},
		{name: "banking-detection", mandatory: true, run: func(ctx context.Context, res *domain.ScanResult) error {
			bank, err := s.Banking.Detect(ctx, req.Path, res.Analysis.Basic)
			if err != nil {
				return err
			}
			res.Analysis.Banking = bank
			return nil
		}},
		{name: "threat-intel", mandatory: true, run: func(ctx context.Context, res *domain.ScanResult) error {
			threats, err := s.Intel.Check(ctx, res.Analysis.Basic)
			if err != nil {
				return err
			}
			res.Analysis.Threats = threats
			return nil
		}},
	}

	if s.ML != nil {
		stages = append(stages, stage{name: "ml-classifier", run: func(ctx context.Context, res *domain.ScanResult) error {
			prob, err := s.ML.Classify(ctx, req.Path, res.Analysis.Basic)
			if err != nil {
				return err
			}
			res.Analysis.ML = &domain.MLReport{Probability: prob}
			return nil
		}})
	}

	return stages
}

// finishAsync archives critical samples and deletes the artifact without
// blocking the response. A crash between response and deletion can leak a
// temp file; that trade-off is accepted and the scheduling is logged so leaks
// stay diagnosable.
func (s *Service) finishAsync(res *domain.ScanResult, cleanup *cleanupHandle) {
	log.Printf("scan=%s cleanup scheduled path=%s", res.ScanID, cleanup.path)
	go func() {
		if s.Vault != nil && res.Risk.Level == domain.RiskCritical {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			key := fmt.Sprintf("samples/%s/%s", res.ScanID, filepath.Base(cleanup.path))
			url, err := s.Vault.Archive(ctx, cleanup.path, key)
			if err != nil {
				log.Printf("scan=%s vault archive error err=%v", res.ScanID, err)
			} else {
				log.Printf("scan=%s sample archived url=%s", res.ScanID, url)
			}
		}
		cleanup.remove()
	}()
}
