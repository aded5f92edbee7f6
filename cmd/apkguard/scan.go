package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/apkguard/internal/application"
	appscans "github.com/bryanwahyu/apkguard/internal/application/scans"
	"github.com/bryanwahyu/apkguard/internal/config"
	"github.com/bryanwahyu/apkguard/internal/domain/risk"
	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/apkinfo"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/banking"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/heuristics"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/mldetect"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/threatintel"
	"github.com/bryanwahyu/apkguard/internal/infra/storage"
)

var scanConcurrency int

var scanCmd = &cobra.Command{
	Use:   "scan <apk> [apk...]",
	Short: "Scan local APK files and print the verdicts as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context(), args)
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 4, "max APKs analyzed in parallel")
}

type scanOutput struct {
	File    string             `json:"file"`
	Error   string             `json:"error,omitempty"`
	Result  *domain.ScanResult `json:"result,omitempty"`
	Summary string             `json:"summary,omitempty"`
}

func runScan(ctx context.Context, files []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	dir, err := os.MkdirTemp("", "apkguard-scan-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	uploads, err := storage.NewUploads(dir, cfg.Upload.MaxBytes)
	if err != nil {
		return err
	}

	intel := threatintel.New(cfg.ThreatFeed)
	svc := &appscans.Service{
		Packages:   apkinfo.NewExtractor(),
		Heuristics: heuristics.NewScanner(),
		Banking:    banking.NewDetector(),
		Intel:      intel,
		Janitor:    uploads,
		Clock:      application.SystemClock{},
	}
	if cfg.ML.Enabled {
		svc.ML = mldetect.NewClient(cfg.ML.APIKey, cfg.ML.Model)
	}

	// the feed load is local and fast, wait for it before scanning
	for !intel.Ready() {
		time.Sleep(10 * time.Millisecond)
	}

	outputs := make([]scanOutput, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			outputs[i] = scanOne(ctx, svc, uploads, file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	var exitErr error
	for _, out := range outputs {
		if err := enc.Encode(out); err != nil {
			return err
		}
		if out.Error != "" {
			exitErr = fmt.Errorf("one or more scans failed")
		}
	}
	return exitErr
}

func scanOne(ctx context.Context, svc *appscans.Service, uploads *storage.Uploads, file string) scanOutput {
	out := scanOutput{File: file}

	// scan a staged copy so the pipeline's deletion never touches the original
	staged, err := uploads.Stage(file)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	res, err := svc.Scan(ctx, appscans.ScanRequest{
		ScanID:   domain.NewScanID(),
		Path:     staged,
		Filename: file,
	})
	if err != nil {
		out.Error = err.Error()
		return out
	}

	out.Result = res
	out.Summary = risk.Summary(res.Risk)
	return out
}
