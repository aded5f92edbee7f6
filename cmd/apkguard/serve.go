package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/apkguard/internal/application"
	appscans "github.com/bryanwahyu/apkguard/internal/application/scans"
	"github.com/bryanwahyu/apkguard/internal/config"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/apkinfo"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/banking"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/heuristics"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/mldetect"
	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/threatintel"
	"github.com/bryanwahyu/apkguard/internal/infra/httpserver"
	"github.com/bryanwahyu/apkguard/internal/infra/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the APK scanning HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	ctx := context.Background()

	uploads, err := storage.NewUploads(cfg.Upload.Dir, cfg.Upload.MaxBytes)
	if err != nil {
		return fmt.Errorf("upload store init error: %w", err)
	}

	// threat feed loads in the background; /health reports its state
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
	if cfg.Vault.Enabled {
		vault, err := storage.NewVault(ctx,
			cfg.Vault.Endpoint,
			cfg.Vault.Region,
			cfg.Vault.BucketName,
			cfg.Vault.AccessKey,
			cfg.Vault.SecretKey,
			cfg.Vault.UseSSL,
		)
		if err != nil {
			return fmt.Errorf("vault init error: %w", err)
		}
		svc.Vault = vault
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpserver.NewRouter(svc, uploads, intel, cfg),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// run server
	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s mode=%s", addr, cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}
