// Command txnmgrd runs the transaction-session-manager core alongside its
// admin HTTP surface and background timeout scanner, grounded on the
// teacher's cmd/server/main.go wiring and graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dev.helix.code/internal/admin"
	"dev.helix.code/internal/containerstore"
	"dev.helix.code/internal/scanner"
	"dev.helix.code/internal/txnconfig"
	"dev.helix.code/internal/txnmanager"
)

var (
	version = "0.1.0"
)

func main() {
	configPath := flag.String("config", "", "path to txnmgr config file")
	flag.Parse()

	log.Printf("starting txnmgrd v%s", version)

	cfg, err := txnconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := containerstore.New(ctx, containerstore.Config{
		Host:    envOr("TXNMGR_DB_HOST", "localhost"),
		Port:    5432,
		User:    envOr("TXNMGR_DB_USER", "txnmgr"),
		DBName:  envOr("TXNMGR_DB_NAME", "txnmgr"),
		SSLMode: "disable",
	})
	cancel()
	if err != nil {
		log.Fatalf("failed to initialize container store: %v", err)
	}
	defer store.Close()

	manager, err := txnmanager.New(txnmanager.Options{
		PartitionCount:        cfg.PartitionCount,
		PartitionGroupCount:   cfg.PartitionGroupCount,
		MinTimeoutSec:         cfg.MinTxnTimeoutSec,
		StableTimeoutSec:      cfg.StableTxnTimeoutSec,
		CeilingTimeoutSec:     cfg.TransactionTimeoutLimitSec,
		ReplicationTimeoutSec: cfg.ReplicationTimeoutIntervalSec,
		ReplyCacheSize:        cfg.ReplyCacheSize,
	}, store)
	if err != nil {
		log.Fatalf("failed to initialize transaction manager: %v", err)
	}

	flags := make([]bool, cfg.PartitionCount)
	for i := range flags {
		flags[i] = true
	}
	scan := scanner.New(scanner.Config{
		GroupCount:          cfg.PartitionGroupCount,
		Interval:            time.Second,
		CheckPartitionFlags: flags,
	}, manager)

	scanCtx, stopScan := context.WithCancel(context.Background())
	go func() {
		if err := scan.Run(scanCtx); err != nil {
			log.Printf("scanner stopped: %v", err)
		}
	}()

	adminSrv := admin.New(admin.Config{
		Address:         "0.0.0.0",
		Port:            8090,
		ConnectionLimit: cfg.ConnectionLimit,
	}, manager)

	go func() {
		if err := adminSrv.Start(); err != nil {
			log.Fatalf("admin server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down txnmgrd...")

	stopScan()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("admin server forced to shutdown: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
