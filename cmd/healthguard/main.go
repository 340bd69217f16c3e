package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/healthguardpro/healthguard/internal/alert"
	"github.com/healthguardpro/healthguard/internal/ble"
	"github.com/healthguardpro/healthguard/internal/config"
	"github.com/healthguardpro/healthguard/internal/record"
	"github.com/healthguardpro/healthguard/internal/server"
	"github.com/healthguardpro/healthguard/internal/vitals"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/healthguard/config.yaml)")
	scanOnly := flag.Bool("scan", false, "scan for health devices, print results and exit")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	setupLogging(cfg.LogLevel)

	scanTimeout := time.Duration(cfg.ScanTimeoutSeconds) * time.Second
	store := vitals.NewStore()
	monitor := ble.NewMonitor(ble.NewHostAdapter(), store, func(address string) {
		log.Printf("Link to %s lost; reconnect via POST /api/connect", address)
	})

	if *scanOnly {
		runScan(monitor, scanTimeout)
		return
	}

	// Persistence collaborator
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		log.Fatalf("create data directory: %v", err)
	}
	recorder, err := record.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open records database: %v", err)
	}
	defer recorder.Close()
	store.Subscribe(recorder.HandleUpdate)
	log.Printf("Recording vitals to %s", cfg.DatabasePath)

	// Threshold alerting collaborator
	var engine *alert.Engine
	if cfg.Alerts.Enabled {
		var notifier alert.Notifier
		if cfg.Twilio.Configured() {
			notifier = alert.NewTwilioNotifier(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.PhoneNumber)
			log.Printf("Emergency SMS enabled (%d contacts)", len(cfg.Alerts.Contacts))
		} else {
			log.Println("Twilio not configured - emergencies will be logged only")
		}
		engine = alert.NewEngine(
			cfg.Alerts.Thresholds,
			cfg.Alerts.Contacts,
			notifier,
			cfg.UserName,
			time.Duration(cfg.Alerts.CooldownSeconds)*time.Second,
		)
		store.Subscribe(engine.HandleUpdate)
	}

	// Optional auto-connect at startup; failure is not fatal, the API can
	// retry.
	if cfg.DeviceAddress != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := monitor.Connect(ctx, cfg.DeviceAddress); err != nil {
			log.Printf("WARNING: connect to %s failed: %v", cfg.DeviceAddress, err)
		}
		cancel()
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(monitor, engine, recorder, scanTimeout).Router(),
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-sigCh
	log.Println("Shutting down...")

	monitor.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// runScan performs one discovery cycle and prints the candidates.
func runScan(monitor *ble.Monitor, timeout time.Duration) {
	log.Printf("Scanning for health devices for %s...", timeout)
	devices, err := monitor.Scan(context.Background(), timeout)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	if len(devices) == 0 {
		log.Println("No health devices found")
		return
	}
	for i, d := range devices {
		fmt.Printf("%d. %s (%s) - RSSI: %d\n", i+1, d.Name, d.Address, d.RSSI)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
