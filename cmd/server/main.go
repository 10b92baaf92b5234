package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camscout/internal/config"
	"camscout/internal/digest"
	"camscout/internal/domain"
	"camscout/internal/handler"
	"camscout/internal/hub"
	"camscout/internal/identify"
	"camscout/internal/listen"
	"camscout/internal/negotiate"
	"camscout/internal/netplan"
	"camscout/internal/prediscovery"
	"camscout/internal/probe"
	"camscout/internal/repository/sqlite"
	"camscout/internal/scan"
	"camscout/internal/service"
	"camscout/internal/watcher"
)

func main() {
	// Command line flags
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "", "config file path (overrides search)")
	cachePath := flag.String("cache", "", "cache database path (overrides config)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting camscout server...")

	// Load configuration
	var cfg *config.Config
	var cfgFile string
	var err error
	if *configPath != "" {
		cfg, cfgFile, err = config.LoadFromPath(*configPath)
	} else {
		cfg, cfgFile, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfgFile != "" {
		log.Printf("Configuration loaded: %s", cfgFile)
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *cachePath != "" {
		cfg.CachePath = *cachePath
	}

	// Open the probe/candidate cache
	store, err := sqlite.New(cfg.CachePath)
	if err != nil {
		log.Fatalf("Failed to open cache database: %v", err)
	}
	defer store.Close()
	log.Printf("Cache database opened: %s", cfg.CachePath)

	// Core state
	registry := domain.NewRegistry()
	eventBus := service.NewEventBus()

	// SSE hub
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	sseHub := hub.New(eventBus)
	go sseHub.Run(rootCtx)

	// Discovery pipeline
	client := digest.NewClient(cfg.Scan.HTTPTimeout)
	identifier := identify.New(client, cfg.Vendor.ParamPath, cfg.Vendor.Markers, cfg.Vendor.SpeakerKeywords)
	negotiator := negotiate.New(probe.New(cfg.Scan.ProbeTimeout, nil), identifier, store)

	var listener scan.AnnouncementSource
	if cfg.Service.Enabled {
		listener = listen.New(cfg.Service.Types, cfg.Service.Window)
	}

	orchestrator := scan.New(scan.Config{
		Concurrency:  cfg.Scan.Concurrency,
		ProbeTimeout: cfg.Scan.ProbeTimeout,
		Markers:      cfg.Vendor.Markers,
	}, identifier, listener, registry, store, eventBus)

	if cfg.Scan.UseNmap {
		sweeper := probe.NewSweeper(2 * time.Minute)
		if sweeper.Available(rootCtx) {
			orchestrator.SetSweeper(sweeper)
			log.Println("nmap pre-filter enabled")
		} else {
			log.Println("nmap requested but not available, using the built-in prober")
		}
	}

	// Opportunistic startup pass
	var preRunner *prediscovery.Runner
	if cfg.PreDiscovery.Enabled {
		preListener := listen.New(cfg.Service.Types, cfg.PreDiscovery.ServiceTimeout)
		preOrchestrator := scan.New(scan.Config{
			Concurrency:  cfg.Scan.Concurrency,
			ProbeTimeout: cfg.Scan.ProbeTimeout,
			Markers:      cfg.Vendor.Markers,
		}, identifier, preListener, registry, store, eventBus)

		preRunner = prediscovery.New(prediscovery.Config{
			SettleDelay:      cfg.PreDiscovery.SettleDelay,
			Budget:           cfg.PreDiscovery.Budget,
			PrioritySuffixes: cfg.PreDiscovery.PrioritySuffixes,
		}, preOrchestrator, netplan.Plan, store, identifier, registry, eventBus)

		go func() {
			if err := preRunner.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				log.Printf("Pre-discovery pass: %v", err)
			}
		}()
	}

	// Service facade and HTTP handlers
	svc := service.NewDiscoveryService(cfg, registry, store, orchestrator, negotiator, identifier, preRunner, eventBus)
	discoveryHandler := handler.NewDiscoveryHandler(svc)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", discoveryHandler.Health)

	// Scans
	mux.HandleFunc("POST /api/scan", discoveryHandler.StartScan)
	mux.HandleFunc("GET /api/scan", discoveryHandler.ListScans)
	mux.HandleFunc("POST /api/scan/service", discoveryHandler.StartServiceScan)
	mux.HandleFunc("POST /api/scan/{id}/cancel", discoveryHandler.CancelScan)

	// Devices
	mux.HandleFunc("GET /api/devices", discoveryHandler.ListDevices)
	mux.HandleFunc("POST /api/devices/{id}/test", discoveryHandler.TestDevice)
	mux.HandleFunc("POST /api/test", discoveryHandler.TestCredentials)

	// Pre-discovery cache
	mux.HandleFunc("GET /api/prediscovery", discoveryHandler.GetPreDiscovery)
	mux.HandleFunc("POST /api/candidates/classify", discoveryHandler.ClassifyCandidates)
	mux.HandleFunc("DELETE /api/cache", discoveryHandler.ClearCache)

	// Environment
	mux.HandleFunc("GET /api/interfaces", discoveryHandler.ListInterfaces)

	// SSE events endpoint
	mux.Handle("GET /events", sseHub)

	// Apply middleware
	finalHandler := handler.Chain(mux,
		handler.Recover,
		handler.CORS,
		handler.Logger,
	)

	// Reload config when the file changes
	if cfgFile != "" {
		w := watcher.New(cfgFile, func() {
			fresh, _, err := config.LoadFromPath(cfgFile)
			if err != nil {
				log.Printf("Config reload failed, keeping previous settings: %v", err)
				return
			}
			svc.UpdateConfig(fresh)
			log.Println("Configuration reloaded; new scans use the updated settings")
		})
		go func() {
			if err := w.Watch(rootCtx); err != nil && rootCtx.Err() == nil {
				log.Printf("Config watcher stopped: %v", err)
			}
		}()
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      finalHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	rootCancel()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
