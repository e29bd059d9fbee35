package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"pagepulse/internal/config"
	"pagepulse/internal/ingest"
	"pagepulse/internal/notify"
	"pagepulse/internal/refresh"
	"pagepulse/internal/registry"
	"pagepulse/internal/secrets"
	"pagepulse/internal/server"
	"pagepulse/internal/store"
	"pagepulse/internal/webhook"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "serve":
		cmdServe()
	case "seed-tenant":
		cmdSeedTenant()
	default:
		printHelp()
	}
}

func printHelp() {
	fmt.Println("Usage: pagepulse <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init         Create a config file at ./pagepulse.yaml")
	fmt.Println("  serve        Run the webhook ingestion server")
	fmt.Println("  seed-tenant  Encrypt a page token and upsert a tenant row")
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./pagepulse.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	if err := config.Save(*path, config.Default()); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(*path)
	fmt.Println("Config written to:", abs)
}

func loadConfig(path string) config.Config {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}
	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		cfg = config.Default()
		cfg.ResolveEnv()
	} else if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func mustDecodeKey(cfg config.Config) []byte {
	if cfg.Security.EncryptionKey == "" {
		logrus.Fatal("ENCRYPTION_KEY is required to decrypt tenant page tokens")
	}
	key, err := secrets.DecodeKey(cfg.Security.EncryptionKey)
	if err != nil {
		logrus.Fatalf("Invalid encryption key: %v", err)
	}
	if len(key) != 32 {
		logrus.Fatalf("Encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key
}

func cmdServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "./pagepulse.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg := loadConfig(*cfgPath)

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Server.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.Info("Starting pagepulse")

	key := mustDecodeKey(cfg)

	st, err := store.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	notifier := notify.NewService(cfg.Alerts.WebhookURL)
	reg := registry.New(st, key, notifier)
	if _, err := reg.Load(context.Background()); err != nil {
		logrus.Fatalf("Failed to load tenant registry: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disp := webhook.NewDispatcher(reg, ingest.New(st), 256)
	go disp.Run(ctx)

	runner := refresh.NewExecRunner(time.Duration(cfg.Refresh.TimeoutSeconds) * time.Second)
	orch := refresh.New(cfg.Refresh, runner, notifier)

	var c *cron.Cron
	if cfg.Registry.ReloadSchedule != "" {
		c = cron.New()
		_, err := c.AddFunc(cfg.Registry.ReloadSchedule, func() {
			if _, err := reg.Reload(context.Background()); err != nil {
				logrus.Errorf("Scheduled registry reload failed: %v", err)
			}
		})
		if err != nil {
			logrus.Fatalf("Invalid registry reload schedule: %v", err)
		}
		c.Start()
		defer c.Stop()
	}

	srv := server.New(cfg, reg, disp, orch)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server listening on :%d", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server shutdown error: %v", err)
	}
}

func cmdSeedTenant() {
	fs := flag.NewFlagSet("seed-tenant", flag.ExitOnError)
	cfgPath := fs.String("config", "./pagepulse.yaml", "config path")
	assetID := fs.String("asset", "", "business asset id")
	name := fs.String("name", "", "tenant display name")
	pageID := fs.String("page", "", "platform page id")
	token := fs.String("token", "", "plaintext page access token")
	_ = fs.Parse(os.Args[2:])
	if *assetID == "" || *pageID == "" || *token == "" {
		fmt.Println("error: -asset, -page and -token are required")
		os.Exit(1)
	}
	cfg := loadConfig(*cfgPath)
	key := mustDecodeKey(cfg)

	enc, err := secrets.Encrypt(*token, key)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	st, err := store.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	defer st.Close()
	err = st.UpsertTenant(context.Background(), store.TenantRow{
		AssetID: *assetID, Name: *name, PageID: *pageID, EncryptedToken: enc,
	}, true)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Printf("Tenant %s (page %s) seeded\n", *assetID, *pageID)
}
