package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tradecore/execd/internal/app"
	"github.com/tradecore/execd/internal/config"
)

func main() {
	// .env is optional; real deployments inject the environment
	if err := godotenv.Load(); err == nil {
		fmt.Println("📄 Loaded .env file")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("❌ Failed to start: %v", err)
	}

	fmt.Printf("🚀 execd running (%s, exchange: %s)\n", cfg.Environment, cfg.Exchange.Name)
	fmt.Printf("   admin :%d | metrics :%d | health :%d\n",
		cfg.Admin.Port, cfg.Monitoring.PrometheusPort, cfg.Monitoring.HealthPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 Shutting down...")
	cancel()
	application.Stop()
	fmt.Println("✅ Shutdown complete")
}
