package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"githook-runner/internal/app"
	"githook-runner/internal/common/logging"
	"githook-runner/internal/config"
)

func main() {
	godotenv.Load()

	nCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(nCPU)

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := application.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	fmt.Printf("Server listening on port %s\n", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println("Shutting down...")

	if err := application.Shutdown(); err != nil {
		log.Fatalf("Shutdown failed: %v", err)
	}

	fmt.Println("Server exited")
}
