package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"attendbot/internal/attendance"
	"attendbot/internal/bot"
	"attendbot/internal/config"
	"attendbot/internal/db/backend"
	"attendbot/internal/telemetry"
	"attendbot/internal/timeouts"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	log.Println("Starting attendance bot application...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Printf("Error flushing telemetry: %v", err)
		}
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, timeouts.Connect)
	store, err := backend.Open(connectCtx, cfg.Database)
	connectCancel()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		log.Println("Closing database connection...")
		if err := store.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	opts, err := attendance.OptionsFromConfig(cfg.Attendance)
	if err != nil {
		log.Fatalf("Invalid attendance settings: %v", err)
	}
	api := attendance.NewAPI(attendance.NewService(store, store, opts...))

	discordBot, err := bot.New(cfg.Discord, api, store)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	if err := discordBot.Start(ctx); err != nil {
		log.Printf("Error running bot: %v", err)
	}
	log.Println("Application shutdown complete")
}
