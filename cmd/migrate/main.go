package main

import (
	"context"
	"flag"
	"log"

	"attendbot/internal/config"
	"attendbot/internal/db/backend"
	"attendbot/internal/db/seed"
	"attendbot/internal/timeouts"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	seedPath := flag.String("seed", "", "optional YAML file with companies and users to load")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Connect)
	defer cancel()

	store, err := backend.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	defer store.Close()

	if *seedPath != "" {
		f, err := seed.Load(*seedPath)
		if err != nil {
			log.Fatalf("Failed to load seed file: %v", err)
		}
		if err := seed.Apply(context.Background(), store, f); err != nil {
			log.Fatalf("Failed to apply seed file: %v", err)
		}
		log.Printf("Seeded %d users and %d companies", len(f.Users), len(f.Companies))
	}

	log.Println("Migration completed successfully")
}
