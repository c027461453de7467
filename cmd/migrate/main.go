package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ignite/compliance-gate/internal/config"
	"github.com/ignite/compliance-gate/internal/repository/postgres"
)

// usage: migrate [up | down N | version]
func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := postgres.Open(context.Background(), cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	log.Println("Connected to database")

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := postgres.Migrate(db); err != nil {
			log.Fatal(err)
		}
	case "down":
		steps := 1
		if len(os.Args) > 2 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil || steps <= 0 {
				log.Fatalf("down: steps must be a positive integer, got %q", os.Args[2])
			}
		}
		if err := postgres.MigrateDown(db, steps); err != nil {
			log.Fatal(err)
		}
	case "version":
	default:
		log.Fatalf("unknown command %q (want up, down N or version)", cmd)
	}

	version, dirty, err := postgres.MigrationVersion(db)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
}
