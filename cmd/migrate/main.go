package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"resume-billing/internal/config"
	"resume-billing/internal/infra/db/migrations"
	pg "resume-billing/internal/infra/db/postgres"
	"resume-billing/internal/infra/logging"
)

var statusOnly = flag.Bool("status", false, "print the schema version and exit")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if !*statusOnly {
		if err := migrations.Up(ctx, pool, logger); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	v, err := migrations.Version(ctx, pool)
	if err != nil {
		log.Fatalf("schema version: %v", err)
	}
	fmt.Printf("schema version: %d\n", v)
}
