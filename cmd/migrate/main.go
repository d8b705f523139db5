// Command migrate manages the engine's database schema via goose.
//
// Usage:
//
//	go run ./cmd/migrate up               # apply all pending migrations
//	go run ./cmd/migrate down             # roll back the last migration
//	go run ./cmd/migrate status           # show applied vs pending
//	go run ./cmd/migrate version          # current schema version
//
// DATABASE_URL selects the target database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|down|status|version|redo|up-to N|down-to N>")
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	if err := goose.RunContext(context.Background(), command, db, migrationsDir, args...); err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}
}
