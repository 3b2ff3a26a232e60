// Package main is a diagnostic tool for testing event-store connectivity and
// inspecting live monitor data. It connects to the configured store and prints
// the schema version, ingest cursor, event statistics, most recent events, and
// busiest clients. The binary exits with a non-zero code on any failure so it
// can be embedded in health checks or CI/CD pipeline steps to gate deployments
// on a reachable, populated store.
//
// Passing --reset-cursor clears the ingest cursor so the next poll re-reads
// the access log from the beginning. Inserts are idempotent on line identity,
// so the replay dedupes against what is already stored.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aihub/gateway-monitor/internal/config"
	"github.com/aihub/gateway-monitor/internal/db"
	"github.com/aihub/gateway-monitor/internal/db/repositories"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.Driver, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	repo := repositories.NewEventRepository(sqlx.NewDb(database, cfg.Database.Driver))
	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "--reset-cursor" {
		if err := repo.ResetCursor(ctx); err != nil {
			log.Fatalf("Failed to reset cursor: %v", err)
		}
		fmt.Println("Ingest cursor cleared; the next poll re-reads the log from offset 0")
		return
	}

	// Check schema version
	fmt.Println("=== SCHEMA ===")
	schemaVersion, dirty, err := db.GetMigrationVersion(database, cfg.Database.Driver)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Migration version: %d (dirty: %v)\n", schemaVersion, dirty)

	// Check cursor
	fmt.Println("\n=== INGEST CURSOR ===")
	cursor, err := repo.GetCursor(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if cursor == nil {
		fmt.Println("No cursor stored (nothing ingested yet)")
	} else {
		fmt.Printf("File identity: %s\n", cursor.FileIdentity)
		fmt.Printf("Byte offset:   %d\n", cursor.ByteOffset)
		fmt.Printf("Last sequence: %d\n", cursor.LastSequence)
		fmt.Printf("Updated:       %s\n", cursor.UpdatedAt.UTC().Format(time.RFC3339))
	}

	// Check store stats
	fmt.Println("\n=== EVENT STORE ===")
	stats, err := repo.Stats(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Events:  %d (flagged: %d)\n", stats.Events, stats.Flagged)
	if stats.Oldest != nil && stats.Newest != nil {
		fmt.Printf("Oldest:  %s\n", stats.Oldest.UTC().Format(time.RFC3339))
		fmt.Printf("Newest:  %s\n", stats.Newest.UTC().Format(time.RFC3339))
	}

	// Show recent events
	fmt.Println("\n=== RECENT EVENTS ===")
	rows, err := database.Query("SELECT sequence, ts_unix_ms, client_ip, request_method, request_path, status FROM access_events ORDER BY ts_unix_ms DESC, sequence DESC LIMIT 5")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var sequence, tsMs int64
		var client, method, path string
		var status int
		if err := rows.Scan(&sequence, &tsMs, &client, &method, &path, &status); err != nil {
			log.Printf("Warning: failed to scan event row: %v", err)
			continue
		}
		fmt.Printf("#%d %s %s %s %s -> %d\n", sequence,
			time.UnixMilli(tsMs).UTC().Format(time.RFC3339), client, method, path, status)
		count++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Row iteration failed: %v", err)
	}

	if count == 0 {
		fmt.Println("No events found!")
	}

	// Show the busiest clients
	fmt.Println("\n=== TOP CLIENTS ===")
	clientRows, err := database.Query("SELECT client_ip, COUNT(*) AS requests FROM access_events GROUP BY client_ip ORDER BY requests DESC LIMIT 5")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer clientRows.Close()

	for clientRows.Next() {
		var client string
		var requests int64
		if err := clientRows.Scan(&client, &requests); err != nil {
			log.Printf("Warning: failed to scan client row: %v", err)
			continue
		}
		fmt.Printf("%-40s %d requests\n", client, requests)
	}
	if err := clientRows.Err(); err != nil {
		log.Fatalf("Row iteration failed: %v", err)
	}
}
