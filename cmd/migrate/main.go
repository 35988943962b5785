package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/thundertext/thundertext/internal/store/postgres"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Connection string from DATABASE_URL or the first argument
	connStr := os.Getenv(postgres.DefaultConnStringEnv)
	if len(os.Args) > 1 {
		connStr = os.Args[1]
	}
	if connStr == "" {
		log.Fatalf("%s is not set and no connection string was given", postgres.DefaultConnStringEnv)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping: %v", err)
	}

	fmt.Println("Connected to database")
	fmt.Println("Running 001_initial_schema...")

	if _, err := db.ExecContext(ctx, postgres.InitialSchema); err != nil {
		log.Fatalf("Failed to execute 001_initial_schema: %v", err)
	}

	fmt.Println("All migrations completed successfully")
}
