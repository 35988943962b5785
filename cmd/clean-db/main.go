package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/thundertext/thundertext/internal/store/postgres"
)

// Tenant tables in reverse dependency order
var tables = []string{
	"content_samples",
	"shops",
}

var demoShops = []struct {
	id, domain string
}{
	{"shop-a", "shop-a.myshopify.com"},
	{"shop-b", "shop-b.myshopify.com"},
}

func main() {
	ctx := context.Background()

	connStr := os.Getenv(postgres.DefaultConnStringEnv)
	if connStr == "" {
		log.Fatalf("%s is not set", postgres.DefaultConnStringEnv)
	}
	seed := len(os.Args) > 1 && os.Args[1] == "--seed"

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	fmt.Println("Cleaning database...")

	for _, table := range tables {
		if _, err := conn.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{table}.Sanitize()+" CASCADE"); err != nil {
			fmt.Printf("Warning: failed to truncate %s: %v\n", table, err)
		} else {
			fmt.Printf("Cleared %s\n", table)
		}
	}

	if seed {
		fmt.Println("Inserting demo shops...")
		batch := &pgx.Batch{}
		for _, s := range demoShops {
			batch.Queue(`INSERT INTO shops (id, shop_domain) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, s.id, s.domain)
		}
		if err := conn.SendBatch(ctx, batch).Close(); err != nil {
			log.Fatalf("Failed to insert demo shops: %v", err)
		}
		for _, s := range demoShops {
			fmt.Printf("Created shop: %s\n", s.id)
		}
	}

	fmt.Println("Database cleaned successfully")
}
