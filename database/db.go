package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "anointdb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Orders are only ever status-transitioned, never deleted.
	createTables := `
	CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		seal_array_id VARCHAR(255) NOT NULL,
		items JSONB NOT NULL DEFAULT '[]',
		customer_email VARCHAR(255) NOT NULL DEFAULT '',
		amount NUMERIC(10,2) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_gateway VARCHAR(20) NOT NULL,
		payment_id VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		paid_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id SERIAL PRIMARY KEY,
		gateway VARCHAR(20) NOT NULL,
		event_id VARCHAR(255) NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (gateway, event_id)
	);

	CREATE TABLE IF NOT EXISTS download_links (
		id UUID PRIMARY KEY,
		token VARCHAR(255) UNIQUE NOT NULL,
		order_id UUID NOT NULL,
		product_id VARCHAR(255) NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		max_downloads INT NOT NULL DEFAULT 5,
		downloads INT NOT NULL DEFAULT 0,
		revoked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(createTables); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
