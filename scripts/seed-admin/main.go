// Command seed-admin creates or resets the initial admin account the API
// needs before anyone can log in.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sst-nyc/registration-api/pkg/config"
	"github.com/sst-nyc/registration-api/pkg/database"
)

func main() {
	var (
		email    string
		username string
		password string
	)
	flag.StringVar(&email, "email", "", "admin email address")
	flag.StringVar(&username, "username", "admin", "admin username")
	flag.StringVar(&password, "password", "", "admin password")
	flag.Parse()

	if email == "" || password == "" {
		log.Fatal("both -email and -password are required")
	}
	if len(password) < 10 {
		log.Fatal("password must be at least 10 characters")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close() //nolint:errcheck

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, first_name, last_name, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'Site', 'Admin', 'ADMIN', TRUE, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, role = 'ADMIN', active = TRUE, updated_at = NOW()`,
		uuid.NewString(), username, email, string(hash))
	if err != nil {
		log.Fatalf("failed to upsert admin user: %v", err)
	}

	rows, _ := res.RowsAffected()
	log.Printf("admin account ready (email=%s, rows=%d)", email, rows)
}
