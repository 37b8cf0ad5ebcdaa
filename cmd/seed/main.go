package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// Seeds a local database with a demo team, an admin, an agent, and a
// platform-linked account so the API is usable right after `make migrate`.
func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	const teamID = "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"
	_, err = db.Exec(`
		INSERT INTO teams (id, name, slug)
		VALUES ($1, 'Demo Team', 'demo')
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, teamID)
	if err != nil {
		log.Fatal("Failed to create team: ", err)
	}

	users := []struct {
		id, name, email, role string
		remoteAgentID         int64
	}{
		{"b0eebc99-9c0b-4ef8-bb6d-6bb9bd380a22", "Demo Admin", "admin@stillwater.local", "admin", 1},
		{"c0eebc99-9c0b-4ef8-bb6d-6bb9bd380a33", "Demo Agent", "agent@stillwater.local", "agent", 2},
	}
	for _, u := range users {
		_, err = db.Exec(`
			INSERT INTO users (id, name, email, role, remote_agent_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role
		`, u.id, u.name, u.email, u.role, u.remoteAgentID)
		if err != nil {
			log.Fatalf("Failed to create user %s: %v", u.email, err)
		}
		_, err = db.Exec(`
			INSERT INTO user_teams (user_id, team_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, u.id, teamID)
		if err != nil {
			log.Fatalf("Failed to link user %s: %v", u.email, err)
		}
	}

	const platformID = "d0eebc99-9c0b-4ef8-bb6d-6bb9bd380a44"
	baseURL := os.Getenv("SEED_PLATFORM_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	apiKey := os.Getenv("SEED_PLATFORM_API_KEY")
	if apiKey == "" {
		apiKey = "dev-api-key"
	}
	_, err = db.Exec(`
		INSERT INTO platforms (id, name, kind, base_url, api_key)
		VALUES ($1, 'Local Chatwoot', 'chatwoot', $2, $3)
		ON CONFLICT (id) DO UPDATE SET base_url = EXCLUDED.base_url, api_key = EXCLUDED.api_key
	`, platformID, baseURL, apiKey)
	if err != nil {
		log.Fatal("Failed to create platform: ", err)
	}

	_, err = db.Exec(`
		INSERT INTO accounts (id, team_id, platform_id, remote_account_id, name)
		VALUES ('e0eebc99-9c0b-4ef8-bb6d-6bb9bd380a55', $1, $2, 1, 'Demo Account')
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, teamID, platformID)
	if err != nil {
		log.Fatal("Failed to create account: ", err)
	}

	var slug string
	if err := db.QueryRow(`SELECT slug FROM teams WHERE id = $1`, teamID).Scan(&slug); err != nil {
		log.Fatal("Failed to verify: ", err)
	}
	fmt.Printf("Seeded team %q with 2 users and 1 platform account\n", slug)
}
