package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stillwaterhq/stillwater/internal/middleware"
)

var (
	// ErrNoPlatformLink is returned when an account is not linked to a platform.
	ErrNoPlatformLink = errors.New("account has no platform link")
	// ErrIncompleteCredentials is returned when a platform is missing its
	// base URL or API key.
	ErrIncompleteCredentials = errors.New("platform credentials are incomplete")
)

// Platform holds the base URL and API credentials for one remote service.
type Platform struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	BaseURL   string    `json:"base_url"`
	APIKey    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a tenant-scoped handle on one remote platform account.
type Account struct {
	ID              string    `json:"id"`
	TeamID          string    `json:"team_id"`
	PlatformID      *string   `json:"platform_id,omitempty"`
	RemoteAccountID int64     `json:"remote_account_id"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
}

// Credentials is the resolved (base URL, API key, remote account) triple
// needed to reach the remote platform on behalf of an account.
type Credentials struct {
	BaseURL         string
	APIKey          string
	RemoteAccountID int64
}

// AccountStore provides account and platform configuration lookups.
type AccountStore struct {
	db *sql.DB
}

const accountSelectColumns = `
	id,
	team_id,
	platform_id,
	remote_account_id,
	name,
	created_at
`

// NewAccountStore creates a new AccountStore.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// CreatePlatform inserts a platform configuration row. Platforms are
// service-global, not team-scoped.
func (s *AccountStore) CreatePlatform(ctx context.Context, name, kind, baseURL, apiKey string) (*Platform, error) {
	var platform Platform
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO platforms (name, kind, base_url, api_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, kind, base_url, api_key, created_at
	`, strings.TrimSpace(name), strings.TrimSpace(kind), strings.TrimSpace(baseURL), strings.TrimSpace(apiKey)).Scan(
		&platform.ID,
		&platform.Name,
		&platform.Kind,
		&platform.BaseURL,
		&platform.APIKey,
		&platform.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform: %w", err)
	}
	return &platform, nil
}

// Create inserts a new account in the current team.
func (s *AccountStore) Create(ctx context.Context, platformID *string, remoteAccountID int64, name string) (*Account, error) {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		return nil, ErrNoTeam
	}

	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	account, err := scanAccount(conn.QueryRowContext(ctx, `
		INSERT INTO accounts (team_id, platform_id, remote_account_id, name)
		VALUES ($1, $2, $3, $4)
		RETURNING `+accountSelectColumns,
		teamID, platformID, remoteAccountID, strings.TrimSpace(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &account, nil
}

// GetByID returns one account by ID in the current team.
func (s *AccountStore) GetByID(ctx context.Context, id string) (*Account, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	account, err := scanAccount(conn.QueryRowContext(ctx, `
		SELECT `+accountSelectColumns+`
		FROM accounts
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}
	return &account, nil
}

// List returns all accounts in the current team.
func (s *AccountStore) List(ctx context.Context) ([]Account, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT `+accountSelectColumns+`
		FROM accounts
		WHERE team_id = $1
		ORDER BY lower(name), id
	`, middleware.TeamFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan account: %w", scanErr)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return accounts, nil
}

// Delete removes an account row. Dependent rows are expected to be purged
// by the cascade resolver before this is called.
func (s *AccountStore) Delete(ctx context.Context, id string) error {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		DELETE FROM accounts
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect account delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveCredentials escalates Account -> Platform -> (base URL, API key).
// Every missing link is a hard configuration error: callers must not push
// to the remote platform with partial credentials.
func (s *AccountStore) ResolveCredentials(ctx context.Context, accountID string) (*Credentials, error) {
	account, err := s.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.PlatformID == nil {
		return nil, fmt.Errorf("account %s: %w", account.ID, ErrNoPlatformLink)
	}

	var baseURL, apiKey string
	err = s.db.QueryRowContext(ctx, `
		SELECT base_url, api_key
		FROM platforms
		WHERE id = $1
	`, *account.PlatformID).Scan(&baseURL, &apiKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("platform %s: %w", *account.PlatformID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve platform credentials: %w", err)
	}

	if strings.TrimSpace(baseURL) == "" || strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("platform %s: %w", *account.PlatformID, ErrIncompleteCredentials)
	}

	return &Credentials{
		BaseURL:         baseURL,
		APIKey:          apiKey,
		RemoteAccountID: account.RemoteAccountID,
	}, nil
}

// TeamForAccount resolves which team owns an account. Used by inbound
// webhook ingestion, which authenticates by signature rather than by
// team context.
func (s *AccountStore) TeamForAccount(ctx context.Context, accountID string) (string, error) {
	var teamID string
	err := s.db.QueryRowContext(ctx, `
		SELECT team_id FROM accounts WHERE id = $1
	`, accountID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to resolve account team: %w", err)
	}
	return teamID, nil
}

func scanAccount(scanner interface{ Scan(...any) error }) (Account, error) {
	var (
		item       Account
		platformID sql.NullString
	)
	err := scanner.Scan(
		&item.ID,
		&item.TeamID,
		&platformID,
		&item.RemoteAccountID,
		&item.Name,
		&item.CreatedAt,
	)
	if err != nil {
		return item, err
	}
	if platformID.Valid {
		item.PlatformID = &platformID.String
	}
	return item, nil
}
