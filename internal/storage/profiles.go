package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gatelink/internal/models"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProfileStore is the read/write contract for saved server profiles. The
// connection core only ever calls Get and UpdateLastUsed.
type ProfileStore interface {
	Get(ctx context.Context, id string) (*models.ServerProfile, error)
	List(ctx context.Context) ([]*models.ServerProfile, error)
	Save(ctx context.Context, profile *models.ServerProfile) error
	Delete(ctx context.Context, id string) error
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}

// ErrProfileNotFound is returned by Get for unknown profile ids.
var ErrProfileNotFound = errors.New("profile not found")

// SQLiteProfileStore persists profiles in a local SQLite database.
// Protocol-specific config payloads are stored as a JSON column so schema
// changes track the models package, not migrations.
type SQLiteProfileStore struct {
	db *sql.DB
}

func OpenProfileStore(storage *AppStorage) (*SQLiteProfileStore, error) {
	return openProfileStoreAt(filepath.Join(storage.DBPath(), "gatelink.db"))
}

func openProfileStoreAt(dbPath string) (*SQLiteProfileStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteProfileStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS profiles (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            protocol TEXT NOT NULL,
            host TEXT NOT NULL,
            port INTEGER NOT NULL,
            config TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            last_used_at TIMESTAMP
        )
    `)
	return err
}

func (s *SQLiteProfileStore) Close() error {
	return s.db.Close()
}

type profileConfig struct {
	WireGuard *models.WireGuardConfig `json:"wireguard,omitempty"`
	VLESS     *models.VLESSConfig     `json:"vless,omitempty"`
}

func (s *SQLiteProfileStore) Save(ctx context.Context, profile *models.ServerProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	config, err := json.Marshal(profileConfig{
		WireGuard: profile.WireGuard,
		VLESS:     profile.VLESS,
	})
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO profiles (id, name, protocol, host, port, config, created_at, last_used_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            protocol = excluded.protocol,
            host = excluded.host,
            port = excluded.port,
            config = excluded.config
    `, profile.ID, profile.Name, string(profile.Protocol), profile.Host, profile.Port,
		string(config), profile.CreatedAt, profile.LastUsedAt)
	return err
}

func (s *SQLiteProfileStore) Get(ctx context.Context, id string) (*models.ServerProfile, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, name, protocol, host, port, config, created_at, last_used_at
        FROM profiles WHERE id = ?
    `, id)
	profile, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return profile, err
}

func (s *SQLiteProfileStore) List(ctx context.Context) ([]*models.ServerProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, protocol, host, port, config, created_at, last_used_at
        FROM profiles ORDER BY name
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.ServerProfile
	for rows.Next() {
		profile, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func scanProfile(scan func(...any) error) (*models.ServerProfile, error) {
	var (
		profile  models.ServerProfile
		protocol string
		config   string
		lastUsed sql.NullTime
	)
	err := scan(&profile.ID, &profile.Name, &protocol, &profile.Host, &profile.Port,
		&config, &profile.CreatedAt, &lastUsed)
	if err != nil {
		return nil, err
	}
	profile.Protocol = models.Protocol(protocol)
	if lastUsed.Valid {
		profile.LastUsedAt = &lastUsed.Time
	}

	var pc profileConfig
	if err := json.Unmarshal([]byte(config), &pc); err != nil {
		return nil, fmt.Errorf("profile %s config is corrupt: %w", profile.ID, err)
	}
	profile.WireGuard = pc.WireGuard
	profile.VLESS = pc.VLESS
	return &profile, nil
}

func (s *SQLiteProfileStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	return err
}

func (s *SQLiteProfileStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET last_used_at = ? WHERE id = ?`, at, id)
	return err
}
