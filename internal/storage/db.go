// Package storage persists login sessions and last-known device snapshots so
// the daemon can resume, and the CLI can answer, while the cloud is
// unreachable.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/homgar/bridge/pkg/homgar"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sqlx.DB
	log logr.Logger
}

func NewStore(log logr.Logger, dbName string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbName)
	if err != nil {
		log.Error(err, "Failed to connect to database", "dbType", "sqlite3", "dbName", dbName)
		return nil, err
	}

	s := &Store{
		db:  db,
		log: log.WithName("Store"),
	}
	if err := s.createTables(); err != nil {
		log.Error(err, "Failed to create tables")
		return nil, err
	}

	return s, nil
}

func (s *Store) createTables() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sessions (
        email TEXT PRIMARY KEY,
        token TEXT NOT NULL,
        refresh_token TEXT,
        token_expires INTEGER NOT NULL  -- unix seconds
    );

    CREATE TABLE IF NOT EXISTS devices (
        mid TEXT NOT NULL,
        addr INTEGER NOT NULL,
        model_code INTEGER NOT NULL,
        name TEXT,
        hid TEXT,
        snapshot TEXT,  -- last-known device state, JSON
        updated_at INTEGER NOT NULL,  -- unix seconds
        PRIMARY KEY (mid, addr)
    );
`
	_, err := s.db.Exec(schema)
	if err != nil {
		s.log.Error(err, "Failed to execute create table query")
	}
	return err
}

// Close closes the database connection & syncs it to persistent storage.
func (s *Store) Close() {
	s.log.Info("Closing database connection")
	s.db.Close()
}

type sessionRow struct {
	Email        string `db:"email"`
	Token        string `db:"token"`
	RefreshToken string `db:"refresh_token"`
	TokenExpires int64  `db:"token_expires"`
}

// SaveSession upserts the login session for its account.
func (s *Store) SaveSession(ctx context.Context, auth homgar.AuthCache) error {
	query := `
    INSERT INTO sessions (email, token, refresh_token, token_expires)
    VALUES (:email, :token, :refresh_token, :token_expires)
    ON CONFLICT(email) DO UPDATE SET
        token = excluded.token,
        refresh_token = excluded.refresh_token,
        token_expires = excluded.token_expires`
	_, err := s.db.NamedExecContext(ctx, query, sessionRow{
		Email:        auth.Email,
		Token:        auth.Token,
		RefreshToken: auth.RefreshToken,
		TokenExpires: auth.TokenExpires.Unix(),
	})
	if err != nil {
		s.log.Error(err, "Failed to upsert session", "email", auth.Email)
	}
	return err
}

// GetSession restores the login session for an account, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, email string) (homgar.AuthCache, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return homgar.AuthCache{}, ErrNotFound
	}
	if err != nil {
		s.log.Error(err, "Failed to get session", "email", email)
		return homgar.AuthCache{}, err
	}
	return homgar.AuthCache{
		Email:        row.Email,
		Token:        row.Token,
		RefreshToken: row.RefreshToken,
		TokenExpires: time.Unix(row.TokenExpires, 0),
	}, nil
}

type deviceRow struct {
	MID       string `db:"mid"`
	Addr      int    `db:"addr"`
	ModelCode int    `db:"model_code"`
	Name      string `db:"name"`
	HID       string `db:"hid"`
	Snapshot  string `db:"snapshot"`
	UpdatedAt int64  `db:"updated_at"`
}

// Snapshot is a persisted last-known device state.
type Snapshot struct {
	MID       string
	Addr      int
	ModelCode int
	Name      string
	HID       string
	State     json.RawMessage
	UpdatedAt time.Time
}

// SaveDevice upserts the snapshot of one device.
func (s *Store) SaveDevice(ctx context.Context, hid string, dev homgar.Device) error {
	info := dev.Info()
	state, err := json.Marshal(dev)
	if err != nil {
		s.log.Error(err, "Failed to marshal device state", "mid", info.MID, "addr", info.Address)
		return err
	}

	query := `
    INSERT INTO devices (mid, addr, model_code, name, hid, snapshot, updated_at)
    VALUES (:mid, :addr, :model_code, :name, :hid, :snapshot, :updated_at)
    ON CONFLICT(mid, addr) DO UPDATE SET
        model_code = excluded.model_code,
        name = excluded.name,
        hid = excluded.hid,
        snapshot = excluded.snapshot,
        updated_at = excluded.updated_at`
	_, err = s.db.NamedExecContext(ctx, query, deviceRow{
		MID:       info.MID,
		Addr:      info.Address,
		ModelCode: info.ModelCode,
		Name:      info.Name,
		HID:       hid,
		Snapshot:  string(state),
		UpdatedAt: time.Now().Unix(),
	})
	if err != nil {
		s.log.Error(err, "Failed to upsert device", "mid", info.MID, "addr", info.Address)
	}
	return err
}

// GetAllDevices returns the snapshots of all known devices.
func (s *Store) GetAllDevices(ctx context.Context) ([]Snapshot, error) {
	rows := make([]deviceRow, 0)
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM devices ORDER BY mid, addr`)
	if err != nil {
		s.log.Error(err, "Failed to get all devices")
		return nil, err
	}
	snapshots := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snapshots = append(snapshots, row.snapshot())
	}
	return snapshots, nil
}

// GetDevice returns the snapshot of one device, or ErrNotFound.
func (s *Store) GetDevice(ctx context.Context, mid string, addr int) (Snapshot, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM devices WHERE mid = $1 AND addr = $2`, mid, addr)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		s.log.Error(err, "Failed to get device", "mid", mid, "addr", addr)
		return Snapshot{}, err
	}
	return row.snapshot(), nil
}

// DeleteDevice removes one device snapshot.
func (s *Store) DeleteDevice(ctx context.Context, mid string, addr int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE mid = $1 AND addr = $2`, mid, addr)
	if err != nil {
		s.log.Error(err, "Failed to delete device", "mid", mid, "addr", addr)
	}
	return err
}

func (r deviceRow) snapshot() Snapshot {
	return Snapshot{
		MID:       r.MID,
		Addr:      r.Addr,
		ModelCode: r.ModelCode,
		Name:      r.Name,
		HID:       r.HID,
		State:     json.RawMessage(r.Snapshot),
		UpdatedAt: time.Unix(r.UpdatedAt, 0),
	}
}
