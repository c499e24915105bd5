package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/forzax/cycleloop/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cycles (
	id           TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL,
	cycle_number INTEGER NOT NULL,
	status       TEXT NOT NULL,
	data         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS cycles_campaign_idx ON cycles (campaign_id, cycle_number);
`

// SQLiteStore persists records as JSON documents in a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path. The special
// path ":memory:" opens a private in-memory database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Named("store").Debug("sqlite store ready", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger.Named("store")}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveCampaign(ctx context.Context, c types.Campaign) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("campaign id is required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		c.ID, string(data), c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (types.Campaign, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM campaigns WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Campaign{}, ErrNotFound
	}
	if err != nil {
		return types.Campaign{}, fmt.Errorf("get campaign %s: %w", id, err)
	}
	var c types.Campaign
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return types.Campaign{}, fmt.Errorf("decode campaign %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]types.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM campaigns ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	var list []types.Campaign
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		var c types.Campaign
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("decode campaign: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) DeleteCampaign(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete campaign %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cycles WHERE campaign_id = ?`, id); err != nil {
		return fmt.Errorf("delete cycles of %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveCycle(ctx context.Context, c *types.Cycle) error {
	return s.UpdateCycle(ctx, c)
}

func (s *SQLiteStore) UpdateCycle(ctx context.Context, c *types.Cycle) error {
	if err := validateCycle(c); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cycle: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycles (id, campaign_id, cycle_number, status, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, data = excluded.data`,
		c.ID, c.CampaignID, c.CycleNumber, string(c.Status), string(data))
	if err != nil {
		return fmt.Errorf("save cycle %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetCycle(ctx context.Context, id string) (*types.Cycle, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM cycles WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cycle %s: %w", id, err)
	}
	return decodeCycle(data)
}

func (s *SQLiteStore) GetCyclesByCampaign(ctx context.Context, campaignID string) ([]*types.Cycle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM cycles WHERE campaign_id = ? ORDER BY cycle_number`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()
	var list []*types.Cycle
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c, err := decodeCycle(data)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func decodeCycle(data string) (*types.Cycle, error) {
	var c types.Cycle
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode cycle: %w", err)
	}
	return &c, nil
}
