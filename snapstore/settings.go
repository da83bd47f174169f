package snapstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basicsharp/chrome-dom-snap/dbopen"
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Settings reads the persisted store limits.
func (s *Store) Settings(ctx context.Context) (*Settings, error) {
	cfg, err := readSettings(ctx, s.DB)
	if err != nil {
		return nil, fmt.Errorf("snapstore: settings: %w", err)
	}
	return cfg, nil
}

// UpdateSettings persists new store limits. Zero fields keep their current
// value. Lowering the byte budget does not evict immediately; the next save
// (or an explicit EvictGlobal) applies it.
func (s *Store) UpdateSettings(ctx context.Context, cfg Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		cur, err := readSettings(ctx, tx)
		if err != nil {
			return err
		}
		if cfg.MaxPerURL <= 0 {
			cfg.MaxPerURL = cur.MaxPerURL
		}
		if cfg.MaxTotalBytes <= 0 {
			cfg.MaxTotalBytes = cur.MaxTotalBytes
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE settings
			SET max_per_url = ?, max_total_bytes = ?, auto_cleanup = ?, updated_at = ?
			WHERE id = 1`,
			cfg.MaxPerURL, cfg.MaxTotalBytes, boolToInt(cfg.AutoCleanup), time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("snapstore: update settings: %w", err)
	}
	return nil
}

func readSettings(ctx context.Context, q queryRower) (*Settings, error) {
	var cfg Settings
	var autoCleanup int
	err := q.QueryRowContext(ctx, `
		SELECT max_per_url, max_total_bytes, auto_cleanup
		FROM settings WHERE id = 1`).Scan(&cfg.MaxPerURL, &cfg.MaxTotalBytes, &autoCleanup)
	if err != nil {
		return nil, err
	}
	cfg.AutoCleanup = autoCleanup != 0
	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
