package snapstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basicsharp/chrome-dom-snap/dbopen"
)

// EvictGlobal removes the oldest snapshots (by capture timestamp, stable
// tie-break on insertion order) across all groups until total bytes are at
// or under 80% of the byte budget. Returns how many snapshots were evicted.
func (s *Store) EvictGlobal(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.evictLocked(ctx); err != nil {
		return 0, err
	}
	return s.lastEvicted, nil
}

func (s *Store) evictLocked(ctx context.Context) error {
	s.lastEvicted = 0
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		cfg, err := readSettings(ctx, tx)
		if err != nil {
			return err
		}
		var total int64
		if err := tx.QueryRowContext(ctx,
			`SELECT total_bytes FROM store_metadata WHERE id = 1`).Scan(&total); err != nil {
			return err
		}
		if total <= cfg.MaxTotalBytes {
			return nil
		}
		target := cfg.MaxTotalBytes * evictionTargetNum / evictionTargetDen

		rows, err := tx.QueryContext(ctx, `
			SELECT id, byte_size FROM snapshots
			ORDER BY created_at ASC, rowid ASC`)
		if err != nil {
			return err
		}
		var victims []string
		var freed int64
		for rows.Next() {
			if total-freed <= target {
				break
			}
			var id string
			var size int64
			if err := rows.Scan(&id, &size); err != nil {
				rows.Close()
				return err
			}
			victims = append(victims, id)
			freed += size
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range victims {
			if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
				return err
			}
		}
		if err := adjustMetadata(ctx, tx, -freed, -len(victims)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE store_metadata SET last_cleanup = ? WHERE id = 1`,
			time.Now().UnixMilli()); err != nil {
			return err
		}
		s.lastEvicted = len(victims)
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapstore: evict: %w", err)
	}
	if s.lastEvicted > 0 {
		s.logger.Info("snapstore: global eviction", "evicted", s.lastEvicted)
	}
	return nil
}
