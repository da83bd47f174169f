package snapstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/basicsharp/chrome-dom-snap/dbopen"
)

const snapshotColumns = `id, url_key, name, dom_content, byte_size,
	page_title, viewport_w, viewport_h, source_url, preview, created_at`

// Save appends a snapshot to the group for urlKey (normalized first) and
// returns the generated id. If the group would exceed MaxPerURL, its single
// oldest member (by insertion order) is evicted in the same transaction.
// Global accounting is adjusted there too. If the insert pushes total bytes
// past the budget and AutoCleanup is on, global eviction runs afterwards.
// That cleanup is advisory: its failure is logged and never fails the save.
func (s *Store) Save(ctx context.Context, urlKey string, snap *Snapshot) (string, error) {
	key := NormalizeURL(urlKey, s.dropQuery)
	id := s.newID()
	if snap.Timestamp == 0 {
		snap.Timestamp = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var overBudget bool
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		cfg, err := readSettings(ctx, tx)
		if err != nil {
			return err
		}

		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM snapshots WHERE url_key = ?`, key).Scan(&count); err != nil {
			return err
		}
		if count+1 > cfg.MaxPerURL {
			// Insertion order, not timestamp, decides the victim.
			var oldID string
			var oldSize int64
			err := tx.QueryRowContext(ctx, `
				SELECT id, byte_size FROM snapshots WHERE url_key = ?
				ORDER BY rowid ASC LIMIT 1`, key).Scan(&oldID, &oldSize)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, oldID); err != nil {
				return err
			}
			if err := adjustMetadata(ctx, tx, -oldSize, -1); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots
				(id, url_key, name, dom_content, byte_size, page_title,
				 viewport_w, viewport_h, source_url, preview, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			id, key, snap.Name, snap.Content, snap.Meta.ByteSize, snap.Meta.PageTitle,
			snap.Meta.ViewportWidth, snap.Meta.ViewportHeight, snap.Meta.SourceURL,
			snap.Meta.Preview, snap.Timestamp,
		)
		if err != nil {
			return err
		}
		if err := adjustMetadata(ctx, tx, int64(snap.Meta.ByteSize), 1); err != nil {
			return err
		}

		var total int64
		if err := tx.QueryRowContext(ctx,
			`SELECT total_bytes FROM store_metadata WHERE id = 1`).Scan(&total); err != nil {
			return err
		}
		overBudget = cfg.AutoCleanup && total > cfg.MaxTotalBytes
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("snapstore: save: %w", err)
	}

	snap.ID = id
	snap.URLKey = key

	if overBudget {
		if err := s.evictLocked(ctx); err != nil {
			s.logger.Warn("snapstore: advisory eviction failed", "error", err)
		}
	}
	return id, nil
}

// GetByURL returns the group for urlKey in insertion order, oldest first.
func (s *Store) GetByURL(ctx context.Context, urlKey string) ([]*Snapshot, error) {
	key := NormalizeURL(urlKey, s.dropQuery)
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE url_key = ? ORDER BY rowid ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("snapstore: get by url: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// GetByID returns a snapshot by id, or nil if none exists. Kept as a
// dedicated lookup so a secondary index (or cache) is a drop-in later.
func (s *Store) GetByID(ctx context.Context, id string) (*Snapshot, error) {
	return s.lookupByID(ctx, id)
}

func (s *Store) lookupByID(ctx context.Context, id string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapstore: get by id: %w", err)
	}
	return snap, nil
}

// Delete removes a snapshot by id. Reports whether anything was deleted.
// An emptied group simply has no remaining rows; there is no separate group
// record to clean up.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var size int64
		err := tx.QueryRowContext(ctx,
			`SELECT byte_size FROM snapshots WHERE id = ?`, id).Scan(&size)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
			return err
		}
		found = true
		return adjustMetadata(ctx, tx, -size, -1)
	})
	if err != nil {
		return false, fmt.Errorf("snapstore: delete: %w", err)
	}
	return found, nil
}

// Rename validates and updates a snapshot's user-editable label. The stored
// name is the trimmed form.
func (s *Store) Rename(ctx context.Context, id, newName string) (bool, error) {
	name := strings.TrimSpace(newName)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return false, fmt.Errorf("snapstore: rename: %w", ErrInvalidName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.DB.ExecContext(ctx,
		`UPDATE snapshots SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return false, fmt.Errorf("snapstore: rename: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("snapstore: rename: %w", err)
	}
	return n > 0, nil
}

// ClearGroup removes an entire group and returns how many snapshots it held.
func (s *Store) ClearGroup(ctx context.Context, urlKey string) (int, error) {
	key := NormalizeURL(urlKey, s.dropQuery)

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var bytes int64
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(byte_size), 0)
			FROM snapshots WHERE url_key = ?`, key).Scan(&count, &bytes); err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE url_key = ?`, key); err != nil {
			return err
		}
		return adjustMetadata(ctx, tx, -bytes, -count)
	})
	if err != nil {
		return 0, fmt.Errorf("snapstore: clear group: %w", err)
	}
	return count, nil
}

// ClearAll empties every group, resets accounting to zero, and records the
// cleanup timestamp. Returns how many snapshots were removed.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE store_metadata
			SET total_bytes = 0, snapshot_count = 0, last_cleanup = ?
			WHERE id = 1`, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("snapstore: clear all: %w", err)
	}
	return count, nil
}

// Usage returns the derived accounting view. At or above 80% callers should
// surface a near-capacity warning.
func (s *Store) Usage(ctx context.Context) (*Usage, error) {
	var u Usage
	err := s.DB.QueryRowContext(ctx, `
		SELECT m.total_bytes, m.snapshot_count, s.max_total_bytes
		FROM store_metadata m, settings s
		WHERE m.id = 1 AND s.id = 1`).Scan(&u.TotalBytes, &u.SnapshotCount, &u.MaxTotalBytes)
	if err != nil {
		return nil, fmt.Errorf("snapstore: usage: %w", err)
	}
	if u.MaxTotalBytes > 0 {
		u.UsedPercentage = float64(u.TotalBytes) / float64(u.MaxTotalBytes) * 100
	}
	return &u, nil
}

// Groups lists all URL groups with their counts and byte totals, most
// recently captured first.
func (s *Store) Groups(ctx context.Context) ([]GroupInfo, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT url_key, COUNT(*), SUM(byte_size)
		FROM snapshots GROUP BY url_key ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("snapstore: groups: %w", err)
	}
	defer rows.Close()

	var groups []GroupInfo
	for rows.Next() {
		var g GroupInfo
		if err := rows.Scan(&g.URLKey, &g.Count, &g.TotalBytes); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// RecoverMetadata recomputes global accounting with a full rescan. Only for
// corruption recovery; normal operation adjusts incrementally.
func (s *Store) RecoverMetadata(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE store_metadata SET
				total_bytes    = (SELECT COALESCE(SUM(byte_size), 0) FROM snapshots),
				snapshot_count = (SELECT COUNT(*) FROM snapshots)
			WHERE id = 1`)
		return err
	})
	if err != nil {
		return fmt.Errorf("snapstore: recover metadata: %w", err)
	}
	return nil
}

func adjustMetadata(ctx context.Context, tx *sql.Tx, deltaBytes int64, deltaCount int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE store_metadata
		SET total_bytes = total_bytes + ?, snapshot_count = snapshot_count + ?
		WHERE id = 1`, deltaBytes, deltaCount)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.URLKey, &snap.Name, &snap.Content,
		&snap.Meta.ByteSize, &snap.Meta.PageTitle,
		&snap.Meta.ViewportWidth, &snap.Meta.ViewportHeight,
		&snap.Meta.SourceURL, &snap.Meta.Preview, &snap.Timestamp)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanSnapshots(rows *sql.Rows) ([]*Snapshot, error) {
	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
