package snapstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/basicsharp/chrome-dom-snap/dbopen"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewStore(db, opts...)
}

func snap(name string, size int) *Snapshot {
	return &Snapshot{
		Name:      name,
		Timestamp: 0,
		Content:   "<html><body>" + strings.Repeat("x", size) + "</body></html>",
		Meta:      Meta{ByteSize: size, PageTitle: name, SourceURL: "https://example.com"},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, "https://example.com/a#frag", snap("first", 100))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	got, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot not found")
	}
	if got.Name != "first" || got.Meta.ByteSize != 100 {
		t.Errorf("got = %+v", got)
	}
	// Fragment stripped during grouping.
	if got.URLKey != "https://example.com/a" {
		t.Errorf("URLKey = %q", got.URLKey)
	}
	if got.Timestamp == 0 {
		t.Error("Timestamp not defaulted")
	}

	// The fragment-free form addresses the same group.
	list, err := s.GetByURL(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
}

func TestGetByID_Unknown(t *testing.T) {
	s := testStore(t)
	got, err := s.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestGetByURL_InsertionOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Save(ctx, "https://example.com/a", snap(fmt.Sprintf("s%d", i), 10)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	list, err := s.GetByURL(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, got := range list {
		if want := fmt.Sprintf("s%d", i); got.Name != want {
			t.Errorf("list[%d].Name = %q, want %q", i, got.Name, want)
		}
	}
}

func TestSave_PerGroupEviction(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpdateSettings(ctx, Settings{MaxPerURL: 2, AutoCleanup: true}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Save(ctx, "https://example.com/a", snap(fmt.Sprintf("s%d", i), 10)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	// Another group is unaffected.
	if _, err := s.Save(ctx, "https://example.com/b", snap("other", 10)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := s.GetByURL(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2 after eviction", len(list))
	}
	if list[0].Name != "s1" || list[1].Name != "s2" {
		t.Errorf("survivors = %q, %q; want s1, s2", list[0].Name, list[1].Name)
	}

	u, err := s.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.SnapshotCount != 3 {
		t.Errorf("SnapshotCount = %d, want 3", u.SnapshotCount)
	}
	if u.TotalBytes != 30 {
		t.Errorf("TotalBytes = %d, want 30", u.TotalBytes)
	}
}

func TestSave_GlobalEvictionStopsAtTarget(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpdateSettings(ctx, Settings{MaxTotalBytes: 1000, AutoCleanup: true}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	// Six 200-byte snapshots: the sixth pushes to 1200, over budget.
	// Eviction shrinks to <= 800 (80% of the budget), not all the way to it.
	for i := 0; i < 6; i++ {
		if _, err := s.Save(ctx, fmt.Sprintf("https://example.com/p%d", i), snap(fmt.Sprintf("s%d", i), 200)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	u, err := s.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.TotalBytes > 800 {
		t.Errorf("TotalBytes = %d, want <= 800", u.TotalBytes)
	}
	if u.TotalBytes != 800 {
		t.Errorf("TotalBytes = %d, want exactly 800 (two oldest evicted)", u.TotalBytes)
	}
	if u.SnapshotCount != 4 {
		t.Errorf("SnapshotCount = %d, want 4", u.SnapshotCount)
	}

	// Oldest-first: s0 and s1 are gone.
	for i, wantGone := range []bool{true, true, false, false, false, false} {
		list, err := s.GetByURL(ctx, fmt.Sprintf("https://example.com/p%d", i))
		if err != nil {
			t.Fatalf("GetByURL: %v", err)
		}
		if gone := len(list) == 0; gone != wantGone {
			t.Errorf("p%d gone = %v, want %v", i, gone, wantGone)
		}
	}
}

func TestSave_NoEvictionWhenAutoCleanupOff(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpdateSettings(ctx, Settings{MaxTotalBytes: 100, AutoCleanup: false}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Save(ctx, "https://example.com/a", snap("s", 80)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	u, _ := s.Usage(ctx)
	if u.SnapshotCount != 3 {
		t.Errorf("SnapshotCount = %d, want 3 (no auto cleanup)", u.SnapshotCount)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.Save(ctx, "https://example.com/a", snap("s", 50))

	found, err := s.Delete(ctx, id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !found {
		t.Fatal("found = false")
	}

	u, _ := s.Usage(ctx)
	if u.SnapshotCount != 0 || u.TotalBytes != 0 {
		t.Errorf("usage = %+v, want zeroed", u)
	}

	found, err = s.Delete(ctx, id)
	if err != nil {
		t.Fatalf("Delete again: %v", err)
	}
	if found {
		t.Error("second delete reported found")
	}
}

func TestRename(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.Save(ctx, "https://example.com/a", snap("old", 10))

	found, err := s.Rename(ctx, id, "  My Snap  ")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if !found {
		t.Fatal("found = false")
	}
	got, _ := s.GetByID(ctx, id)
	if got.Name != "My Snap" {
		t.Errorf("Name = %q, want trimmed %q", got.Name, "My Snap")
	}

	if _, err := s.Rename(ctx, id, "   "); !errors.Is(err, ErrInvalidName) {
		t.Errorf("blank rename err = %v, want ErrInvalidName", err)
	}
	if _, err := s.Rename(ctx, id, strings.Repeat("x", 101)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("long rename err = %v, want ErrInvalidName", err)
	}
	// 100 runes of multibyte text is fine.
	if _, err := s.Rename(ctx, id, strings.Repeat("é", 100)); err != nil {
		t.Errorf("100-rune rename err = %v", err)
	}

	if found, err := s.Rename(ctx, "nope", "name"); err != nil || found {
		t.Errorf("unknown id: found = %v, err = %v", found, err)
	}
}

func TestClearGroup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Save(ctx, "https://example.com/a", snap("a", 10))
	}
	s.Save(ctx, "https://example.com/b", snap("b", 10))

	count, err := s.ClearGroup(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("ClearGroup: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	list, _ := s.GetByURL(ctx, "https://example.com/a")
	if len(list) != 0 {
		t.Errorf("group not empty: %d", len(list))
	}
	u, _ := s.Usage(ctx)
	if u.SnapshotCount != 1 || u.TotalBytes != 10 {
		t.Errorf("usage = %+v, want the other group only", u)
	}

	count, err = s.ClearGroup(ctx, "https://example.com/a")
	if err != nil || count != 0 {
		t.Errorf("second clear: count = %d, err = %v", count, err)
	}
}

func TestClearAll(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Save(ctx, "https://example.com/a", snap("a", 10))
	s.Save(ctx, "https://example.com/b", snap("b", 20))

	count, err := s.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	u, _ := s.Usage(ctx)
	if u.SnapshotCount != 0 || u.TotalBytes != 0 {
		t.Errorf("usage = %+v, want zeroed", u)
	}
	list, _ := s.GetByURL(ctx, "https://example.com/a")
	if len(list) != 0 {
		t.Error("snapshots survived ClearAll")
	}
}

func TestUsagePercentage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpdateSettings(ctx, Settings{MaxTotalBytes: 1000, AutoCleanup: true}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	s.Save(ctx, "https://example.com/a", snap("a", 250))

	u, err := s.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.UsedPercentage != 25 {
		t.Errorf("UsedPercentage = %v, want 25", u.UsedPercentage)
	}
	if u.MaxTotalBytes != 1000 {
		t.Errorf("MaxTotalBytes = %d", u.MaxTotalBytes)
	}
}

func TestGroups(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Save(ctx, "https://example.com/a", &Snapshot{Name: "a1", Timestamp: 100, Content: "<html/>", Meta: Meta{ByteSize: 10}})
	s.Save(ctx, "https://example.com/a", &Snapshot{Name: "a2", Timestamp: 200, Content: "<html/>", Meta: Meta{ByteSize: 10}})
	s.Save(ctx, "https://example.com/b", &Snapshot{Name: "b1", Timestamp: 300, Content: "<html/>", Meta: Meta{ByteSize: 5}})

	groups, err := s.Groups(ctx)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("len = %d, want 2", len(groups))
	}
	// Most recently captured group first.
	if groups[0].URLKey != "https://example.com/b" {
		t.Errorf("groups[0] = %+v", groups[0])
	}
	if groups[1].Count != 2 || groups[1].TotalBytes != 20 {
		t.Errorf("groups[1] = %+v", groups[1])
	}
}

func TestRecoverMetadata(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Save(ctx, "https://example.com/a", snap("a", 100))
	s.Save(ctx, "https://example.com/b", snap("b", 50))

	// Corrupt the accounting out-of-band.
	if _, err := s.DB.Exec(`UPDATE store_metadata SET total_bytes = 9999, snapshot_count = 42 WHERE id = 1`); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if err := s.RecoverMetadata(ctx); err != nil {
		t.Fatalf("RecoverMetadata: %v", err)
	}
	u, _ := s.Usage(ctx)
	if u.TotalBytes != 150 || u.SnapshotCount != 2 {
		t.Errorf("usage = %+v, want 150/2", u)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cfg, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if cfg.MaxPerURL != DefaultMaxPerURL || cfg.MaxTotalBytes != DefaultMaxTotalBytes || !cfg.AutoCleanup {
		t.Errorf("defaults = %+v", cfg)
	}

	if err := s.UpdateSettings(ctx, Settings{MaxPerURL: 5, AutoCleanup: true}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	cfg, _ = s.Settings(ctx)
	if cfg.MaxPerURL != 5 {
		t.Errorf("MaxPerURL = %d, want 5", cfg.MaxPerURL)
	}
	// Zero field kept its current value.
	if cfg.MaxTotalBytes != DefaultMaxTotalBytes {
		t.Errorf("MaxTotalBytes = %d, want default kept", cfg.MaxTotalBytes)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		raw       string
		dropQuery bool
		want      string
	}{
		{"https://example.com/a#sec", false, "https://example.com/a"},
		{"https://example.com/a?q=1#sec", false, "https://example.com/a?q=1"},
		{"https://example.com/a?q=1", true, "https://example.com/a"},
		{"https://example.com/a", false, "https://example.com/a"},
		{"::not a url::", false, "::not a url::"},
	}
	for _, tc := range cases {
		if got := NormalizeURL(tc.raw, tc.dropQuery); got != tc.want {
			t.Errorf("NormalizeURL(%q, %v) = %q, want %q", tc.raw, tc.dropQuery, got, tc.want)
		}
	}
}

func TestEvictGlobal_NoopUnderBudget(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Save(ctx, "https://example.com/a", snap("a", 10))
	n, err := s.EvictGlobal(ctx)
	if err != nil {
		t.Fatalf("EvictGlobal: %v", err)
	}
	if n != 0 {
		t.Errorf("evicted = %d, want 0", n)
	}
}
