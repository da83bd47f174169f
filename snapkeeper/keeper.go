// Package snapkeeper is the user-facing boundary of chrome-dom-snap: it
// wires the serializer, validator, restorer, and store into the
// capture-and-save and fetch-validate-restore flows, and shapes every
// outcome into a result value. Raw errors never cross into UI-facing
// collaborators; they are logged here and reported as messages.
package snapkeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basicsharp/chrome-dom-snap/observability"
	"github.com/basicsharp/chrome-dom-snap/page"
	"github.com/basicsharp/chrome-dom-snap/restore"
	"github.com/basicsharp/chrome-dom-snap/serialize"
	"github.com/basicsharp/chrome-dom-snap/snapstore"
	"github.com/basicsharp/chrome-dom-snap/validate"
	"github.com/basicsharp/chrome-dom-snap/watch"
)

// Keeper owns the snapshot lifecycle.
type Keeper struct {
	cfg      Config
	store    *snapstore.Store
	restorer *restore.Restorer
	events   *observability.EventLogger
	logger   *slog.Logger
}

// New opens the snapshot database and builds a Keeper. logger may be nil.
func New(cfg Config, logger *slog.Logger) (*Keeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.DBPath
	if path == "" {
		path = ":memory:"
	}

	var storeOpts []snapstore.StoreOption
	storeOpts = append(storeOpts, snapstore.WithLogger(logger))
	if cfg.DropQuery {
		storeOpts = append(storeOpts, snapstore.WithDropQuery())
	}
	store, err := snapstore.Open(path, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("snapkeeper: open store: %w", err)
	}
	if path == ":memory:" {
		// Every connection to ":memory:" is its own database; pin to one.
		store.DB.SetMaxOpenConns(1)
	}
	if err := observability.Init(store.DB); err != nil {
		store.Close()
		return nil, fmt.Errorf("snapkeeper: init event log: %w", err)
	}

	k := &Keeper{
		cfg:      cfg,
		store:    store,
		restorer: restore.New(logger),
		events:   observability.NewEventLogger(store.DB),
		logger:   logger,
	}
	if err := k.applySettings(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return k, nil
}

// Store exposes the underlying snapshot store for callers that need the
// error-returning surface directly.
func (k *Keeper) Store() *snapstore.Store { return k.store }

// Close closes the snapshot database.
func (k *Keeper) Close() error { return k.store.Close() }

func (k *Keeper) applySettings(ctx context.Context) error {
	if k.cfg.MaxPerURL == 0 && k.cfg.MaxTotalBytes == 0 && !k.cfg.DisableAutoCleanup {
		return nil
	}
	err := k.store.UpdateSettings(ctx, snapstore.Settings{
		MaxPerURL:     k.cfg.MaxPerURL,
		MaxTotalBytes: k.cfg.MaxTotalBytes,
		AutoCleanup:   !k.cfg.DisableAutoCleanup,
	})
	if err != nil {
		return fmt.Errorf("snapkeeper: apply settings: %w", err)
	}
	return nil
}

// OpResult is the base outcome shape crossing the collaborator boundary.
type OpResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func failure(format string, args ...any) OpResult {
	return OpResult{Error: fmt.Sprintf(format, args...)}
}

func ok() OpResult { return OpResult{Success: true} }

// CaptureOptions tunes one capture.
type CaptureOptions struct {
	// Name is the user label. Empty defaults to the page title.
	Name string
	// IncludeScripts and OmitStyles override the configured serializer
	// defaults for this capture only. nil keeps the configured value.
	IncludeScripts *bool
	OmitStyles     *bool
}

func (o CaptureOptions) serializeOptions(cfg Config) serialize.Options {
	opts := serialize.Options{
		OmitStyles:     cfg.OmitStyles,
		IncludeScripts: cfg.IncludeScripts,
		MaxBytes:       cfg.MaxSnapshotBytes,
		Timeout:        cfg.SerializeTimeout,
	}
	if o.IncludeScripts != nil {
		opts.IncludeScripts = *o.IncludeScripts
	}
	if o.OmitStyles != nil {
		opts.OmitStyles = *o.OmitStyles
	}
	return opts
}

// CaptureResult reports a capture outcome.
type CaptureResult struct {
	OpResult
	Snapshot *snapstore.Snapshot `json:"snapshot,omitempty"`
}

// Capture serializes the page's document and appends it to the group for
// the page's normalized URL.
func (k *Keeper) Capture(ctx context.Context, p page.Page, opts CaptureOptions) CaptureResult {
	res, err := serialize.Serialize(p.Document(), opts.serializeOptions(k.cfg))
	if err != nil {
		k.logger.Error("snapkeeper: capture failed", "url", p.URL(), "error", err)
		k.events.Log(ctx, observability.Event{
			Type: observability.EventCaptured, URLKey: p.URL(), Detail: err.Error(),
		})
		switch {
		case errors.Is(err, serialize.ErrSizeExceeded):
			return CaptureResult{OpResult: failure("page is too large to snapshot")}
		case errors.Is(err, serialize.ErrTimeout):
			return CaptureResult{OpResult: failure("capturing the page took too long")}
		default:
			return CaptureResult{OpResult: failure("capture failed: %v", err)}
		}
	}

	meta := serialize.Metadata(p, res.ByteSize)
	name := opts.Name
	if name == "" {
		name = meta.PageTitle
	}

	snap := &snapstore.Snapshot{
		Name:      truncate(name, snapstore.MaxNameLength),
		Timestamp: meta.CapturedAt,
		Content:   res.Content,
		Meta: snapstore.Meta{
			ByteSize:       meta.ByteSize,
			PageTitle:      meta.PageTitle,
			ViewportWidth:  meta.ViewportWidth,
			ViewportHeight: meta.ViewportHeight,
			SourceURL:      meta.SourceURL,
			Preview:        k.preview(res.Content),
		},
	}
	id, err := k.store.Save(ctx, p.URL(), snap)
	if err != nil {
		k.logger.Error("snapkeeper: save failed", "url", p.URL(), "error", err)
		return CaptureResult{OpResult: failure("could not save snapshot: %v", err)}
	}

	k.events.Log(ctx, observability.Event{
		Type: observability.EventCaptured, URLKey: snap.URLKey, SnapshotID: id, Success: true,
	})
	k.maybeCleanupEvents(ctx)
	return CaptureResult{OpResult: ok(), Snapshot: snap}
}

// RestoreOptions tunes one restoration.
type RestoreOptions struct {
	// Hot selects the non-destructive strategy: morph in place and replay
	// captured runtime state instead of replacing the document.
	Hot bool
	// Force attests the caller already passed the user consent gate.
	// Required for the destructive strategy.
	Force bool
	// Timeout overrides the configured restoration budget.
	Timeout time.Duration
}

// Restore fetches a snapshot by id, validates its content, and applies the
// selected strategy to the page. Invalid content is refused before any DOM
// mutation.
func (k *Keeper) Restore(ctx context.Context, p page.Page, id string, opts RestoreOptions) OpResult {
	snap, err := k.store.GetByID(ctx, id)
	if err != nil {
		k.logger.Error("snapkeeper: restore lookup failed", "id", id, "error", err)
		return failure("could not load snapshot: %v", err)
	}
	if snap == nil {
		return failure("snapshot not found")
	}

	if v := validate.Validate(snap.Content); !v.Valid {
		k.logger.Warn("snapkeeper: refusing invalid snapshot", "id", id, "errors", v.Errors)
		k.events.Log(ctx, observability.Event{
			Type: observability.EventRestored, URLKey: snap.URLKey, SnapshotID: id,
			Detail: (&validate.Error{Errors: v.Errors}).Error(),
		})
		return failure("snapshot content failed validation: %v", v.Errors)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = k.cfg.RestoreTimeout
	}
	restoreOpts := restore.Options{Timeout: timeout, Force: opts.Force}

	if opts.Hot {
		err = k.restorer.HotReload(p, snap.Content, restoreOpts)
	} else {
		err = k.restorer.Destructive(p, snap.Content, restoreOpts)
	}
	if err != nil {
		k.logger.Error("snapkeeper: restore failed", "id", id, "hot", opts.Hot, "error", err)
		k.events.Log(ctx, observability.Event{
			Type: observability.EventRestored, URLKey: snap.URLKey, SnapshotID: id,
			Detail: err.Error(),
		})
		switch {
		case errors.Is(err, restore.ErrConfirmationRequired):
			return failure("destructive restore requires confirmation")
		case errors.Is(err, restore.ErrTimeout):
			return failure("restoring the page took too long; it may be partially restored")
		default:
			return failure("restore failed: %v", err)
		}
	}

	k.events.Log(ctx, observability.Event{
		Type: observability.EventRestored, URLKey: snap.URLKey, SnapshotID: id, Success: true,
	})
	return ok()
}

// ListResult reports a group listing.
type ListResult struct {
	OpResult
	Snapshots []*snapstore.Snapshot `json:"snapshots,omitempty"`
}

// List returns the snapshots for a page URL, oldest first.
func (k *Keeper) List(ctx context.Context, pageURL string) ListResult {
	snaps, err := k.store.GetByURL(ctx, pageURL)
	if err != nil {
		k.logger.Error("snapkeeper: list failed", "url", pageURL, "error", err)
		return ListResult{OpResult: failure("could not list snapshots: %v", err)}
	}
	return ListResult{OpResult: ok(), Snapshots: snaps}
}

// Delete removes one snapshot by id.
func (k *Keeper) Delete(ctx context.Context, id string) OpResult {
	found, err := k.store.Delete(ctx, id)
	if err != nil {
		k.logger.Error("snapkeeper: delete failed", "id", id, "error", err)
		return failure("could not delete snapshot: %v", err)
	}
	if !found {
		return failure("snapshot not found")
	}
	k.events.Log(ctx, observability.Event{
		Type: observability.EventDeleted, SnapshotID: id, Success: true,
	})
	return ok()
}

// Rename updates a snapshot's label.
func (k *Keeper) Rename(ctx context.Context, id, newName string) OpResult {
	found, err := k.store.Rename(ctx, id, newName)
	if err != nil {
		if errors.Is(err, snapstore.ErrInvalidName) {
			return failure("name must be non-empty and at most %d characters", snapstore.MaxNameLength)
		}
		k.logger.Error("snapkeeper: rename failed", "id", id, "error", err)
		return failure("could not rename snapshot: %v", err)
	}
	if !found {
		return failure("snapshot not found")
	}
	k.events.Log(ctx, observability.Event{
		Type: observability.EventRenamed, SnapshotID: id, Success: true,
	})
	return ok()
}

// CountResult reports a clearing outcome.
type CountResult struct {
	OpResult
	Count int `json:"count"`
}

// ClearGroup removes every snapshot for a page URL. force attests that the
// caller passed the consent gate.
func (k *Keeper) ClearGroup(ctx context.Context, pageURL string, force bool) CountResult {
	if !force {
		return CountResult{OpResult: failure("clearing snapshots requires confirmation")}
	}
	count, err := k.store.ClearGroup(ctx, pageURL)
	if err != nil {
		k.logger.Error("snapkeeper: clear group failed", "url", pageURL, "error", err)
		return CountResult{OpResult: failure("could not clear snapshots: %v", err)}
	}
	k.events.Log(ctx, observability.Event{
		Type: observability.EventGroupCleared, URLKey: pageURL,
		Detail: fmt.Sprintf("%d removed", count), Success: true,
	})
	return CountResult{OpResult: ok(), Count: count}
}

// ClearAll empties the entire store. force attests that the caller passed
// the consent gate.
func (k *Keeper) ClearAll(ctx context.Context, force bool) CountResult {
	if !force {
		return CountResult{OpResult: failure("clearing all snapshots requires confirmation")}
	}
	count, err := k.store.ClearAll(ctx)
	if err != nil {
		k.logger.Error("snapkeeper: clear all failed", "error", err)
		return CountResult{OpResult: failure("could not clear snapshots: %v", err)}
	}
	k.events.Log(ctx, observability.Event{
		Type: observability.EventStoreCleared,
		Detail: fmt.Sprintf("%d removed", count), Success: true,
	})
	return CountResult{OpResult: ok(), Count: count}
}

// Evict runs global eviction immediately instead of waiting for the next
// over-budget save.
func (k *Keeper) Evict(ctx context.Context) CountResult {
	count, err := k.store.EvictGlobal(ctx)
	if err != nil {
		k.logger.Error("snapkeeper: eviction failed", "error", err)
		return CountResult{OpResult: failure("could not evict snapshots: %v", err)}
	}
	if count > 0 {
		k.events.Log(ctx, observability.Event{
			Type: observability.EventEvicted,
			Detail: fmt.Sprintf("%d removed", count), Success: true,
		})
	}
	return CountResult{OpResult: ok(), Count: count}
}

// UsageResult reports store capacity.
type UsageResult struct {
	OpResult
	Usage *snapstore.Usage `json:"usage,omitempty"`
	// NearCapacity is set at 80% usage or above; collaborators should
	// surface it as a warning.
	NearCapacity bool `json:"nearCapacity"`
}

// Usage returns the store's capacity accounting.
func (k *Keeper) Usage(ctx context.Context) UsageResult {
	u, err := k.store.Usage(ctx)
	if err != nil {
		k.logger.Error("snapkeeper: usage failed", "error", err)
		return UsageResult{OpResult: failure("could not read storage usage: %v", err)}
	}
	return UsageResult{OpResult: ok(), Usage: u, NearCapacity: u.UsedPercentage >= 80}
}

// WatchStore runs until ctx is done, invoking onChange whenever the
// snapshot database changes (including writes from other processes).
// Intended for collaborators that render snapshot lists.
func (k *Keeper) WatchStore(ctx context.Context, onChange func() error) {
	w := watch.New(k.store.DB, watch.Options{
		Interval: 500 * time.Millisecond,
		Debounce: 250 * time.Millisecond,
		Logger:   k.logger,
	})
	w.OnChange(ctx, onChange)
}

func (k *Keeper) maybeCleanupEvents(ctx context.Context) {
	if k.cfg.EventRetentionDays <= 0 {
		return
	}
	if err := observability.Cleanup(ctx, k.store.DB, k.cfg.EventRetentionDays); err != nil {
		k.logger.Warn("snapkeeper: event cleanup failed", "error", err)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
