// Command domsnap captures and restores DOM snapshots of live pages.
//
// Usage:
//
//	domsnap -db snaps.db -capture https://example.com -name "before edit"
//	domsnap -db snaps.db -list https://example.com
//	domsnap -db snaps.db -restore <id> -url https://example.com -hot
//	domsnap -db snaps.db -delete <id>
//	domsnap -db snaps.db -rename <id> -name "new name"
//	domsnap -db snaps.db -usage
//	domsnap -db snaps.db -clear-url https://example.com -force
//	domsnap -db snaps.db -clear-all -force
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/basicsharp/chrome-dom-snap/browser"
	"github.com/basicsharp/chrome-dom-snap/snapkeeper"
)

func main() {
	var (
		dbPath     = flag.String("db", "domsnap.db", "path to the snapshot database")
		configPath = flag.String("config", "", "path to domsnap.yaml config file")
		captureURL = flag.String("capture", "", "open the URL and capture a snapshot")
		restoreID  = flag.String("restore", "", "restore the snapshot with this id")
		targetURL  = flag.String("url", "", "page URL to open for -restore")
		hot        = flag.Bool("hot", false, "use hot restoration (morph in place, keep runtime state)")
		force      = flag.Bool("force", false, "confirm destructive operations")
		listURL    = flag.String("list", "", "list snapshots for the URL")
		deleteID   = flag.String("delete", "", "delete the snapshot with this id")
		renameID   = flag.String("rename", "", "rename the snapshot with this id (requires -name)")
		name       = flag.String("name", "", "snapshot name for -capture or -rename")
		usage      = flag.Bool("usage", false, "print storage usage")
		evict      = flag.Bool("evict", false, "run global eviction now")
		clearURL   = flag.String("clear-url", "", "delete all snapshots for the URL (requires -force)")
		clearAll   = flag.Bool("clear-all", false, "delete every snapshot (requires -force)")
		remoteWS   = flag.String("remote", "", "WebSocket URL of an existing Chrome instance")
		headful    = flag.Bool("headful", false, "run Chrome with a visible window")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := snapkeeper.Config{DBPath: *dbPath}
	if *configPath != "" {
		loaded, err := snapkeeper.LoadConfigFile(*configPath)
		if err != nil {
			logger.Error("domsnap: load config", "error", err)
			os.Exit(1)
		}
		cfg = *loaded
		if cfg.DBPath == "" {
			cfg.DBPath = *dbPath
		}
	}

	args := cliArgs{
		captureURL: *captureURL,
		restoreID:  *restoreID,
		targetURL:  *targetURL,
		hot:        *hot,
		force:      *force,
		listURL:    *listURL,
		deleteID:   *deleteID,
		renameID:   *renameID,
		name:       *name,
		usage:      *usage,
		evict:      *evict,
		clearURL:   *clearURL,
		clearAll:   *clearAll,
		remoteWS:   *remoteWS,
		headful:    *headful,
	}

	if err := run(ctx, logger, cfg, args); err != nil {
		logger.Error("domsnap: fatal", "error", err)
		os.Exit(1)
	}
}

type cliArgs struct {
	captureURL string
	restoreID  string
	targetURL  string
	hot        bool
	force      bool
	listURL    string
	deleteID   string
	renameID   string
	name       string
	usage      bool
	evict      bool
	clearURL   string
	clearAll   bool
	remoteWS   string
	headful    bool
}

func run(ctx context.Context, logger *slog.Logger, cfg snapkeeper.Config, args cliArgs) error {
	k, err := snapkeeper.New(cfg, logger)
	if err != nil {
		return err
	}
	defer k.Close()

	switch {
	case args.captureURL != "":
		return runCapture(ctx, logger, k, args)
	case args.restoreID != "":
		return runRestore(ctx, logger, k, args)
	case args.listURL != "":
		return emit(k.List(ctx, args.listURL))
	case args.deleteID != "":
		return emit(k.Delete(ctx, args.deleteID))
	case args.renameID != "":
		return emit(k.Rename(ctx, args.renameID, args.name))
	case args.usage:
		return emit(k.Usage(ctx))
	case args.evict:
		return emit(k.Evict(ctx))
	case args.clearURL != "":
		return emit(k.ClearGroup(ctx, args.clearURL, args.force))
	case args.clearAll:
		return emit(k.ClearAll(ctx, args.force))
	}

	fmt.Fprintln(os.Stderr, "usage: domsnap -capture <url> | -restore <id> -url <url> | -list <url> | -delete <id> | -rename <id> -name <name> | -usage | -clear-url <url> | -clear-all")
	os.Exit(1)
	return nil
}

func runCapture(ctx context.Context, logger *slog.Logger, k *snapkeeper.Keeper, args cliArgs) error {
	p, cleanup, err := openPage(ctx, logger, args, args.captureURL)
	if err != nil {
		return err
	}
	defer cleanup()

	return emit(k.Capture(ctx, p, snapkeeper.CaptureOptions{Name: args.name}))
}

func runRestore(ctx context.Context, logger *slog.Logger, k *snapkeeper.Keeper, args cliArgs) error {
	if args.targetURL == "" {
		return fmt.Errorf("domsnap: -restore requires -url to open the target page")
	}
	p, cleanup, err := openPage(ctx, logger, args, args.targetURL)
	if err != nil {
		return err
	}
	defer cleanup()

	res := k.Restore(ctx, p, args.restoreID, snapkeeper.RestoreOptions{
		Hot:   args.hot,
		Force: args.force,
	})
	if res.Success && args.hot {
		// Leave the scroll and focus replay timers room to fire.
		time.Sleep(300 * time.Millisecond)
	}
	return emit(res)
}

func openPage(ctx context.Context, logger *slog.Logger, args cliArgs, pageURL string) (*browser.Page, func(), error) {
	b := browser.New(browser.Config{
		RemoteURL: args.remoteWS,
		Headful:   args.headful,
		Logger:    logger,
	})
	if err := b.Connect(ctx); err != nil {
		return nil, nil, err
	}
	p, err := b.OpenPage(ctx, pageURL)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	cleanup := func() {
		p.Close()
		b.Close()
	}
	return p, cleanup, nil
}

func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
