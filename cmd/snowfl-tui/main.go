// snowfl-tui is a terminal client for the snowfl torrent aggregator.
// It searches snowfl, resolves magnet links and hands them to qBittorrent,
// either interactively or through the search and token subcommands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/litescript/snowfl-tui/internal/cache"
	"github.com/litescript/snowfl-tui/internal/config"
	"github.com/litescript/snowfl-tui/internal/logger"
	"github.com/litescript/snowfl-tui/internal/qbit"
	"github.com/litescript/snowfl-tui/internal/snowfl"
	"github.com/litescript/snowfl-tui/internal/theme"
	"github.com/litescript/snowfl-tui/internal/tui"
	"github.com/litescript/snowfl-tui/internal/version"
)

func main() {
	// Handle --version / -v flag
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "--version" || arg == "-v" {
			fmt.Printf("snowfl-tui v%s\n", version.Version)
			os.Exit(0)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
	}

	a := &app{log: log}
	code := run(a, cfg, os.Args[1:])

	// os.Exit skips deferred calls
	a.Close()
	logCloser.Close()
	os.Exit(code)
}

func run(a *app, cfg config.Config, args []string) int {
	if len(args) == 0 {
		return runTUI(a, cfg)
	}

	switch args[0] {
	case "search", "token":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want search, token or no arguments)\n", args[0])
		return 2
	}

	client, _, err := a.open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if args[0] == "search" {
		return runSearch(client, cfg, args[1:], os.Stdout, os.Stderr)
	}
	return runToken(client, args[1:], os.Stdout, os.Stderr)
}

// app owns the cache store behind the current clients. Each open replaces
// and closes the previous store.
type app struct {
	log zerolog.Logger

	mu    sync.Mutex
	store cache.Store
}

func (a *app) open(cfg config.Config) (*snowfl.Client, *qbit.Client, error) {
	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Path)
	if err != nil {
		a.log.Warn().Err(err).Str("backend", cfg.Cache.Backend).Msg("Token cache disabled")
		store = nil
	}

	client, err := newClient(cfg, store, a.log)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}

	qb := qbit.NewClient(
		cfg.QBittorrent.Host,
		cfg.QBittorrent.Port,
		cfg.QBittorrent.Username,
		cfg.QBittorrent.Password,
		a.log,
	)

	a.mu.Lock()
	prev := a.store
	a.store = store
	a.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return client, qb, nil
}

// build adapts open to tui.Factory.
func (a *app) build(cfg config.Config) (tui.Searcher, tui.Downloader, error) {
	client, qb, err := a.open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, qb, nil
}

func (a *app) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func newClient(cfg config.Config, store cache.Store, log zerolog.Logger) (*snowfl.Client, error) {
	opts := snowfl.Options{
		BaseURL:     cfg.Snowfl.BaseURL,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout()},
		CacheKey:    cfg.Cache.Key,
		CacheTTL:    cfg.CacheTTL(),
		StrictToken: cfg.Snowfl.StrictToken,
		Logger:      &log,
	}
	if store != nil {
		opts.Cache = store
	}
	return snowfl.New(opts)
}

func runTUI(a *app, cfg config.Config) int {
	// Ensure download directory exists
	if err := config.EnsureDownloadDir(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create download dir: %v\n", err)
	}

	model, err := tui.NewModel(cfg, a.build, version.NewChecker(), a.log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	p := tea.NewProgram(model.WithPalette(theme.Detect()), tea.WithAltScreen())

	// Rebuild clients when the config file is edited
	cfgWatcher, err := config.NewWatcher(config.ConfigPath(), func(cfg config.Config, err error) {
		p.Send(tui.ConfigReloaded(cfg, err))
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer cfgWatcher.Stop()
	}

	// Follow terminal theme changes
	if home, err := os.UserHomeDir(); err == nil {
		themeWatcher, err := theme.NewWatcher(home, func(pal theme.Palette) {
			p.Send(tui.ThemeChanged(pal))
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("Theme watcher unavailable")
		} else {
			defer themeWatcher.Stop()
		}
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runSearch(client *snowfl.Client, cfg config.Config, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(errOut)
	sortName := fs.String("sort", string(cfg.SortFilter()), "upstream sort: SEED, SIZE, SIZE_ASC, DATE, NAME or NONE")
	page := fs.Int("page", 0, "result page, starting at 0")
	asJSON := fs.Bool("json", false, "print results as JSON")
	magnets := fs.Bool("magnets", false, "resolve the magnet link of every result")
	concurrency := fs.Int("concurrency", snowfl.DefaultResolveConcurrency, "parallel magnet resolutions")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(errOut, "usage: snowfl-tui search [flags] <query>")
		fs.PrintDefaults()
		return 2
	}
	filter, err := snowfl.ParseSortFilter(*sortName)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	items, err := client.Search(ctx, query, filter, *page)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}

	code := 0
	if *magnets {
		items, err = client.ResolveAll(ctx, items, *concurrency)
		if err != nil {
			fmt.Fprintf(errOut, "Warning: %v\n", err)
			code = 1
		}
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if items == nil {
			items = []snowfl.Item{}
		}
		if err := enc.Encode(items); err != nil {
			return 1
		}
		return code
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tSEED\tLEECH\tSITE\tAGE")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", it.Name, it.Size, it.Seeders, it.Leechers, it.Site, it.Age)
		if it.Magnet != "" {
			fmt.Fprintf(tw, "  %s\t\t\t\t\t\n", it.Magnet)
		}
	}
	tw.Flush()
	return code
}

func runToken(client *snowfl.Client, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(errOut)
	refresh := fs.Bool("refresh", false, "discard the cached token and discover a new one")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	if *refresh {
		if err := client.Invalidate(ctx); err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
			return 1
		}
	}

	tok, err := client.Token(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	if tok == "" {
		fmt.Fprintln(errOut, "No token found")
		return 1
	}
	fmt.Fprintln(out, tok)
	return 0
}
