// Package main is the geodex CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/geodex/internal/cli"
	"github.com/hyperjump/geodex/internal/config"
	"github.com/hyperjump/geodex/internal/models"
	"github.com/hyperjump/geodex/internal/server"
	"github.com/hyperjump/geodex/internal/watcher"
	"github.com/hyperjump/geodex/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/geodex/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// errUsage means the command line was wrong and usage has already been printed.
var errUsage = errors.New("usage")

// loadConfig loads config from path. When path is the default, a config.yaml in
// the current directory takes precedence, and when neither exists the built-in
// defaults (plus .env and environment overrides) are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "ingest":
		err = runIngest(args, os.Stdout)
	case "search":
		err = runSearch(args, os.Stdout)
	case "lookup":
		err = runLookup(args, os.Stdout)
	case "delete":
		err = runDelete(args, os.Stdout)
	case "stats":
		err = runStats(args, os.Stdout)
	case "watch":
		err = runWatch(args, os.Stdout)
	case "version", "--version", "-v":
		fmt.Printf("geodex version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "geodex %s: %v\n", command, err)
		}
		os.Exit(1)
	}
}

// reorderArgs moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument, so "geodex search query --tag x"
// would otherwise leave --tag unparsed.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// openLocal loads config and initializes components for direct storage access.
func openLocal(ctx context.Context, configPath string, debug bool) (*Components, *zap.Logger, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug || debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return components, logger, nil
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (requests, file events, ingestion)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Close()

	idx := components.Indexer
	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(path, tag string) {
			res, err := idx.IngestFile(ctx, path, tag)
			if err != nil {
				logger.Warn("watch ingest failed", zap.String("path", path), zap.String("tag", tag), zap.Error(err))
				return
			}
			logger.Info("watch ingested file", zap.String("path", path), zap.String("tag", tag), zap.Int("chunks", res.ChunksCount))
		},
		func(path string) {
			if _, err := idx.DeleteSource(ctx, path); err != nil {
				logger.Warn("watch delete by path failed", zap.String("path", path), zap.Error(err))
			}
		},
		watchOpts...,
	)
	if err := watchSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watchSvc.Stop()
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Storage,
		cfg,
		logger,
		server.WithWatchService(watchSvc, resolvedConfigPath),
		server.WithVersion(version),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runIngest(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tag := fs.String("tag", "", "tag to store the chunks under (required)")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(reorderArgs(args)); err != nil {
		return errUsage
	}
	if fs.NArg() < 1 || strings.TrimSpace(*tag) == "" {
		fmt.Fprintln(fs.Output(), "Usage: geodex ingest --tag <tag> [flags] <file-or-directory>...")
		return errUsage
	}

	ctx := context.Background()
	components, logger, err := openLocal(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			n, err := components.Indexer.IngestDirectory(ctx, path, *tag)
			if err != nil {
				return fmt.Errorf("ingesting directory: %w", err)
			}
			fmt.Fprintf(out, "Ingested %d file(s) from %s under tag %q\n", n, path, *tag)
			continue
		}
		res, err := components.Indexer.IngestFile(ctx, path, *tag)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s (document %s)\n", res.Message, res.DocumentID)
	}
	return nil
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: geodex search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Results are ranked by geodesic distance on the hyperboloid; smaller is closer.

Examples:
  geodex search hyperbolic embeddings
  geodex search --tag papers --top-k 5 "negative curvature"
  geodex search --server "" --output json query   # direct storage, JSON output
`)
}

func runSearch(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage when the server is not running)")
	tag := fs.String("tag", "", "only search chunks with this tag")
	topK := fs.Int("top-k", 0, "number of results (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	if err := fs.Parse(reorderArgs(args)); err != nil {
		return errUsage
	}
	query := buildQuery(fs.Args())
	if query == "" {
		printSearchUsage(fs)
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	req := &models.SearchRequest{Query: query, TopK: *topK}
	if *tag != "" {
		req.TagFilter = tag
	}

	ctx := context.Background()
	var response *models.SearchResponse
	if *serverURL != "" {
		// The server holds the bleve lock, so go through its API when it is running.
		response, err = newAPIClient(*serverURL).search(ctx, req)
	} else {
		var components *Components
		var logger *zap.Logger
		components, logger, err = openLocal(ctx, *configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()
		response, err = components.Engine.Search(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return cli.WriteSearchResults(out, response, format)
}

func runLookup(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	tag := fs.String("tag", "", "only match chunks with this tag")
	limit := fs.Int("limit", 0, "maximum number of matches")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(reorderArgs(args)); err != nil {
		return errUsage
	}
	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Fprintln(fs.Output(), "Usage: geodex lookup [flags] <words>")
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	req := &models.LookupRequest{Query: query, Tag: *tag, Limit: *limit}
	ctx := context.Background()
	var response *models.LookupResponse
	if *serverURL != "" {
		response, err = newAPIClient(*serverURL).lookup(ctx, req)
	} else {
		var components *Components
		var logger *zap.Logger
		components, logger, err = openLocal(ctx, *configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()
		response, err = components.Engine.Lookup(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}
	return cli.WriteLookupResults(out, response, format)
}

func runDelete(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tag := fs.String("tag", "", "delete every chunk with this tag")
	source := fs.String("source", "", "delete every chunk ingested from this file path")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if (*tag == "") == (*source == "") {
		fmt.Fprintln(fs.Output(), "Usage: geodex delete (--tag <tag> | --source <path>)")
		return errUsage
	}

	ctx := context.Background()
	components, logger, err := openLocal(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	var deleted int64
	if *tag != "" {
		deleted, err = components.Indexer.DeleteTag(ctx, *tag)
	} else {
		deleted, err = components.Indexer.DeleteSource(ctx, *source)
	}
	if err != nil {
		return fmt.Errorf("deletion failed: %w", err)
	}
	fmt.Fprintf(out, "Deleted %d chunk(s)\n", deleted)
	return nil
}

func runStats(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var stats *models.Stats
	if *serverURL != "" {
		stats, err = newAPIClient(*serverURL).stats(ctx)
	} else {
		var components *Components
		var logger *zap.Logger
		components, logger, err = openLocal(ctx, *configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()
		stats, err = components.Engine.Stats(ctx)
	}
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	return cli.WriteStats(out, stats, format)
}

func runWatch(args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, `Usage: geodex watch <add|remove|list> [flags] [path]
  geodex watch add --tag <tag> <path>   Add directory to watch
  geodex watch remove <path>            Remove directory from watch
  geodex watch list                     List watched directories`)
		return errUsage
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch "+sub, flag.ContinueOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	tag := fs.String("tag", "", "tag for files in the directory (add)")
	noSync := fs.Bool("no-sync", false, "do not ingest files already in the directory (add)")
	if err := fs.Parse(reorderArgs(args[1:])); err != nil {
		return errUsage
	}
	client := newAPIClient(*serverURL)
	ctx := context.Background()

	switch sub {
	case "add":
		if fs.NArg() < 1 || *tag == "" {
			fmt.Fprintln(fs.Output(), "Usage: geodex watch add --tag <tag> <path>")
			return errUsage
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		if err := client.addWatch(ctx, config.WatchDirectory{Path: path, Tag: *tag}, !*noSync); err != nil {
			return err
		}
		fmt.Fprintf(out, "Added: %s (tag %q)\n", path, *tag)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Fprintln(fs.Output(), "Usage: geodex watch remove <path>")
			return errUsage
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		if err := client.removeWatch(ctx, path); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed: %s\n", path)
	case "list":
		dirs, err := client.listWatch(ctx)
		if err != nil {
			return err
		}
		for _, d := range dirs {
			fmt.Fprintf(out, "%s\t%s\n", d.Path, d.Tag)
		}
	default:
		return fmt.Errorf("unknown watch subcommand: %s", sub)
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `geodex - document chunk retrieval by geodesic distance on the hyperboloid

Usage:
  geodex server [flags]                      Start the HTTP server
  geodex ingest --tag <tag> <path>...        Ingest files or directories
  geodex search [flags] <query>              Rank chunks by geodesic distance
  geodex lookup [flags] <words>              Lexical lookup over chunk text
  geodex delete (--tag <t> | --source <p>)   Delete chunks
  geodex stats [flags]                       Show corpus statistics
  geodex watch <add|remove|list>             Manage watched directories
  geodex version                             Show version
  geodex help                                Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/geodex/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (direct storage mode)
  --server string    Server URL (default: http://localhost:8000). Use --server "" for direct storage.
  --tag string       Only search chunks with this tag
  --top-k int        Number of results (default from config)
  --output string    text or json (default: text)

Examples:
  geodex server
  geodex ingest --tag papers ./papers
  geodex search --tag papers "hyperbolic embeddings"
  geodex search --output json "query"
  geodex delete --tag papers
  geodex stats --output json
  geodex watch add --tag notes ~/notes
  geodex watch list`)
}
