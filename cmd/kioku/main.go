// Package main is the kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/enrich"
	"github.com/hyperjump/kioku/internal/feedback"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default and a
// config.yaml exists in the working directory, that file is used instead. A
// missing default file yields the built-in defaults. Returns the config and
// the path that was loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), "", nil
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
		printUsage()
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ingest":
		runIngest(args)
	case "search":
		runSearch(args)
	case "suggest":
		runSuggest(args)
	case "best":
		runBest(args)
	case "context":
		runContext(args)
	case "keep":
		runKeep(args)
	case "regen":
		runRegen(args)
	case "edit":
		runEdit(args)
	case "phrase":
		runPhrase(args)
	case "purge":
		runPurge(args)
	case "backfill":
		runBackfill(args)
	case "migrate-embeddings":
		runMigrateEmbeddings(args)
	case "status":
		runStatus(args)
	case "review":
		runReview(args)
	case "watch":
		runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// commonFlags are shared by every command that opens the index.
type commonFlags struct {
	config *string
	debug  *bool
	output *string
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, &commonFlags{
		config: fs.String("config", defaultConfigPath, "config file path"),
		debug:  fs.Bool("debug", false, "enable debug logging"),
		output: fs.String("output", "text", "output format: text or json"),
	}
}

func (c *commonFlags) format() cli.OutputFormat {
	f, err := cli.ParseOutputFormat(*c.output)
	if err != nil {
		exitf("%v", err)
	}
	return f
}

// open loads config and initializes every component.
func (c *commonFlags) open() (*Components, *config.Config, string) {
	cfg, path, err := loadConfig(*c.config)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || *c.debug)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(cfg, logger, cfg.Embedding.Dimensions)
	if err != nil {
		exitf("Failed to initialize: %v", err)
	}
	return components, cfg, path
}

func runServer(args []string) {
	fs, common := newFlagSet("server")
	_ = fs.Parse(args)

	components, cfg, resolvedConfigPath := common.open()
	defer components.Close()
	logger := components.Logger
	logger.Info("Config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *common.debug))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watchSvc := watcher.NewWatcher(components.Indexer, &cfg.Watch, watcher.WithLogger(logger))
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.IngestExisting()
	go func() {
		report, err := components.Pool.Backfill(ctx, 0)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Startup backfill failed", zap.Error(err))
			return
		}
		if report.Enriched+report.Failed > 0 {
			logger.Info("Startup backfill complete",
				zap.Int("enriched", report.Enriched),
				zap.Int("failed", report.Failed))
		}
	}()

	srv := server.NewServer(
		components.Retriever,
		components.Indexer,
		components.Feedback,
		components.Storage,
		cfg,
		logger,
		server.WithWatch(watchSvc, resolvedConfigPath),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	watchSvc.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runIngest(args []string) {
	fs, common := newFlagSet("ingest")
	recursive := fs.Bool("recursive", true, "descend into subdirectories")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		exitf("Usage: kioku ingest [flags] <file|dir>...")
	}
	format := common.format()
	components, cfg, _ := common.open()
	defer components.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		results []*indexer.Result
		errs    []error
	)
	idx := components.Indexer
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.IsDir() {
			res, err := idx.IngestDirectory(ctx, path, *recursive && cfg.Watch.RecursiveOrDefault())
			results = append(results, res...)
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		res, err := idx.IngestFile(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		results = append(results, res)
	}
	if err := cli.WriteIngestResults(os.Stdout, results, format); err != nil {
		exitf("Output failed: %v", err)
	}
	if err := errors.Join(errs...); err != nil {
		exitf("Ingest failed: %v", err)
	}
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// parseFilters turns key=value pairs into a raw filter map. Type checking is
// left to the retriever.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("filter %q must be key=value", p)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// searchArgsReorder moves any flags (and their values) that appear after the
// query to the front so flag.Parse sees them; the flag package stops at the
// first positional argument.
func searchArgsReorder(args []string) []string {
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

// buildSearchQuery joins positional args so multi-word queries work with or
// without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kioku search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kioku search quarterly metrics
  kioku search --filter type=stat --filter deck_position=middle uptime
  kioku search --granularity element --filter element_type=stat latency
  kioku search --keyword pipeline --output json sales review
`)
}

func runSearch(args []string) {
	fs, common := newFlagSet("search")
	serverURL := fs.String("server", "", "server URL (empty = open the index directly)")
	granularity := fs.String("granularity", "", "deck, slide or element (default from config)")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	minScore := fs.Float64("min-score", 0, "drop results scoring below this (default from config)")
	var filters, keywords multiFlag
	fs.Var(&filters, "filter", "structural filter key=value (repeatable)")
	fs.Var(&keywords, "keyword", "explicit keyword term (repeatable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(args))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" && len(filters) == 0 && len(keywords) == 0 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	rawFilters, err := parseFilters(filters)
	if err != nil {
		exitf("%v", err)
	}
	format := common.format()
	query := &models.SearchQuery{
		Query:       queryStr,
		Granularity: models.ChunkKind(*granularity),
		Filters:     rawFilters,
		Keywords:    keywords,
		Limit:       *limit,
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "min-score" {
			query.MinScore = minScore
		}
	})

	var resp *models.SearchResponse
	if *serverURL != "" {
		resp, err = searchViaHTTP(*serverURL, query)
	} else {
		components, _, _ := common.open()
		defer components.Close()
		resp, err = components.Retriever.Search(context.Background(), query)
	}
	if err != nil {
		exitf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runSuggest(args []string) {
	fs, common := newFlagSet("suggest")
	limit := fs.Int("limit", 0, "number of suggestions (default from config)")
	_ = fs.Parse(args)
	seq := make([]models.SectionType, 0, fs.NArg())
	for _, a := range fs.Args() {
		seq = append(seq, models.SectionType(strings.ToLower(a)))
	}
	format := common.format()
	components, _, _ := common.open()
	defer components.Close()

	suggestions, err := components.Retriever.SuggestNextSlide(context.Background(), seq, *limit)
	if err != nil {
		exitf("Suggest failed: %v", err)
	}
	if err := cli.WriteSuggestions(os.Stdout, suggestions, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runBest(args []string) {
	fs, common := newFlagSet("best")
	contentType := fs.String("type", "", "section type (required)")
	topic := fs.String("topic", "", "topic words")
	audience := fs.String("audience", "", "audience words")
	_ = fs.Parse(args)
	if *contentType == "" {
		exitf("Usage: kioku best --type <section-type> [--topic words] [--audience words]")
	}
	format := common.format()
	components, _, _ := common.open()
	defer components.Close()

	slide, err := components.Retriever.GetBestDesignFor(context.Background(),
		models.SectionType(strings.ToLower(*contentType)), *topic, *audience)
	if err != nil {
		exitf("Lookup failed: %v", err)
	}
	if err := cli.WriteSlide(os.Stdout, slide, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runContext(args []string) {
	fs, common := newFlagSet("context")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		exitf("Usage: kioku context [flags] <slide-id>")
	}
	format := common.format()
	components, _, _ := common.open()
	defer components.Close()

	sc, err := components.Retriever.GetSlideContext(context.Background(), fs.Arg(0))
	if err != nil {
		exitf("Context failed: %v", err)
	}
	if err := cli.WriteSlideContext(os.Stdout, sc, format); err != nil {
		exitf("Output failed: %v", err)
	}
	if sc == nil {
		os.Exit(1)
	}
}

func runKeep(args []string) {
	fs, common := newFlagSet("keep")
	query := fs.String("query", "", "query text whose embedding nudges the kept slide")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		exitf("Usage: kioku keep [--query text] <slide-id>")
	}
	components, _, _ := common.open()
	defer components.Close()
	ctx := context.Background()

	var queryEmbedding []float32
	if *query != "" {
		vec, err := components.Embedder.Embed(ctx, *query)
		if err != nil {
			exitf("Failed to embed query: %v", err)
		}
		queryEmbedding = vec
	}
	counters, err := components.Feedback.RecordKeep(ctx, fs.Arg(0), queryEmbedding)
	if err != nil {
		exitf("Keep failed: %v", err)
	}
	fmt.Printf("Kept %s: %d keeps, %d regens, quality %.2f\n",
		fs.Arg(0), counters.KeepCount, counters.RegenCount, counters.QualityScore())
}

func runRegen(args []string) {
	fs, common := newFlagSet("regen")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		exitf("Usage: kioku regen <slide-id>")
	}
	components, _, _ := common.open()
	defer components.Close()

	counters, flagged, err := components.Feedback.RecordRegen(context.Background(), fs.Arg(0))
	if err != nil {
		exitf("Regen failed: %v", err)
	}
	fmt.Printf("Regenerated %s: %d keeps, %d regens, quality %.2f\n",
		fs.Arg(0), counters.KeepCount, counters.RegenCount, counters.QualityScore())
	if flagged {
		fmt.Println("Slide is flagged for review.")
	}
}

// loadSection reads one section from a YAML or JSON file.
func loadSection(path string) (*models.Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sec models.Section
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &sec)
	} else {
		err = yaml.Unmarshal(data, &sec)
	}
	if err != nil {
		return nil, &models.ValidationError{Field: "section", Reason: err.Error()}
	}
	return &sec, nil
}

func runEdit(args []string) {
	fs, common := newFlagSet("edit")
	_ = fs.Parse(args)
	if fs.NArg() != 2 {
		exitf("Usage: kioku edit <slide-id> <section.yaml>")
	}
	sec, err := loadSection(fs.Arg(1))
	if err != nil {
		exitf("Failed to read section: %v", err)
	}
	components, _, _ := common.open()
	defer components.Close()

	g, err := components.Feedback.RecordEdit(context.Background(), fs.Arg(0), sec)
	if err != nil {
		exitf("Edit failed: %v", err)
	}
	fmt.Printf("Stored edited slide %s in deck %s (derived from %s)\n", g.Slides[0].ID, g.Deck.ID, fs.Arg(0))
}

func runPhrase(args []string) {
	fs, common := newFlagSet("phrase")
	lookup := fs.Bool("lookup", false, "look up the design learned for the phrase instead of recording a hit")
	_ = fs.Parse(args)
	components, _, _ := common.open()
	defer components.Close()
	ctx := context.Background()

	if *lookup {
		phrase := buildSearchQuery(fs.Args())
		trigger, err := components.Feedback.LookupPhrase(ctx, phrase)
		if err != nil {
			exitf("Lookup failed: %v", err)
		}
		if trigger == nil {
			exitf("No design learned for %q", phrase)
		}
		fmt.Printf("%q -> %s %s (%d hits, confidence %.2f)\n",
			trigger.Phrase, trigger.MatchedKind, trigger.MatchedID, trigger.HitCount, trigger.Confidence)
		return
	}
	if fs.NArg() < 2 {
		exitf("Usage: kioku phrase <matched-id> <phrase...> | kioku phrase --lookup <phrase...>")
	}
	trigger, err := components.Feedback.RecordPhraseHit(ctx, buildSearchQuery(fs.Args()[1:]), fs.Arg(0))
	if err != nil {
		exitf("Phrase failed: %v", err)
	}
	fmt.Printf("Learned %q -> %s (%d hits)\n", trigger.NormalizedPhrase, trigger.MatchedID, trigger.HitCount)
}

func runPurge(args []string) {
	fs, common := newFlagSet("purge")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		exitf("Usage: kioku purge <deck-id>")
	}
	components, _, _ := common.open()
	defer components.Close()

	if err := components.Indexer.Purge(context.Background(), fs.Arg(0)); err != nil {
		exitf("Purge failed: %v", err)
	}
	fmt.Printf("Deck purged: %s\n", fs.Arg(0))
}

func runBackfill(args []string) {
	fs, common := newFlagSet("backfill")
	limit := fs.Int("limit", 0, "records per kind (0 = all)")
	_ = fs.Parse(args)
	components, _, _ := common.open()
	defer components.Close()
	backfill(components, *limit)
}

func backfill(components *Components, limit int) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	report, err := components.Pool.Backfill(ctx, limit)
	fmt.Printf("Enriched %d records, %d failed\n", report.Enriched, report.Failed)
	if err != nil {
		exitf("Backfill interrupted: %v", err)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func runMigrateEmbeddings(args []string) {
	fs, common := newFlagSet("migrate-embeddings")
	dims := fs.Int("dimensions", 0, "new embedding dimension (required)")
	noBackfill := fs.Bool("no-backfill", false, "only clear embeddings; do not recompute them")
	_ = fs.Parse(args)
	if *dims <= 0 {
		exitf("Usage: kioku migrate-embeddings --dimensions N [--no-backfill]")
	}
	cfg, _, err := loadConfig(*common.config)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || *common.debug)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	// Open with the stored dimension, then switch.
	cfg.Embedding.Dimensions = *dims
	components, err := initializeComponents(cfg, logger, 0)
	if err != nil {
		exitf("Failed to initialize: %v", err)
	}
	defer components.Close()

	if err := components.Storage.MigrateEmbeddingDimension(context.Background(), *dims); err != nil {
		exitf("Migration failed: %v", err)
	}
	fmt.Printf("Index now uses %d-dimensional embeddings; every record is pending.\n", *dims)
	if !*noBackfill {
		backfill(components, 0)
	}
}

func runStatus(args []string) {
	fs, common := newFlagSet("status")
	_ = fs.Parse(args)
	format := common.format()
	components, _, _ := common.open()
	defer components.Close()

	stats, err := components.Storage.Stats(context.Background())
	if err != nil {
		exitf("Status failed: %v", err)
	}
	if err := cli.WriteStats(os.Stdout, stats, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runReview(args []string) {
	fs, common := newFlagSet("review")
	resolve := fs.String("resolve", "", "clear the review flag on this slide")
	limit := fs.Int("limit", 0, "maximum slides to list (0 = all)")
	_ = fs.Parse(args)
	format := common.format()
	components, _, _ := common.open()
	defer components.Close()
	ctx := context.Background()

	if *resolve != "" {
		if err := components.Feedback.ResolveReview(ctx, *resolve); err != nil {
			exitf("Resolve failed: %v", err)
		}
		fmt.Printf("Review resolved: %s\n", *resolve)
		return
	}
	slides, err := components.Storage.ListFlaggedForReview(ctx, *limit)
	if err != nil {
		exitf("Review failed: %v", err)
	}
	if err := cli.WriteReviewQueue(os.Stdout, slides, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runWatch(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: kioku watch <add|remove|list> [path]")
		fmt.Println("  kioku watch add <path>     Add a drop folder")
		fmt.Println("  kioku watch remove <path>  Stop watching a drop folder")
		fmt.Println("  kioku watch list           List drop folders")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(args[1:])

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			exitf("Usage: kioku watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]any{"path": path, "sync": true})
		resp, err := http.Post(*serverURL+"/api/v1/watch/directories", "application/json", bytes.NewReader(body))
		if err != nil {
			exitf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			exitf("Add failed (%d): %s", resp.StatusCode, string(b))
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			exitf("Usage: kioku watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			exitf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			exitf("Remove failed (%d): %s", resp.StatusCode, string(b))
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		resp, err := http.Get(*serverURL + "/api/v1/watch/directories")
		if err != nil {
			exitf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			exitf("List failed (%d): %s", resp.StatusCode, string(b))
		}
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			exitf("Parse failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		exitf("Unknown watch subcommand: %s", sub)
	}
}

// Components holds initialized services.
type Components struct {
	Logger    *zap.Logger
	Storage   *storage.SQLiteStorage
	Embedder  embedding.Embedder
	Pool      *enrich.Pool
	Retriever *search.Retriever
	Indexer   *indexer.Indexer
	Feedback  *feedback.Processor
}

// Close releases the store and embedder and flushes the logger.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
}

// initializeComponents opens the index with storeDim (zero adopts the stored
// dimension) and wires the embedder, enrichment pool, retriever, indexer and
// feedback processor. An ONNX backend that fails to load falls back to hashing.
func initializeComponents(cfg *config.Config, logger *zap.Logger, storeDim int) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, storeDim, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	opts := embedding.Options{
		Backend:    cfg.Embedding.Backend,
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}
	embedder, err := embedding.New(opts)
	if err != nil {
		logger.Warn("Embedding backend unavailable, falling back to hashing",
			zap.String("backend", opts.Backend), zap.Error(err))
		embedder = embedding.NewHashEmbedder(opts.Dimensions)
	}

	pool := enrich.NewPool(store, enrich.NewEmbeddingEnricher(embedder), &cfg.Enrichment, enrich.WithLogger(logger))
	retriever := search.NewRetriever(store, embedder, &cfg.Search, search.WithLogger(logger))
	idx := indexer.NewIndexer(store, pool,
		indexer.WithLogger(logger),
		indexer.WithExtensions(cfg.Watch.Extensions))
	fb := feedback.NewProcessor(store, &cfg.Feedback,
		feedback.WithLogger(logger),
		feedback.WithEnricher(pool))

	return &Components{
		Logger:    logger,
		Storage:   store,
		Embedder:  embedder,
		Pool:      pool,
		Retriever: retriever,
		Indexer:   idx,
		Feedback:  fb,
	}, nil
}

func printUsage() {
	fmt.Println(`kioku - Design index for generated slide decks

Usage:
  kioku server [flags]                    Start the HTTP API and drop-folder watcher
  kioku ingest [flags] <file|dir>...      Ingest tree files (.yaml, .yml, .json)
  kioku search [flags] <query>            Hybrid search over decks, slides or elements
  kioku suggest [flags] <type>...         Suggest the next slide type after a sequence
  kioku best --type T [--topic] [--audience]
                                          Best stored design for a content type
  kioku context <slide-id>                Show a slide's neighbors within its deck
  kioku keep [--query text] <slide-id>    Record that a slide was kept
  kioku regen <slide-id>                  Record that a slide was regenerated
  kioku edit <slide-id> <section.yaml>    Record an edit and store the edited slide
  kioku phrase <id> <phrase...>           Learn a phrase for a slide or element
  kioku phrase --lookup <phrase...>       Show the design learned for a phrase
  kioku purge <deck-id>                   Delete a deck and everything under it
  kioku backfill [--limit N]              Retry pending embeddings
  kioku migrate-embeddings --dimensions N Switch the embedding dimension
  kioku status [flags]                    Show index statistics
  kioku review [--resolve id]             List or resolve slides flagged for review
  kioku watch <add|remove|list>           Manage drop folders on a running server
  kioku version                           Show version
  kioku help                              Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml, or ./config.yaml)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Search Flags:
  --server string       Query a running server instead of opening the index
  --granularity string  deck, slide or element
  --filter key=value    Structural filter (repeatable)
  --keyword term        Explicit keyword (repeatable)
  --limit int           Number of results
  --min-score float     Drop results scoring below this

Examples:
  kioku ingest ./decks
  kioku search --filter type=stat uptime
  kioku suggest title agenda
  kioku best --type stat --topic reliability --audience executives
  kioku keep --query "uptime metrics" 0b6f...
  kioku review`)
}
