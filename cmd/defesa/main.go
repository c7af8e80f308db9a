// Command defesa manages the defense knowledge engine: ingesting legal
// texts, collecting fine contributions, unifying knowledge, and
// assembling the context bundle for a citation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/defesajusta/defesajusta"
	"github.com/defesajusta/defesajusta/assemble"
	"github.com/defesajusta/defesajusta/contribution"
	"github.com/defesajusta/defesajusta/retrieval"
)

func main() {
	if err := run(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: defesa [flags] <command> [args]

Commands:
  ingest <file...>      ingest legal text files into the corpus
  retrieve <query>      search corpus passages
  contribute            submit a fine example (see contribute flags)
  unify                 rebuild the unified knowledge collection
  assemble              assemble the bundle for a citation
  reindex               rebuild the vector index from active passages
  tombstone <id>        mark a document for removal at next reindex
  anonymize <id>        scrub personal fields from a contribution
  stats                 print corpus counts

Flags:
`)
	flag.PrintDefaults()
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	// Local .env is optional.
	godotenv.Load()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := defesajusta.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = defesajusta.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	applyEnv(&cfg)

	if flag.NArg() == 0 {
		usage()
		return fmt.Errorf("missing command")
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	eng, err := defesajusta.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	switch command {
	case "ingest":
		return cmdIngest(ctx, eng, args)
	case "retrieve":
		return cmdRetrieve(ctx, eng, args)
	case "contribute":
		return cmdContribute(ctx, eng, args)
	case "unify":
		return cmdUnify(ctx, eng)
	case "assemble":
		return cmdAssemble(ctx, eng, args)
	case "reindex":
		return eng.Reindex(ctx)
	case "tombstone":
		return cmdTombstone(ctx, eng, args)
	case "anonymize":
		return cmdAnonymize(ctx, eng, args)
	case "stats":
		return cmdStats(ctx, eng)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// applyEnv overrides config fields from DEFESA_* environment variables.
func applyEnv(cfg *defesajusta.Config) {
	if v := os.Getenv("DEFESA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DEFESA_INDEX_PATH"); v != "" {
		cfg.IndexPath = v
	}
	if v := os.Getenv("DEFESA_COLLECTION_PATH"); v != "" {
		cfg.CollectionPath = v
	}
	if v := os.Getenv("DEFESA_TIPS_CATALOG"); v != "" {
		cfg.TipsCatalogPath = v
	}
	if v := os.Getenv("DEFESA_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("DEFESA_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("DEFESA_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DEFESA_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func cmdIngest(ctx context.Context, eng defesajusta.Engine, files []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	docType := fs.String("type", "statute", "document type: statute, precedent, regulation")
	jurisdiction := fs.String("jurisdiction", "Portugal", "jurisdiction")
	sourceURL := fs.String("url", "", "source URL")
	published := fs.String("published", "", "publication date (YYYY-MM-DD)")
	fs.Parse(files)
	if fs.NArg() == 0 {
		return fmt.Errorf("ingest: no files given")
	}

	var pubDate time.Time
	if *published != "" {
		var err error
		if pubDate, err = time.Parse("2006-01-02", *published); err != nil {
			return fmt.Errorf("ingest: parsing published date: %w", err)
		}
	}

	var docs []defesajusta.SourceDocument
	for _, path := range fs.Args() {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("ingest: reading %s: %w", path, err)
		}
		title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		docs = append(docs, defesajusta.SourceDocument{
			Title:           title,
			Content:         string(content),
			DocumentType:    *docType,
			Jurisdiction:    *jurisdiction,
			SourceURL:       *sourceURL,
			PublicationDate: pubDate,
		})
	}

	results, err := eng.IngestBatch(ctx, docs)
	if err != nil {
		return err
	}
	return printJSON(results)
}

func cmdRetrieve(ctx context.Context, eng defesajusta.Engine, args []string) error {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	k := fs.Int("k", 10, "number of passages")
	docType := fs.String("type", "", "filter by document type")
	jurisdiction := fs.String("jurisdiction", "", "filter by jurisdiction")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("retrieve: missing query")
	}

	results, degraded, err := eng.Retrieve(ctx, strings.Join(fs.Args(), " "), *k,
		retrieval.Filters{DocumentType: *docType, Jurisdiction: *jurisdiction})
	if err != nil {
		return err
	}
	if degraded {
		slog.Warn("retrieval ran in degraded full-text mode")
	}
	return printJSON(results)
}

func cmdContribute(ctx context.Context, eng defesajusta.Engine, args []string) error {
	fs := flag.NewFlagSet("contribute", flag.ExitOnError)
	category := fs.String("category", "", "citation category (e.g. estacionamento)")
	location := fs.String("location", "", "city and street of the fine")
	amount := fs.Float64("amount", 0, "fine amount in euros")
	authority := fs.String("authority", "", "issuing authority")
	date := fs.String("date", "", "date issued (YYYY-MM-DD)")
	outcome := fs.String("outcome", "", "outcome: paid, contested_won, contested_lost, pending")
	fs.Parse(args)

	id, err := eng.SubmitContribution(ctx, contribution.Submission{
		Category:   *category,
		Location:   *location,
		Amount:     *amount,
		Authority:  *authority,
		DateIssued: *date,
		Outcome:    *outcome,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func cmdUnify(ctx context.Context, eng defesajusta.Engine) error {
	report, err := eng.RunUnifier(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func cmdAssemble(ctx context.Context, eng defesajusta.Engine, args []string) error {
	fs := flag.NewFlagSet("assemble", flag.ExitOnError)
	category := fs.String("category", "", "citation category")
	location := fs.String("location", "", "citation location")
	amount := fs.Float64("amount", 0, "fine amount in euros")
	fs.Parse(args)

	bundle, err := eng.Assemble(ctx, assemble.Request{
		Category: *category,
		Location: *location,
		Amount:   *amount,
	})
	if err != nil {
		return err
	}
	return printJSON(bundle)
}

func cmdTombstone(ctx context.Context, eng defesajusta.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("tombstone: expected one document ID")
	}
	var id int64
	if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
		return fmt.Errorf("tombstone: invalid document ID %q", args[0])
	}
	return eng.TombstoneDocument(ctx, id)
}

func cmdAnonymize(ctx context.Context, eng defesajusta.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("anonymize: expected one contribution ID")
	}
	return eng.AnonymizeContribution(ctx, args[0])
}

func cmdStats(ctx context.Context, eng defesajusta.Engine) error {
	stats, err := eng.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
