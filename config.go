package defesajusta

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/defesajusta/defesajusta/contribution"
	"github.com/defesajusta/defesajusta/embed"
	"github.com/defesajusta/defesajusta/scoring"
	"github.com/defesajusta/defesajusta/unify"
)

// Config holds all configuration for the defense knowledge engine.
type Config struct {
	// DBPath is the full path to the relational corpus database.
	// If empty, defaults to <storage dir>/corpus.db.
	DBPath string `json:"db_path" yaml:"db_path"`

	// IndexPath is the path of the persisted vector index file.
	// If empty, defaults to <storage dir>/passages.idx.
	IndexPath string `json:"index_path" yaml:"index_path"`

	// CollectionPath is where the unified knowledge collection is written.
	// If empty, defaults to <storage dir>/unified.json.
	CollectionPath string `json:"collection_path" yaml:"collection_path"`

	// TipsCatalogPath optionally points to a curated XLSX community-tips
	// catalog. When empty only the built-in catalog is used.
	TipsCatalogPath string `json:"tips_catalog_path" yaml:"tips_catalog_path"`

	// StorageDir controls where data files live when the explicit paths
	// above are not set. Options: "home" (default) uses ~/.defesajusta/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Embedding configures the external embedding capability.
	Embedding embed.Config `json:"embedding" yaml:"embedding"`

	// EmbedTimeout bounds a single embedding call; EmbedRetryBackoff is
	// the pause before the one retry allowed on timeout.
	EmbedTimeout      time.Duration `json:"embed_timeout" yaml:"embed_timeout"`
	EmbedRetryBackoff time.Duration `json:"embed_retry_backoff" yaml:"embed_retry_backoff"`

	// Chunking
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Retrieval
	TopK             int `json:"top_k" yaml:"top_k"`
	OversampleFactor int `json:"oversample_factor" yaml:"oversample_factor"`

	// Scoring weights for document ingestion scores.
	Scoring scoring.Weights `json:"scoring" yaml:"scoring"`

	// Confidence bands per unified-entry source type.
	Confidence unify.ConfidenceBands `json:"confidence" yaml:"confidence"`

	// UsageWeight scales the usage-count boost in unified search ranking.
	UsageWeight float64 `json:"usage_weight" yaml:"usage_weight"`

	// AmountRanges maps fine categories to their accepted amount bounds.
	AmountRanges map[string]contribution.AmountRange `json:"amount_ranges" yaml:"amount_ranges"`
}

// DefaultConfig returns a Config with sensible defaults for local use.
// Data files are stored in ~/.defesajusta/ by default.
func DefaultConfig() Config {
	return Config{
		StorageDir: "home",
		Embedding: embed.Config{
			Provider:  "local",
			Dimension: 256,
		},
		EmbedTimeout:      10 * time.Second,
		EmbedRetryBackoff: 500 * time.Millisecond,
		ChunkSize:         800,
		ChunkOverlap:      160,
		TopK:              10,
		OversampleFactor:  5,
		Scoring:           scoring.DefaultWeights(),
		Confidence:        unify.DefaultConfidenceBands(),
		UsageWeight:       0.05,
		AmountRanges:      contribution.DefaultAmountRanges(),
	}
}

// LoadConfig reads a YAML config file and overlays it on DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// resolveStorageDir computes the data directory for default paths.
func (c *Config) resolveStorageDir() string {
	switch c.StorageDir {
	case "local", "cwd":
		return "."
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		return filepath.Join(home, ".defesajusta")
	}
}

// resolveDBPath returns the relational database path.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.resolveStorageDir(), "corpus.db")
}

// resolveIndexPath returns the vector index path.
func (c *Config) resolveIndexPath() string {
	if c.IndexPath != "" {
		return c.IndexPath
	}
	return filepath.Join(c.resolveStorageDir(), "passages.idx")
}

// resolveCollectionPath returns the unified collection path.
func (c *Config) resolveCollectionPath() string {
	if c.CollectionPath != "" {
		return c.CollectionPath
	}
	return filepath.Join(c.resolveStorageDir(), "unified.json")
}
