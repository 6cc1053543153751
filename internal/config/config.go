package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"
)

const (
	SourceUnipept = "unipept"
	SourceSQLite  = "sqlite"
)

type Config struct {
	PeptidesFile   string `json:"peptides_file"`
	PepProtIndex   string `json:"pep_prot_index"`
	BlastFile      string `json:"blast_file"`
	ProtTaxonIndex string `json:"prot_taxon_index"`
	OutputFile     string `json:"output_file"`
	LogFile        string `json:"log_file"`
	LogLevel       string `json:"log_level"`

	MaxBlastE           *float64 `json:"max_blast_e"`
	MaxBlastDeltaLog10E *float64 `json:"max_blast_delta_log10_e"`
	TaxonomyBatchSize   int      `json:"taxonomy_batch_size"`
	ValidateTaxa        *bool    `json:"validate_taxa"`
	IncludeProteinIDs   bool     `json:"include_protein_ids"`
	TrimAccessions      *bool    `json:"trim_accessions"`

	TaxonomySource          string `json:"taxonomy_source"`
	TaxonomyDB              string `json:"taxonomy_db"`
	UnipeptURL              string `json:"unipept_url"`
	UniprotURL              string `json:"uniprot_url"`
	TaxonomyCachePath       string `json:"taxonomy_cache_path"`
	TaxonomyCacheTTLSeconds int64  `json:"taxonomy_cache_ttl_seconds"`
	MaxRetries              int    `json:"max_retries"`

	ResultsDB string `json:"results_db"`

	PSMCountsFile string `json:"psm_counts_file"`
	AbundanceFile string `json:"abundance_file"`
}

// ErrUnknownSource is returned by Validate for an unsupported taxonomy_source.
var ErrUnknownSource = errors.New("unknown taxonomy_source")

// ErrNotFinite is returned by Validate for a NaN or infinite threshold.
var ErrNotFinite = errors.New("threshold must be a finite number")

// LoadConfig loads a JSON config from the given path. If path is empty, looks for ./config.json.
// A missing file is not an error; defaults are returned instead.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}
	f, err := os.Open(path)
	if err != nil {
		// not fatal: return defaults
		c := &Config{}
		c.ApplyDefaults()
		return c, nil
	}
	defer f.Close()
	var c Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	return &c, nil
}

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool { return &v }

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxBlastE == nil {
		c.MaxBlastE = floatPtr(1000)
	}
	if c.MaxBlastDeltaLog10E == nil {
		c.MaxBlastDeltaLog10E = floatPtr(1000)
	}
	if c.TaxonomyBatchSize <= 0 {
		c.TaxonomyBatchSize = 500
	}
	if c.ValidateTaxa == nil {
		c.ValidateTaxa = boolPtr(true)
	}
	if c.TrimAccessions == nil {
		c.TrimAccessions = boolPtr(true)
	}
	if c.TaxonomySource == "" {
		c.TaxonomySource = SourceUnipept
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	for name, v := range map[string]*float64{
		"max_blast_e":             c.MaxBlastE,
		"max_blast_delta_log10_e": c.MaxBlastDeltaLog10E,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s: %w", name, ErrNotFinite)
		}
	}
	switch c.TaxonomySource {
	case SourceUnipept:
	case SourceSQLite:
		if c.TaxonomyDB == "" {
			return errors.New("taxonomy_source sqlite requires taxonomy_db")
		}
	default:
		return ErrUnknownSource
	}
	return nil
}

// CacheTTL is the taxonomy cache lifetime; zero means the client default.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.TaxonomyCacheTTLSeconds) * time.Second
}
