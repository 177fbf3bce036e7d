package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the docrank configuration.
type Config struct {
	Input   InputConfig   `yaml:"input"`
	Model   ModelConfig   `yaml:"model"`
	Segment SegmentConfig `yaml:"segment"`
	Rank    RankConfig    `yaml:"rank"`
	Refine  RefineConfig  `yaml:"refine"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Workers int           `yaml:"workers"` // instructions processed in parallel; 1 is sequential
}

// InputConfig locates instructions, documents and outputs.
type InputConfig struct {
	InstructionDir       string `yaml:"instruction_dir"`
	Pattern              string `yaml:"pattern"`
	DocumentDir          string `yaml:"document_dir"`
	OutputDir            string `yaml:"output_dir"`
	PDFFallbackPdftotext bool   `yaml:"pdf_fallback_pdftotext"`
}

// ModelConfig selects the embedding provider.
type ModelConfig struct {
	Provider  string `yaml:"provider"` // hashed, openai
	Dir       string `yaml:"dir"`
	BaseURL   string `yaml:"base_url"`
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
	CacheSize int    `yaml:"cache_size"`
}

// SegmentConfig tunes heading detection and section assembly.
type SegmentConfig struct {
	HeadingSizeRatio float64 `yaml:"heading_size_ratio"`
	TitleMaxChars    int     `yaml:"title_max_chars"`
	MinBodyChars     int     `yaml:"min_body_chars"`
	ShortLines       *bool   `yaml:"short_lines"`
	SectionTextChars int     `yaml:"section_text_chars"` // body prefix encoded with the title
}

// RankConfig tunes selection.
type RankConfig struct {
	MaxSections int     `yaml:"max_sections"`
	Epsilon     float64 `yaml:"epsilon"`
	Diversify   bool    `yaml:"diversify"`
}

// RefineConfig tunes excerpt selection.
type RefineConfig struct {
	MinSplitChars    int `yaml:"min_split_chars"`
	TopSpans         int `yaml:"top_spans"`
	MaxExcerptChars  int `yaml:"max_excerpt_chars"`
	SentencesPerSpan int `yaml:"sentences_per_span"`
}

// ServerConfig holds the HTTP mode settings.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	APIKey         string        `yaml:"api_key"` // empty disables bearer auth
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RunTTL         time.Duration `yaml:"run_ttl"`
	MaxQueueSize   int           `yaml:"max_queue_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Format string `yaml:"format"` // json, console
	Level  string `yaml:"level"`  // debug, info, warn, error
}

// Load reads path (optional: an empty path or a missing default file yields
// defaults), applies DOCRANK_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		switch {
		case err == nil:
			data = expandEnvVars(data)
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		default:
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultPath is read when no config file is named.
const DefaultPath = "config.yaml"

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Input.InstructionDir == "" {
		c.Input.InstructionDir = "./input"
	}
	if c.Input.Pattern == "" {
		c.Input.Pattern = "*.json"
	}
	if c.Input.DocumentDir == "" {
		c.Input.DocumentDir = filepath.Join(c.Input.InstructionDir, "PDFs")
	}
	if c.Input.OutputDir == "" {
		c.Input.OutputDir = "./output"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "hashed"
	}
	if c.Model.Dir == "" {
		c.Model.Dir = "./model"
	}
	if c.Model.CacheSize < 0 {
		c.Model.CacheSize = 0
	}
	if c.Segment.HeadingSizeRatio <= 0 {
		c.Segment.HeadingSizeRatio = 1.15
	}
	if c.Segment.TitleMaxChars <= 0 {
		c.Segment.TitleMaxChars = 80
	}
	if c.Segment.ShortLines == nil {
		on := true
		c.Segment.ShortLines = &on
	}
	if c.Segment.SectionTextChars <= 0 {
		c.Segment.SectionTextChars = 500
	}
	if c.Rank.MaxSections <= 0 {
		c.Rank.MaxSections = 5
	}
	if c.Rank.Epsilon <= 0 {
		c.Rank.Epsilon = 1e-9
	}
	if c.Refine.MinSplitChars <= 0 {
		c.Refine.MinSplitChars = 120
	}
	if c.Refine.TopSpans <= 0 {
		c.Refine.TopSpans = 1
	}
	if c.Refine.MaxExcerptChars <= 0 {
		c.Refine.MaxExcerptChars = 800
	}
	if c.Refine.SentencesPerSpan <= 0 {
		c.Refine.SentencesPerSpan = 2
	}
	if c.Server.Port == "" {
		c.Server.Port = "8090"
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 1 << 20
	}
	if c.Server.RunTTL <= 0 {
		c.Server.RunTTL = time.Hour
	}
	if c.Server.MaxQueueSize <= 0 {
		c.Server.MaxQueueSize = 100
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// applyEnv lets DOCRANK_* variables override file values.
func (c *Config) applyEnv() {
	c.Input.InstructionDir = envOr("DOCRANK_INPUT_DIR", c.Input.InstructionDir)
	c.Input.DocumentDir = envOr("DOCRANK_DOCUMENT_DIR", c.Input.DocumentDir)
	c.Input.OutputDir = envOr("DOCRANK_OUTPUT_DIR", c.Input.OutputDir)
	c.Input.PDFFallbackPdftotext = envBool("DOCRANK_PDF_FALLBACK_PDFTOTEXT", c.Input.PDFFallbackPdftotext)

	c.Model.Provider = envOr("DOCRANK_MODEL_PROVIDER", c.Model.Provider)
	c.Model.Dir = envOr("DOCRANK_MODEL_DIR", c.Model.Dir)
	c.Model.BaseURL = envOr("DOCRANK_MODEL_BASE_URL", c.Model.BaseURL)
	c.Model.Name = envOr("DOCRANK_MODEL_NAME", c.Model.Name)
	c.Model.APIKey = envOr("DOCRANK_MODEL_API_KEY", c.Model.APIKey)

	c.Rank.MaxSections = envInt("DOCRANK_MAX_SECTIONS", c.Rank.MaxSections)
	c.Rank.Diversify = envBool("DOCRANK_DIVERSIFY", c.Rank.Diversify)
	c.Refine.TopSpans = envInt("DOCRANK_TOP_SPANS", c.Refine.TopSpans)

	c.Server.Port = envOr("DOCRANK_PORT", envOr("PORT", c.Server.Port))
	c.Server.APIKey = envOr("DOCRANK_API_KEY", c.Server.APIKey)
	c.Server.MaxUploadBytes = envInt64("DOCRANK_MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)
	c.Server.RunTTL = envDuration("DOCRANK_RUN_TTL", c.Server.RunTTL)

	c.Logging.Format = envOr("DOCRANK_LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = envOr("DOCRANK_LOG_LEVEL", c.Logging.Level)
	c.Workers = envInt("DOCRANK_WORKERS", c.Workers)
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	switch c.Model.Provider {
	case "hashed":
		if c.Model.Dir == "" {
			return fmt.Errorf("model.dir is required for the hashed provider")
		}
	case "openai":
		if c.Model.BaseURL == "" || c.Model.Name == "" {
			return fmt.Errorf("model.base_url and model.name are required for the openai provider")
		}
	default:
		return fmt.Errorf("model.provider must be \"hashed\" or \"openai\", got %q", c.Model.Provider)
	}
	if c.Segment.HeadingSizeRatio < 1 {
		return fmt.Errorf("segment.heading_size_ratio must be at least 1, got %g", c.Segment.HeadingSizeRatio)
	}
	if c.Rank.MaxSections <= 0 {
		return fmt.Errorf("rank.max_sections must be positive, got %d", c.Rank.MaxSections)
	}
	if c.Refine.TopSpans <= 0 {
		return fmt.Errorf("refine.top_spans must be positive, got %d", c.Refine.TopSpans)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", c.Server.Port)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
