package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/filingbrief/internal/domain"
)

// Config holds the filingbrief API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Planner    PlannerConfig    `yaml:"planner"`
	Memory     MemoryConfig     `yaml:"memory"`
	Audit      AuditConfig      `yaml:"audit"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. Admin keys gate /v1/admin/.
type AuthConfig struct {
	APIKeys   []string `yaml:"api_keys"`
	AdminKeys []string `yaml:"admin_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Vectorizer VectorizerConfig          `yaml:"vectorizer"`
	CacheTTL   int                       `yaml:"cache_ttl_hours"` // 0 = no expiry
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey  string       `yaml:"api_key"`
	BaseURL string       `yaml:"base_url"`
	Budget  BudgetConfig `yaml:"budget"`
}

// VectorizerConfig selects the embedding model.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// LLMConfig selects the completion provider. An empty provider disables every LLM path.
type LLMConfig struct {
	Provider   string       `yaml:"provider"` // openai, anthropic, "" (disabled)
	Model      string       `yaml:"model"`
	APIKey     string       `yaml:"api_key"`
	BaseURL    string       `yaml:"base_url"`
	MaxTokens  int          `yaml:"max_tokens"`
	TimeoutSec int          `yaml:"timeout_sec"`
	Drafting   bool         `yaml:"drafting"` // LLM-drafted sections instead of extractive synthesis
	Budget     BudgetConfig `yaml:"budget"`
}

// MarketDataConfig holds the quote API client settings.
type MarketDataConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Source        string  `yaml:"source"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	TimeoutSec    int     `yaml:"timeout_sec"`
}

// RetrievalConfig holds hybrid retrieval settings.
type RetrievalConfig struct {
	Backend            string `yaml:"backend"` // redis, local
	RRFK               int    `yaml:"rrf_k"`
	TopN               int    `yaml:"top_n"`
	Concurrency        int    `yaml:"concurrency"`
	SubQueryTimeoutSec int    `yaml:"subquery_timeout_sec"`
	VectorDimensions   int    `yaml:"vector_dimensions"`
	SparseScorer       string `yaml:"sparse_scorer"` // bm25, tf
}

// RerankConfig holds re-ranker settings.
type RerankConfig struct {
	Scorer string `yaml:"scorer"` // llm, lexical, none
	Pool   int    `yaml:"pool"`
	FinalK int    `yaml:"final_k"`
}

// PlannerConfig holds query planner settings.
type PlannerConfig struct {
	MaxSubQueries int               `yaml:"max_subqueries"`
	Tickers       []string          `yaml:"tickers"`
	Aliases       map[string]string `yaml:"aliases"` // company name -> ticker
	LLMTopics     bool              `yaml:"llm_topics"`
}

// MemoryConfig holds two-tier memory settings.
type MemoryConfig struct {
	SessionTTLMin int    `yaml:"session_ttl_min"`
	GlobalBackend string `yaml:"global_backend"` // redis, sqlite
	SQLitePath    string `yaml:"sqlite_path"`
	HistoryWindow int    `yaml:"history_window"`
}

// AuditConfig holds audit policy settings.
type AuditConfig struct {
	Mode               string  `yaml:"mode"` // flag, fail
	RelativeTolerance  float64 `yaml:"relative_tolerance"`
	MarketCapTolerance float64 `yaml:"market_cap_tolerance"`
}

// SessionTTL returns the session idle TTL.
func (c MemoryConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// SubQueryTimeout returns the per-sub-query deadline.
func (c RetrievalConfig) SubQueryTimeout() time.Duration {
	return time.Duration(c.SubQueryTimeoutSec) * time.Second
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands env variables, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
//
//nolint:gocyclo // flat list of defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 90 // brief generation spans several LLM calls
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = domain.KeyPrefix
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 30
	}
	if c.MarketData.RatePerSecond <= 0 {
		c.MarketData.RatePerSecond = 2
	}
	if c.MarketData.Burst <= 0 {
		c.MarketData.Burst = 1
	}
	if c.MarketData.TimeoutSec <= 0 {
		c.MarketData.TimeoutSec = 10
	}
	if c.MarketData.Source == "" {
		c.MarketData.Source = "Market data API"
	}
	if c.Retrieval.Backend == "" {
		c.Retrieval.Backend = "redis"
	}
	if c.Retrieval.RRFK <= 0 {
		c.Retrieval.RRFK = 60
	}
	if c.Retrieval.TopN <= 0 {
		c.Retrieval.TopN = 20
	}
	if c.Retrieval.Concurrency <= 0 {
		c.Retrieval.Concurrency = 4
	}
	if c.Retrieval.SubQueryTimeoutSec <= 0 {
		c.Retrieval.SubQueryTimeoutSec = 20
	}
	if c.Retrieval.SparseScorer == "" {
		c.Retrieval.SparseScorer = "bm25"
	}
	if c.Rerank.Scorer == "" {
		c.Rerank.Scorer = "lexical"
	}
	if c.Rerank.Pool <= 0 {
		c.Rerank.Pool = 20
	}
	if c.Rerank.FinalK <= 0 {
		c.Rerank.FinalK = 5
	}
	if c.Planner.MaxSubQueries <= 0 {
		c.Planner.MaxSubQueries = 6
	}
	if c.Memory.SessionTTLMin <= 0 {
		c.Memory.SessionTTLMin = 60
	}
	if c.Memory.GlobalBackend == "" {
		c.Memory.GlobalBackend = "redis"
	}
	if c.Memory.SQLitePath == "" {
		c.Memory.SQLitePath = "data/memory.db"
	}
	if c.Memory.HistoryWindow <= 0 {
		c.Memory.HistoryWindow = 10
	}
	if c.Audit.Mode == "" {
		c.Audit.Mode = "flag"
	}
	if c.Audit.RelativeTolerance <= 0 {
		c.Audit.RelativeTolerance = 0.005
	}
	if c.Audit.MarketCapTolerance <= 0 {
		c.Audit.MarketCapTolerance = 0.05
	}
}

// Validate checks the configuration for correctness.
//
//nolint:gocyclo // flat list of checks
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	for name, p := range c.Embedding.Providers {
		if err := validateBudgetAction("embedding.providers."+name, p.Budget.Action); err != nil {
			return err
		}
	}
	if err := validateBudgetAction("llm", c.LLM.Budget.Action); err != nil {
		return err
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be \"openai\", \"anthropic\" or empty, got %q", c.LLM.Provider)
	}
	if c.LLM.Provider != "" && c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required when llm.provider is set")
	}
	switch c.Retrieval.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf("retrieval.backend must be \"redis\" or \"local\", got %q", c.Retrieval.Backend)
	}
	switch c.Retrieval.SparseScorer {
	case "bm25", "tf":
	default:
		return fmt.Errorf("retrieval.sparse_scorer must be \"bm25\" or \"tf\", got %q", c.Retrieval.SparseScorer)
	}
	switch c.Rerank.Scorer {
	case "llm", "lexical", "none":
	default:
		return fmt.Errorf("rerank.scorer must be \"llm\", \"lexical\" or \"none\", got %q", c.Rerank.Scorer)
	}
	if c.Rerank.Scorer == "llm" && c.LLM.Provider == "" {
		return fmt.Errorf("rerank.scorer \"llm\" requires llm.provider")
	}
	if c.Rerank.Pool < c.Rerank.FinalK {
		return fmt.Errorf("rerank.pool (%d) must be >= rerank.final_k (%d)", c.Rerank.Pool, c.Rerank.FinalK)
	}
	switch c.Memory.GlobalBackend {
	case "redis", "sqlite":
	default:
		return fmt.Errorf("memory.global_backend must be \"redis\" or \"sqlite\", got %q", c.Memory.GlobalBackend)
	}
	switch c.Audit.Mode {
	case "flag", "fail":
	default:
		return fmt.Errorf("audit.mode must be \"flag\" or \"fail\", got %q", c.Audit.Mode)
	}
	return nil
}

func validateBudgetAction(path, action string) error {
	switch action {
	case "", "warn", "reject":
		return nil
	default:
		return fmt.Errorf("%s.budget.action must be \"warn\" or \"reject\", got %q", path, action)
	}
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
