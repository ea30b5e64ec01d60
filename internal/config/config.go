package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete raggate configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Auth       AuthConfig       `yaml:"auth" json:"auth"`
	Sessions   SessionsConfig   `yaml:"sessions" json:"sessions"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Stores     StoresConfig     `yaml:"stores" json:"stores"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP/WebSocket gateway.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// CORSOrigins lists allowed browser origins. Empty allows all.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// QueryTimeout bounds a synchronous query request (default: "60s").
	QueryTimeout string `yaml:"query_timeout" json:"query_timeout"`
	// IngestTimeout bounds an upload or reindex request (default: "300s").
	IngestTimeout string `yaml:"ingest_timeout" json:"ingest_timeout"`
	// WSSessionTimeout bounds an idle WebSocket session (default: "30m").
	WSSessionTimeout string `yaml:"ws_session_timeout" json:"ws_session_timeout"`
	// ShutdownGrace is how long in-flight requests get on shutdown.
	ShutdownGrace string `yaml:"shutdown_grace" json:"shutdown_grace"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// DataDir is the root directory for stores, locks, and logs.
	// Defaults to ~/.raggate
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	// UsersFile is the YAML user directory (id, org, role, permissions,
	// password hash). Defaults to <data_dir>/users.yaml
	UsersFile string `yaml:"users_file" json:"users_file"`

	// SSO enables bearer-token exchange at /login for deployments that
	// front raggate with an identity provider.
	SSO SSOConfig `yaml:"sso" json:"sso"`
}

// SSOConfig configures JWT bearer-token exchange.
type SSOConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Secret is the HMAC key used to verify inbound tokens.
	Secret string `yaml:"secret" json:"secret"`
	// Issuer must match the token iss claim when set.
	Issuer string `yaml:"issuer" json:"issuer"`
	// Audience must match the token aud claim when set.
	Audience string `yaml:"audience" json:"audience"`
}

// SessionsConfig configures session storage.
type SessionsConfig struct {
	// TTLHours is the absolute session lifetime (default: 24).
	TTLHours int `yaml:"ttl_hours" json:"ttl_hours"`
	// Backend selects the session store: sqlite (default), redis, or memory.
	Backend string `yaml:"backend" json:"backend"`
	// Redis settings (used when backend is "redis").
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the Redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "http" (remote service), "static"
	// (deterministic hash fallback), or empty for auto-detection.
	Provider string `yaml:"provider" json:"provider"`
	// Endpoint is the remote embedding service base URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// ModelID identifies the embedding model.
	ModelID string `yaml:"model_id" json:"model_id"`
	// Dimensions is the embedding vector width (default: 384).
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is texts per provider request (default: 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the LRU entry capacity (default: 4096).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// CacheTTL is how long cached vectors stay valid (default: "1h").
	CacheTTL string `yaml:"cache_ttl" json:"cache_ttl"`
	// RequestTimeout bounds one provider call (default: "30s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	// TokensPerChunk is the target chunk size in tokens (default: 512).
	TokensPerChunk int `yaml:"tokens_per_chunk" json:"tokens_per_chunk"`
	// OverlapTokens is the overlap between consecutive chunks (default: 128).
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
}

// SearchConfig configures retrieval and fusion.
type SearchConfig struct {
	// DefaultK is the result count when the caller does not pass k (default: 10).
	DefaultK int `yaml:"default_k" json:"default_k"`
	// CandidateFloor is the minimum per-index candidate fetch (default: 20).
	CandidateFloor int `yaml:"candidate_floor" json:"candidate_floor"`

	// FusionMode selects "weighted" (default) or "rrf".
	FusionMode string `yaml:"fusion_mode" json:"fusion_mode"`
	// DenseWeight is the dense score weight for weighted fusion (default: 0.7).
	DenseWeight float64 `yaml:"dense_weight" json:"dense_weight"`
	// LexicalWeight is the lexical score weight (default: 0.3).
	// Must sum to 1.0 with DenseWeight.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MinFusedScore drops fused results below this floor (default: 0.2).
	MinFusedScore float64 `yaml:"min_fused_score" json:"min_fused_score"`
	// FilenameBoost multiplies scores of chunks whose filename matches
	// query terms; fused scores stay clipped to 1.0 (default: 1.3).
	FilenameBoost float64 `yaml:"filename_boost" json:"filename_boost"`
	// EnrichmentThreshold is the minimum top score that triggers full-file
	// context enrichment (default: 0.5).
	EnrichmentThreshold float64 `yaml:"enrichment_threshold" json:"enrichment_threshold"`

	// BM25 scoring parameters for the lexical index.
	BM25K1 float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B  float64 `yaml:"bm25_b" json:"bm25_b"`
}

// StoresConfig configures storage locations. Values accept plain paths or
// file:// URLs; the path form is used directly.
type StoresConfig struct {
	// DocStoreURL locates the relational document store (default: <data_dir>/docs.db).
	DocStoreURL string `yaml:"doc_store_url" json:"doc_store_url"`
	// VectorIndexURL locates the vector index directory (default: <data_dir>/vector).
	VectorIndexURL string `yaml:"vector_index_url" json:"vector_index_url"`
	// LexicalIndexURL locates the lexical index directory (default: <data_dir>/lexical).
	LexicalIndexURL string `yaml:"lexical_index_url" json:"lexical_index_url"`
}

// LLMConfig configures answer generation.
type LLMConfig struct {
	// ProviderPreference is the ordered failover list. Known providers:
	// "openai", "anthropic", "ollama".
	ProviderPreference []string `yaml:"provider_preference" json:"provider_preference"`
	// MaxTokens caps generated answer length (default: 1024).
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
	// Temperature for generation (default: 0.2).
	Temperature float64 `yaml:"temperature" json:"temperature"`
	// RequestTimeout bounds one provider call (default: "120s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	OpenAI    OpenAIConfig    `yaml:"openai" json:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic" json:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama" json:"ollama"`
}

// OpenAIConfig configures an OpenAI-compatible chat provider.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`
}

// AnthropicConfig configures the Anthropic messages provider.
type AnthropicConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`
}

// OllamaConfig configures a local Ollama provider.
type OllamaConfig struct {
	Host  string `yaml:"host" json:"host"`
	Model string `yaml:"model" json:"model"`
}

// IngestConfig configures the indexing pipeline.
type IngestConfig struct {
	// MaxConcurrent caps simultaneous ingest operations (default: 16).
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// MaxUploadSizeMB caps a single upload (default: 32).
	MaxUploadSizeMB int `yaml:"max_upload_size_mb" json:"max_upload_size_mb"`
	// AllowedExtensions lists accepted upload extensions.
	AllowedExtensions []string `yaml:"allowed_extensions" json:"allowed_extensions"`
	// WatchDir enables the drop-directory watcher when set. Files placed
	// under <watch_dir>/<org_id>/ are ingested for that organization.
	WatchDir string `yaml:"watch_dir" json:"watch_dir"`
	// WatchDebounce coalesces rapid file events (default: "500ms").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// TelemetryConfig configures query analytics and metrics.
type TelemetryConfig struct {
	// MetricsEnabled exposes Prometheus metrics at /metrics (default: true).
	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`
	// AnalyticsBufferSize is the in-memory recent-event ring size (default: 1024).
	AnalyticsBufferSize int `yaml:"analytics_buffer_size" json:"analytics_buffer_size"`
	// AnalyticsPersist writes query events to the document store database.
	AnalyticsPersist bool `yaml:"analytics_persist" json:"analytics_persist"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// Format is "json", "text", or empty for TTY auto-detection.
	Format string `yaml:"format" json:"format"`
	// FilePath enables file logging with rotation when set.
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// defaultAllowedExtensions are the upload formats the chunker understands.
var defaultAllowedExtensions = []string{".txt", ".md", ".markdown", ".html", ".htm"}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			CORSOrigins:      nil, // Empty allows all origins
			QueryTimeout:     "60s",
			IngestTimeout:    "300s",
			WSSessionTimeout: "30m",
			ShutdownGrace:    "10s",
		},
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Auth: AuthConfig{
			UsersFile: "", // Resolved to <data_dir>/users.yaml after merge
			SSO: SSOConfig{
				Enabled: false,
			},
		},
		Sessions: SessionsConfig{
			TTLHours: 24,
			Backend:  "sqlite",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "", // Empty triggers auto-detection: http when endpoint set, else static
			Endpoint:       "",
			ModelID:        "all-minilm",
			Dimensions:     384,
			BatchSize:      32,
			CacheSize:      4096,
			CacheTTL:       "1h",
			RequestTimeout: "30s",
		},
		Chunking: ChunkingConfig{
			TokensPerChunk: 512,
			OverlapTokens:  128,
		},
		Search: SearchConfig{
			DefaultK:       10,
			CandidateFloor: 20,
			FusionMode:     "weighted",
			DenseWeight:    0.7,
			LexicalWeight:  0.3,
			// RRF constant k=60 is industry standard (Azure AI Search, OpenSearch)
			RRFConstant:         60,
			MinFusedScore:       0.2,
			FilenameBoost:       1.3,
			EnrichmentThreshold: 0.5,
			BM25K1:              1.5,
			BM25B:               0.75,
		},
		Stores: StoresConfig{
			// Empty values resolve against DataDir after merge
		},
		LLM: LLMConfig{
			ProviderPreference: []string{"ollama"},
			MaxTokens:          1024,
			Temperature:        0.2,
			RequestTimeout:     "120s",
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Anthropic: AnthropicConfig{
				BaseURL: "https://api.anthropic.com",
				Model:   "claude-3-5-haiku-20241022",
			},
			Ollama: OllamaConfig{
				Host:  "http://localhost:11434",
				Model: "qwen3:4b",
			},
		},
		Ingest: IngestConfig{
			MaxConcurrent:     16,
			MaxUploadSizeMB:   32,
			AllowedExtensions: defaultAllowedExtensions,
			WatchDir:          "",
			WatchDebounce:     "500ms",
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled:      true,
			AnalyticsBufferSize: 1024,
			AnalyticsPersist:    true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "",
			FilePath:  "",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to temp directory
		return filepath.Join(os.TempDir(), ".raggate")
	}
	return filepath.Join(home, ".raggate")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/raggate/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/raggate/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "raggate", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "raggate", "config.yaml")
	}
	return filepath.Join(home, ".config", "raggate", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/raggate/config.yaml)
//  3. Deployment config (raggate.yaml in dir)
//  4. Environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load deployment config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Resolve paths that default against the data directory
	cfg.applyDerivedDefaults()

	// Step 5: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads configuration from an explicit file path, then applies
// environment overrides and validates.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from raggate.yaml or raggate.yml.
func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, "raggate.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, "raggate.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if len(other.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = other.Server.CORSOrigins
	}
	if other.Server.QueryTimeout != "" {
		c.Server.QueryTimeout = other.Server.QueryTimeout
	}
	if other.Server.IngestTimeout != "" {
		c.Server.IngestTimeout = other.Server.IngestTimeout
	}
	if other.Server.WSSessionTimeout != "" {
		c.Server.WSSessionTimeout = other.Server.WSSessionTimeout
	}
	if other.Server.ShutdownGrace != "" {
		c.Server.ShutdownGrace = other.Server.ShutdownGrace
	}

	// Paths
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}

	// Auth
	if other.Auth.UsersFile != "" {
		c.Auth.UsersFile = other.Auth.UsersFile
	}
	if other.Auth.SSO.Enabled {
		c.Auth.SSO.Enabled = true
	}
	if other.Auth.SSO.Secret != "" {
		c.Auth.SSO.Secret = other.Auth.SSO.Secret
	}
	if other.Auth.SSO.Issuer != "" {
		c.Auth.SSO.Issuer = other.Auth.SSO.Issuer
	}
	if other.Auth.SSO.Audience != "" {
		c.Auth.SSO.Audience = other.Auth.SSO.Audience
	}

	// Sessions
	if other.Sessions.TTLHours != 0 {
		c.Sessions.TTLHours = other.Sessions.TTLHours
	}
	if other.Sessions.Backend != "" {
		c.Sessions.Backend = other.Sessions.Backend
	}
	if other.Sessions.Redis.Addr != "" {
		c.Sessions.Redis.Addr = other.Sessions.Redis.Addr
	}
	if other.Sessions.Redis.Password != "" {
		c.Sessions.Redis.Password = other.Sessions.Redis.Password
	}
	if other.Sessions.Redis.DB != 0 {
		c.Sessions.Redis.DB = other.Sessions.Redis.DB
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.ModelID != "" {
		c.Embeddings.ModelID = other.Embeddings.ModelID
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.CacheTTL != "" {
		c.Embeddings.CacheTTL = other.Embeddings.CacheTTL
	}
	if other.Embeddings.RequestTimeout != "" {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}

	// Chunking
	if other.Chunking.TokensPerChunk != 0 {
		c.Chunking.TokensPerChunk = other.Chunking.TokensPerChunk
	}
	if other.Chunking.OverlapTokens != 0 {
		c.Chunking.OverlapTokens = other.Chunking.OverlapTokens
	}

	// Search weights and thresholds
	// Note: 0 is not a practical value for weights, so we only merge non-zero values
	if other.Search.DefaultK != 0 {
		c.Search.DefaultK = other.Search.DefaultK
	}
	if other.Search.CandidateFloor != 0 {
		c.Search.CandidateFloor = other.Search.CandidateFloor
	}
	if other.Search.FusionMode != "" {
		c.Search.FusionMode = other.Search.FusionMode
	}
	if other.Search.DenseWeight != 0 {
		c.Search.DenseWeight = other.Search.DenseWeight
	}
	if other.Search.LexicalWeight != 0 {
		c.Search.LexicalWeight = other.Search.LexicalWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.MinFusedScore != 0 {
		c.Search.MinFusedScore = other.Search.MinFusedScore
	}
	if other.Search.FilenameBoost != 0 {
		c.Search.FilenameBoost = other.Search.FilenameBoost
	}
	if other.Search.EnrichmentThreshold != 0 {
		c.Search.EnrichmentThreshold = other.Search.EnrichmentThreshold
	}
	if other.Search.BM25K1 != 0 {
		c.Search.BM25K1 = other.Search.BM25K1
	}
	if other.Search.BM25B != 0 {
		c.Search.BM25B = other.Search.BM25B
	}

	// Stores
	if other.Stores.DocStoreURL != "" {
		c.Stores.DocStoreURL = other.Stores.DocStoreURL
	}
	if other.Stores.VectorIndexURL != "" {
		c.Stores.VectorIndexURL = other.Stores.VectorIndexURL
	}
	if other.Stores.LexicalIndexURL != "" {
		c.Stores.LexicalIndexURL = other.Stores.LexicalIndexURL
	}

	// LLM
	if len(other.LLM.ProviderPreference) > 0 {
		c.LLM.ProviderPreference = other.LLM.ProviderPreference
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.RequestTimeout != "" {
		c.LLM.RequestTimeout = other.LLM.RequestTimeout
	}
	if other.LLM.OpenAI.BaseURL != "" {
		c.LLM.OpenAI.BaseURL = other.LLM.OpenAI.BaseURL
	}
	if other.LLM.OpenAI.APIKey != "" {
		c.LLM.OpenAI.APIKey = other.LLM.OpenAI.APIKey
	}
	if other.LLM.OpenAI.Model != "" {
		c.LLM.OpenAI.Model = other.LLM.OpenAI.Model
	}
	if other.LLM.Anthropic.BaseURL != "" {
		c.LLM.Anthropic.BaseURL = other.LLM.Anthropic.BaseURL
	}
	if other.LLM.Anthropic.APIKey != "" {
		c.LLM.Anthropic.APIKey = other.LLM.Anthropic.APIKey
	}
	if other.LLM.Anthropic.Model != "" {
		c.LLM.Anthropic.Model = other.LLM.Anthropic.Model
	}
	if other.LLM.Ollama.Host != "" {
		c.LLM.Ollama.Host = other.LLM.Ollama.Host
	}
	if other.LLM.Ollama.Model != "" {
		c.LLM.Ollama.Model = other.LLM.Ollama.Model
	}

	// Ingest
	if other.Ingest.MaxConcurrent != 0 {
		c.Ingest.MaxConcurrent = other.Ingest.MaxConcurrent
	}
	if other.Ingest.MaxUploadSizeMB != 0 {
		c.Ingest.MaxUploadSizeMB = other.Ingest.MaxUploadSizeMB
	}
	if len(other.Ingest.AllowedExtensions) > 0 {
		c.Ingest.AllowedExtensions = other.Ingest.AllowedExtensions
	}
	if other.Ingest.WatchDir != "" {
		c.Ingest.WatchDir = other.Ingest.WatchDir
	}
	if other.Ingest.WatchDebounce != "" {
		c.Ingest.WatchDebounce = other.Ingest.WatchDebounce
	}

	// Telemetry
	// MetricsEnabled and AnalyticsPersist are booleans - only merge when
	// some telemetry field was explicitly set
	if other.Telemetry.AnalyticsBufferSize != 0 {
		c.Telemetry.AnalyticsBufferSize = other.Telemetry.AnalyticsBufferSize
		c.Telemetry.MetricsEnabled = other.Telemetry.MetricsEnabled
		c.Telemetry.AnalyticsPersist = other.Telemetry.AnalyticsPersist
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies environment variable overrides. The gateway
// honors both its own RAGGATE_* namespace and the deployment-facing names
// (LLM_PROVIDER_PREFERENCE, EMBEDDING_MODEL_ID, ...).
func (c *Config) applyEnvOverrides() {
	// Deployment-facing names
	if v := os.Getenv("LLM_PROVIDER_PREFERENCE"); v != "" {
		c.LLM.ProviderPreference = splitList(v)
	}
	if v := os.Getenv("EMBEDDING_MODEL_ID"); v != "" {
		c.Embeddings.ModelID = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Embeddings.Dimensions = d
		}
	}
	if v := os.Getenv("VECTOR_INDEX_URL"); v != "" {
		c.Stores.VectorIndexURL = v
	}
	if v := os.Getenv("LEXICAL_INDEX_URL"); v != "" {
		c.Stores.LexicalIndexURL = v
	}
	if v := os.Getenv("DOC_STORE_URL"); v != "" {
		c.Stores.DocStoreURL = v
	}
	if v := os.Getenv("SESSION_TTL_HOURS"); v != "" {
		if h, err := strconv.Atoi(v); err == nil && h > 0 {
			c.Sessions.TTLHours = h
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_INGESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.MaxConcurrent = n
		}
	}
	if v := os.Getenv("ENRICHMENT_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Search.EnrichmentThreshold = t
		}
	}

	// RAGGATE_* namespace
	if v := os.Getenv("RAGGATE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RAGGATE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("RAGGATE_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("RAGGATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RAGGATE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("RAGGATE_USERS_FILE"); v != "" {
		c.Auth.UsersFile = v
	}
	if v := os.Getenv("RAGGATE_SSO_SECRET"); v != "" {
		c.Auth.SSO.Secret = v
		c.Auth.SSO.Enabled = true
	}
	if v := os.Getenv("RAGGATE_SESSION_BACKEND"); v != "" {
		c.Sessions.Backend = v
	}
	if v := os.Getenv("RAGGATE_REDIS_ADDR"); v != "" {
		c.Sessions.Redis.Addr = v
	}
	if v := os.Getenv("RAGGATE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RAGGATE_EMBEDDING_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("RAGGATE_FUSION_MODE"); v != "" {
		c.Search.FusionMode = v
	}
	// Support explicit zero values for weights via env vars
	if v := os.Getenv("RAGGATE_DENSE_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.DenseWeight = w
		}
	}
	if v := os.Getenv("RAGGATE_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.LexicalWeight = w
		}
	}
	if v := os.Getenv("RAGGATE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("RAGGATE_WATCH_DIR"); v != "" {
		c.Ingest.WatchDir = v
	}

	// Conventional provider key names
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.LLM.Ollama.Host = v
	}
}

// applyDerivedDefaults resolves empty paths against the data directory.
func (c *Config) applyDerivedDefaults() {
	if c.Auth.UsersFile == "" {
		c.Auth.UsersFile = filepath.Join(c.Paths.DataDir, "users.yaml")
	}
	if c.Stores.DocStoreURL == "" {
		c.Stores.DocStoreURL = filepath.Join(c.Paths.DataDir, "docs.db")
	}
	if c.Stores.VectorIndexURL == "" {
		c.Stores.VectorIndexURL = filepath.Join(c.Paths.DataDir, "vector")
	}
	if c.Stores.LexicalIndexURL == "" {
		c.Stores.LexicalIndexURL = filepath.Join(c.Paths.DataDir, "lexical")
	}
}

// splitList splits a comma-separated list, trimming whitespace.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// knownProviders are the LLM providers the adapter can construct.
var knownProviders = map[string]bool{"openai": true, "anthropic": true, "ollama": true}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.query_timeout", c.Server.QueryTimeout},
		{"server.ingest_timeout", c.Server.IngestTimeout},
		{"server.ws_session_timeout", c.Server.WSSessionTimeout},
		{"server.shutdown_grace", c.Server.ShutdownGrace},
		{"embeddings.cache_ttl", c.Embeddings.CacheTTL},
		{"embeddings.request_timeout", c.Embeddings.RequestTimeout},
		{"llm.request_timeout", c.LLM.RequestTimeout},
		{"ingest.watch_debounce", c.Ingest.WatchDebounce},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", field.name, field.value)
		}
	}

	// Validate search weights
	if c.Search.DenseWeight < 0 || c.Search.DenseWeight > 1 {
		return fmt.Errorf("dense_weight must be between 0 and 1, got %f", c.Search.DenseWeight)
	}
	if c.Search.LexicalWeight < 0 || c.Search.LexicalWeight > 1 {
		return fmt.Errorf("lexical_weight must be between 0 and 1, got %f", c.Search.LexicalWeight)
	}

	// Validate weight sum
	sum := c.Search.DenseWeight + c.Search.LexicalWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("dense_weight + lexical_weight must equal 1.0, got %.2f", sum)
	}

	if c.Search.FusionMode != "weighted" && c.Search.FusionMode != "rrf" {
		return fmt.Errorf("search.fusion_mode must be 'weighted' or 'rrf', got %s", c.Search.FusionMode)
	}
	if c.Search.DefaultK < 1 {
		return fmt.Errorf("search.default_k must be positive, got %d", c.Search.DefaultK)
	}
	if c.Search.CandidateFloor < c.Search.DefaultK {
		return fmt.Errorf("search.candidate_floor must be at least default_k (%d), got %d",
			c.Search.DefaultK, c.Search.CandidateFloor)
	}
	if c.Search.RRFConstant < 1 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.MinFusedScore < 0 || c.Search.MinFusedScore > 1 {
		return fmt.Errorf("search.min_fused_score must be between 0 and 1, got %f", c.Search.MinFusedScore)
	}
	if c.Search.FilenameBoost < 1 {
		return fmt.Errorf("search.filename_boost must be at least 1.0, got %f", c.Search.FilenameBoost)
	}
	if c.Search.EnrichmentThreshold < 0 || c.Search.EnrichmentThreshold > 1 {
		return fmt.Errorf("search.enrichment_threshold must be between 0 and 1, got %f", c.Search.EnrichmentThreshold)
	}

	// Validate chunking
	if c.Chunking.TokensPerChunk < 1 {
		return fmt.Errorf("chunking.tokens_per_chunk must be positive, got %d", c.Chunking.TokensPerChunk)
	}
	if c.Chunking.TokensPerChunk > 1024 {
		return fmt.Errorf("chunking.tokens_per_chunk must not exceed 1024, got %d", c.Chunking.TokensPerChunk)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TokensPerChunk {
		return fmt.Errorf("chunking.overlap_tokens must be in [0, tokens_per_chunk), got %d", c.Chunking.OverlapTokens)
	}

	// Validate embeddings
	if c.Embeddings.Provider != "" { // Empty string triggers auto-detection
		validProviders := map[string]bool{"http": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'http', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}
	if c.Embeddings.Dimensions < 1 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 1 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	// Validate sessions
	if c.Sessions.TTLHours < 1 {
		return fmt.Errorf("sessions.ttl_hours must be positive, got %d", c.Sessions.TTLHours)
	}
	validBackends := map[string]bool{"sqlite": true, "redis": true, "memory": true}
	if !validBackends[strings.ToLower(c.Sessions.Backend)] {
		return fmt.Errorf("sessions.backend must be 'sqlite', 'redis', or 'memory', got %s", c.Sessions.Backend)
	}

	// Validate LLM provider preference
	if len(c.LLM.ProviderPreference) == 0 {
		return fmt.Errorf("llm.provider_preference must list at least one provider")
	}
	for _, p := range c.LLM.ProviderPreference {
		if !knownProviders[strings.ToLower(p)] {
			return fmt.Errorf("llm.provider_preference contains unknown provider %q (known: openai, anthropic, ollama)", p)
		}
	}

	// Validate ingest
	if c.Ingest.MaxConcurrent < 1 {
		return fmt.Errorf("ingest.max_concurrent must be positive, got %d", c.Ingest.MaxConcurrent)
	}
	if c.Ingest.MaxUploadSizeMB < 1 {
		return fmt.Errorf("ingest.max_upload_size_mb must be positive, got %d", c.Ingest.MaxUploadSizeMB)
	}

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// Duration helpers: the YAML schema keeps durations as strings; these
// return the parsed values with the documented defaults as fallback.

// QueryTimeoutDuration returns the parsed query deadline.
func (c *Config) QueryTimeoutDuration() time.Duration {
	return parseDurationOr(c.Server.QueryTimeout, 60*time.Second)
}

// IngestTimeoutDuration returns the parsed ingest deadline.
func (c *Config) IngestTimeoutDuration() time.Duration {
	return parseDurationOr(c.Server.IngestTimeout, 300*time.Second)
}

// WSSessionTimeoutDuration returns the parsed WebSocket session cap.
func (c *Config) WSSessionTimeoutDuration() time.Duration {
	return parseDurationOr(c.Server.WSSessionTimeout, 30*time.Minute)
}

// ShutdownGraceDuration returns the parsed shutdown grace period.
func (c *Config) ShutdownGraceDuration() time.Duration {
	return parseDurationOr(c.Server.ShutdownGrace, 10*time.Second)
}

// SessionTTL returns the absolute session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLHours) * time.Hour
}

// EmbeddingCacheTTL returns the parsed embedding cache TTL.
func (c *Config) EmbeddingCacheTTL() time.Duration {
	return parseDurationOr(c.Embeddings.CacheTTL, time.Hour)
}

// EmbeddingRequestTimeout returns the parsed embedding request timeout.
func (c *Config) EmbeddingRequestTimeout() time.Duration {
	return parseDurationOr(c.Embeddings.RequestTimeout, 30*time.Second)
}

// LLMRequestTimeout returns the parsed LLM request timeout.
func (c *Config) LLMRequestTimeout() time.Duration {
	return parseDurationOr(c.LLM.RequestTimeout, 120*time.Second)
}

// WatchDebounceDuration returns the parsed watcher debounce interval.
func (c *Config) WatchDebounceDuration() time.Duration {
	return parseDurationOr(c.Ingest.WatchDebounce, 500*time.Millisecond)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
