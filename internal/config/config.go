// Package config loads the chat orchestrator's YAML configuration: routing
// table, retrieval thresholds, context budgets, and provider connection
// settings. Secrets (API keys, DSNs) are loaded separately from the
// environment via godotenv rather than checked into YAML.
package config

import (
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v2"
)

// DatabaseConfig configures the Postgres pool used for session/semantic-memory storage.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// QdrantConfig configures the primary vector store backend.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
}

// RedisConfig configures the process-wide embedding/token cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	CacheTTL int    `yaml:"cache_ttl_seconds"`
}

// ClickHouseConfig configures the evaluation-telemetry analytics sink.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
}

// KafkaConfig configures the async session-trace event bus.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ObjectStoreConfig configures the lazy-reference body store. Backend
// selects between the in-memory store (tests, local dev) and S3; the S3
// fields below are only consulted when Backend == "s3".
type ObjectStoreConfig struct {
	Backend string `yaml:"backend"` // "s3" | "memory"
	S3      S3Config `yaml:"s3"`
}

// S3Config configures the S3-compatible object store backend (AWS S3 or a
// MinIO-style service via Endpoint/UsePathStyle).
type S3Config struct {
	Bucket                string       `yaml:"bucket"`
	Region                string       `yaml:"region"`
	Prefix                string       `yaml:"prefix,omitempty"`
	Endpoint              string       `yaml:"endpoint,omitempty"`
	UsePathStyle          bool         `yaml:"use_path_style,omitempty"`
	AccessKey             string       `yaml:"-"` // from env, see LoadConfig
	SecretKey             string       `yaml:"-"`
	TLSInsecureSkipVerify bool         `yaml:"tls_insecure_skip_verify,omitempty"`
	SSE                   S3SSEConfig  `yaml:"sse"`
}

// S3SSEConfig configures server-side encryption for objects written to S3.
type S3SSEConfig struct {
	Mode     string `yaml:"mode,omitempty"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id,omitempty"`
}

// ProviderConfig configures one LLM provider backend.
type ProviderConfig struct {
	Backend string `yaml:"backend"` // "anthropic" | "openai" | "genai" | "bedrock"
	Model   string `yaml:"model"`
	Host    string `yaml:"host,omitempty"`
}

// RouteConfig is one row of the intent → routing profile table (spec §6.3).
type RouteConfig struct {
	Model            string  `yaml:"model"`
	MaxTokens        int     `yaml:"max_tokens"`
	RetrieverStrategy string `yaml:"retriever_strategy"` // "vector" | "hybrid" | "hybrid+web"
}

// RoutingTableConfig maps intent name to its RouteConfig.
type RoutingTableConfig struct {
	FAQ           RouteConfig `yaml:"faq"`
	Factual       RouteConfig `yaml:"factual"`
	Research      RouteConfig `yaml:"research"`
	Conversational RouteConfig `yaml:"conversational"`
}

// ContextConfig carries the Context Compactor's caps (spec §6.3).
type ContextConfig struct {
	HistoryTokenCap   int `yaml:"history_token_cap"`
	SummaryTokenCap   int `yaml:"summary_token_cap"`
	SalienceTokenCap  int `yaml:"salience_token_cap"`
	MaxRecentTurns    int `yaml:"max_recent_turns"`
	MaxSummaryItems   int `yaml:"max_summary_items"`
	MaxSalienceItems  int `yaml:"max_salience_items"`
}

// WebConfig carries the web collaborator's token/result caps and mode.
type WebConfig struct {
	ContextMaxTokens int    `yaml:"context_max_tokens"`
	ResultsMax       int    `yaml:"results_max"`
	SearchMode       string `yaml:"search_mode"` // "summary" | "full"
	SearXNGEndpoint  string `yaml:"searxng_endpoint,omitempty"`
}

// FeatureFlags carries the four named toggles from spec §6.3.
type FeatureFlags struct {
	EnableLazyRetrieval   bool `yaml:"enable_lazy_retrieval"`
	EnableIntentRouting   bool `yaml:"enable_intent_routing"`
	EnableSemanticSummary bool `yaml:"enable_semantic_summary"`
	EnableSemanticMemory  bool `yaml:"enable_semantic_memory"`
}

// RetrievalConfig carries the Dispatcher's tiered thresholds.
type RetrievalConfig struct {
	TopK                       int     `yaml:"top_k"`
	RerankerThreshold          float64 `yaml:"reranker_threshold"`
	FallbackRerankerThreshold  float64 `yaml:"fallback_reranker_threshold"`
	MinDocs                    int     `yaml:"min_docs"`
}

// CriticConfig carries the Critic's retry ceiling and acceptance threshold.
type CriticConfig struct {
	MaxRetries int     `yaml:"max_retries"`
	Threshold  float64 `yaml:"threshold"`
}

// EscalationConfig carries the Planner/Orchestrator confidence thresholds.
type EscalationConfig struct {
	ConfidenceEscalation float64  `yaml:"confidence_escalation"`
	ConfidenceDual       float64  `yaml:"confidence_dual"`
	FreshnessKeywords    []string `yaml:"freshness_keywords"`
}

// RetryConfig carries the shared retry/backoff policy applied to every
// external call (spec §5).
type RetryConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	BaseDelayMs     int `yaml:"base_delay_ms"`
	MaxDelayMs      int `yaml:"max_delay_ms"`
	PerCallTimeoutMs int `yaml:"per_call_timeout_ms"`
}

// TelemetryConfig controls OpenTelemetry settings (adapted from the teacher's
// internal/telemetry.Config / internal/observability.InitOTel).
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

// Config is the chat orchestrator's top-level configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Database    DatabaseConfig    `yaml:"database"`
	Qdrant      QdrantConfig      `yaml:"qdrant"`
	Redis       RedisConfig       `yaml:"redis"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`

	Synthesizer ProviderConfig `yaml:"synthesizer"`
	Critic      ProviderConfig `yaml:"critic_provider"`
	Planner     ProviderConfig `yaml:"planner_provider"`
	Router      ProviderConfig `yaml:"router_provider"`
	Embeddings  ProviderConfig `yaml:"embeddings_provider"`

	RoutingTable RoutingTableConfig `yaml:"routing_table"`
	Context      ContextConfig      `yaml:"context"`
	Web          WebConfig          `yaml:"web"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Critic_      CriticConfig       `yaml:"critic"`
	Escalation   EscalationConfig   `yaml:"escalation"`
	Retry        RetryConfig        `yaml:"retry"`
	Features     FeatureFlags       `yaml:"features"`
	OTel         TelemetryConfig    `yaml:"otel"`

	RequestTimeoutMs int `yaml:"request_timeout_ms"`

	// DBPool is resolved after load, not serialized.
	DBPool *pgxpool.Pool `yaml:"-"`

	// Secrets, loaded from the environment, never from YAML.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	AWSRegion       string `yaml:"-"`
}

// LoadConfig reads the YAML file at filename, layers in environment-sourced
// secrets via godotenv, and fills defaults for unset fields — mirroring the
// teacher's LoadConfig (internal/config/config.go): read, unmarshal,
// default-fill, pterm feedback at each step.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("Error reading config file: %v\n", err)
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		pterm.Error.Printf("Error unmarshaling config: %v\n", err)
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	_ = godotenv.Load() // best-effort; absence of .env is not an error
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GOOGLE_GEMINI_API_KEY")
	cfg.AWSRegion = os.Getenv("AWS_REGION")
	cfg.ObjectStore.S3.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.ObjectStore.S3.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")

	applyDefaults(&cfg)

	pterm.Success.Println("Configuration loaded successfully.")
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Context.MaxRecentTurns <= 0 {
		cfg.Context.MaxRecentTurns = 8
		pterm.Info.Println("No max_recent_turns specified, using default (8).")
	}
	if cfg.Context.HistoryTokenCap <= 0 {
		cfg.Context.HistoryTokenCap = 4000
	}
	if cfg.Context.SummaryTokenCap <= 0 {
		cfg.Context.SummaryTokenCap = 1500
	}
	if cfg.Context.SalienceTokenCap <= 0 {
		cfg.Context.SalienceTokenCap = 500
	}
	if cfg.Context.MaxSummaryItems <= 0 {
		cfg.Context.MaxSummaryItems = 6
	}
	if cfg.Context.MaxSalienceItems <= 0 {
		cfg.Context.MaxSalienceItems = 20
	}
	if cfg.Web.ContextMaxTokens <= 0 {
		cfg.Web.ContextMaxTokens = 2000
	}
	if cfg.Web.ResultsMax <= 0 {
		cfg.Web.ResultsMax = 5
	}
	if cfg.Web.SearchMode == "" {
		cfg.Web.SearchMode = "summary"
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 8
	}
	if cfg.Retrieval.RerankerThreshold <= 0 {
		cfg.Retrieval.RerankerThreshold = 0.5
	}
	if cfg.Retrieval.FallbackRerankerThreshold <= 0 {
		cfg.Retrieval.FallbackRerankerThreshold = 0.2
	}
	if cfg.Retrieval.MinDocs <= 0 {
		cfg.Retrieval.MinDocs = 1
	}
	if cfg.Critic_.MaxRetries <= 0 {
		cfg.Critic_.MaxRetries = 2
		pterm.Info.Println("No critic max_retries specified, using default (2).")
	}
	if cfg.Critic_.Threshold <= 0 {
		cfg.Critic_.Threshold = 0.7
	}
	if cfg.Escalation.ConfidenceEscalation <= 0 {
		cfg.Escalation.ConfidenceEscalation = 0.5
	}
	if cfg.Escalation.ConfidenceDual <= 0 {
		cfg.Escalation.ConfidenceDual = 0.6
	}
	if len(cfg.Escalation.FreshnessKeywords) == 0 {
		cfg.Escalation.FreshnessKeywords = []string{"today", "latest", "this week", "breaking", "just announced", "right now"}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelayMs <= 0 {
		cfg.Retry.BaseDelayMs = 200
	}
	if cfg.Retry.MaxDelayMs <= 0 {
		cfg.Retry.MaxDelayMs = 4000
	}
	if cfg.Retry.PerCallTimeoutMs <= 0 {
		cfg.Retry.PerCallTimeoutMs = 20000
	}
	if cfg.RequestTimeoutMs <= 0 {
		cfg.RequestTimeoutMs = 60000
		pterm.Info.Println("No request_timeout_ms specified, using default (60000).")
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "agenticrag"
	}
	if cfg.OTel.ServiceVersion == "" {
		cfg.OTel.ServiceVersion = "dev"
	}
	if cfg.OTel.Environment == "" {
		cfg.OTel.Environment = "development"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "session-traces"
	}
	if cfg.ObjectStore.Backend == "" {
		cfg.ObjectStore.Backend = "memory"
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
}
