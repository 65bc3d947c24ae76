// Package config provides application configuration management using koanf
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"

	"rag-chatbot/internal/models"
)

// EnvPrefix is stripped from environment variables; "__" separates levels.
const EnvPrefix = "CHATBOT_"

// Provider and retriever kinds accepted in tenant configuration.
const (
	ProviderAzure  = "azure"
	ProviderZilliz = "zilliz"

	RetrieverAzureSearch = "azure_search"
	RetrieverZilliz      = "zilliz"
	RetrieverSQLite      = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig            `koanf:"server"`
	Services  ServicesConfig          `koanf:"services"`
	Pipeline  PipelineConfig          `koanf:"pipeline"`
	Storage   StorageConfig           `koanf:"storage"`
	Security  SecurityConfig          `koanf:"security"`
	App       AppConfig               `koanf:"app"`
	RateLimit RateLimitConfig         `koanf:"rate_limit"`
	Telemetry TelemetryConfig         `koanf:"telemetry"`
	Tenants   map[string]TenantConfig `koanf:"tenants"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string    `koanf:"host"`
	Port           int       `koanf:"port"`
	ReadTimeout    int       `koanf:"read_timeout"`  // seconds
	WriteTimeout   int       `koanf:"write_timeout"` // seconds, 0 keeps SSE streams open
	TLS            TLSConfig `koanf:"tls"`
	CORSOrigins    []string  `koanf:"cors_origins"`
	FrameAncestors string    `koanf:"frame_ancestors"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	MinTLS   string `koanf:"min_version"` // "1.2" or "1.3"
}

// ServicesConfig holds external service configuration
type ServicesConfig struct {
	OpenAI      OpenAIConfig      `koanf:"openai"`
	AzureOpenAI AzureOpenAIConfig `koanf:"azure_openai"`
	AzureSearch AzureSearchConfig `koanf:"azure_search"`
	AzureSpeech AzureSpeechConfig `koanf:"azure_speech"`
	Zilliz      ZillizConfig      `koanf:"zilliz"`
	Mongo       MongoConfig       `koanf:"mongo"`
}

type OpenAIConfig struct {
	APIKey             string `koanf:"api_key"`
	BaseURL            string `koanf:"base_url"`
	ChatModel          string `koanf:"chat_model"`
	EmbeddingModel     string `koanf:"embedding_model"`
	TranscriptionModel string `koanf:"transcription_model"`
}

type AzureOpenAIConfig struct {
	Endpoint   string `koanf:"endpoint"`
	APIKey     string `koanf:"api_key"`
	APIVersion string `koanf:"api_version"`
	Deployment string `koanf:"deployment"`
}

type AzureSearchConfig struct {
	Endpoint      string `koanf:"endpoint"`
	APIKey        string `koanf:"api_key"`
	IndexName     string `koanf:"index_name"`
	APIVersion    string `koanf:"api_version"`
	KeyField      string `koanf:"key_field"`
	ContentField  string `koanf:"content_field"`
	VectorField   string `koanf:"vector_field"`
	MetadataField string `koanf:"metadata_field"`
	Timeout       int    `koanf:"timeout"` // seconds
}

type AzureSpeechConfig struct {
	Endpoint string `koanf:"endpoint"`
	APIKey   string `koanf:"api_key"`
	Language string `koanf:"language"`
	Timeout  int    `koanf:"timeout"` // seconds
}

type ZillizConfig struct {
	URL                   string `koanf:"url"`
	Token                 string `koanf:"token"`
	Collection            string `koanf:"collection"`
	UserQueriesCollection string `koanf:"user_queries_collection"`
	FAQCollection         string `koanf:"faq_collection"`
	VectorField           string `koanf:"vector_field"`
	TextField             string `koanf:"text_field"`
	PrimaryKeyField       string `koanf:"primary_key_field"`
	Timeout               int    `koanf:"timeout"` // seconds
}

type MongoConfig struct {
	URI           string `koanf:"uri"`
	Database      string `koanf:"database"`
	FAQCollection string `koanf:"faq_collection"`
}

// PipelineConfig holds retrieval and generation settings shared by tenants
type PipelineConfig struct {
	TopK             int     `koanf:"top_k"`
	Temperature      float64 `koanf:"temperature"`
	RequestTimeout   int     `koanf:"request_timeout"` // seconds
	SystemPrompt     string  `koanf:"system_prompt"`
	FAQTTL           int     `koanf:"faq_ttl"` // seconds
	DeleteBatchSize  int     `koanf:"delete_batch_size"`
	AnalyticsTimeout int     `koanf:"analytics_timeout"` // seconds
}

type StorageConfig struct {
	SQLitePath         string `koanf:"sqlite_path"`
	EmbeddingCachePath string `koanf:"embedding_cache_path"`

	// SeedFile is a YAML list of passages loaded into an empty sqlite index.
	SeedFile string `koanf:"seed_file"`
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	AuthMode     string `koanf:"auth_mode"` // "none", "mock" or "oidc"
	OIDCIssuer   string `koanf:"oidc_issuer"`
	OIDCClientID string `koanf:"oidc_client_id"`
	ErrorMode    string `koanf:"error_mode"` // "detailed" or "secure"
}

// AppConfig holds general application settings
type AppConfig struct {
	Environment string `koanf:"environment"` // "development", "staging", "production"
	LogLevel    string `koanf:"log_level"`   // "debug", "info", "warn", "error"
	LogFormat   string `koanf:"log_format"`  // "text" or "json"
}

type RateLimitConfig struct {
	Enabled           bool    `koanf:"enabled"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

type TelemetryConfig struct {
	Endpoint    string `koanf:"endpoint"` // OTLP/HTTP traces endpoint, tracing is off when empty
	ServiceName string `koanf:"service_name"`
}

// TenantConfig binds one organization to a provider variant and its branding.
type TenantConfig struct {
	Provider  string          `koanf:"provider"`
	Retriever string          `koanf:"retriever"`
	Template  models.Template `koanf:"template"`
}

// Load loads configuration from multiple sources with precedence:
// 1. config.yaml (if exists)
// 2. config.json (if exists)
// 3. Environment variables (highest precedence)
func Load() (*Config, error) {
	k := koanf.New(".")

	// Set defaults
	setDefaults(k)

	// Load from config files (optional)
	loadConfigFiles(k)

	// Unprefixed names used by existing .env files
	loadLegacyEnv(k)

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, EnvPrefix)
			return strings.ReplaceAll(strings.ToLower(key), "__", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	// Unmarshal into config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultSystemPrompt holds the content-safety and link/image/video rules.
const DefaultSystemPrompt = "1. Only use information explicitly contained in the context.\n" +
	"2. Do not fabricate or guess any links that are not in the context.\n" +
	"3. Keep all [embed] tags exactly as provided in the input, and do not alter or replace the [embed] text with any other labels.\n" +
	"4. When including links in your responses, output the full URL in plain text but do not alter links with [embed] tag.\n" +
	"5. When including images, always put them on a new line.\n" +
	"6. When including videos, do not output any empty parentheses; instead, display the iframe on its own line without extra punctuation."

// Defaults returns the default key/value map. Exposed for tests.
func Defaults() map[string]any {
	return map[string]any{
		// Server defaults
		"server.host":            "0.0.0.0",
		"server.port":            8000,
		"server.read_timeout":    30,
		"server.write_timeout":   0,
		"server.tls.enabled":     false,
		"server.tls.min_version": "1.3",
		"server.cors_origins":    []string{"*"},
		"server.frame_ancestors": "http://localhost:3000",

		"server.trust_proxy_headers": false,

		// Services defaults
		"services.openai.chat_model":          "gpt-4o-mini",
		"services.openai.embedding_model":     "text-embedding-3-large",
		"services.openai.transcription_model": "whisper-1",

		"services.azure_openai.api_version": "2024-07-01-preview",
		"services.azure_openai.deployment":  "gpt-4o-mini",

		"services.azure_search.index_name":     "chatbot-index",
		"services.azure_search.api_version":    "2023-11-01",
		"services.azure_search.key_field":      "id",
		"services.azure_search.content_field":  "content",
		"services.azure_search.vector_field":   "content_vector",
		"services.azure_search.metadata_field": "metadata",
		"services.azure_search.timeout":        30,

		"services.azure_speech.language": "en-US",
		"services.azure_speech.timeout":  60,

		"services.zilliz.collection":              "innovation_campus",
		"services.zilliz.user_queries_collection": "user_queries",
		"services.zilliz.faq_collection":          "faq_collection",
		"services.zilliz.vector_field":            "vector",
		"services.zilliz.text_field":              "vector_content",
		"services.zilliz.primary_key_field":       "pk",
		"services.zilliz.timeout":                 30,

		"services.mongo.database":       "chatbot-cosmos-mongo-db",
		"services.mongo.faq_collection": "faq",

		// Pipeline defaults
		"pipeline.top_k":             4,
		"pipeline.temperature":       0.0,
		"pipeline.request_timeout":   50,
		"pipeline.system_prompt":     DefaultSystemPrompt,
		"pipeline.faq_ttl":           300,
		"pipeline.delete_batch_size": 100,
		"pipeline.analytics_timeout": 15,

		// Storage defaults
		"storage.sqlite_path":          "chatbot.db",
		"storage.embedding_cache_path": "embedding_cache",

		// Security defaults
		"security.auth_mode":  "mock",
		"security.error_mode": "detailed",

		// App defaults
		"app.environment": "development",
		"app.log_level":   "info",
		"app.log_format":  "text",

		"rate_limit.enabled":             true,
		"rate_limit.requests_per_second": 2.0,
		"rate_limit.burst":               10,

		"telemetry.service_name": "rag-chatbot",

		// Tenants
		"tenants.wichita.provider":                           ProviderAzure,
		"tenants.wichita.retriever":                          RetrieverAzureSearch,
		"tenants.wichita.template.title":                     "Wichita Chatbot Dashboard",
		"tenants.wichita.template.hero_img":                  "/static/img/chatbot_hero_back_wichita.png",
		"tenants.wichita.template.hero_overlay_img":          "/static/img/chatbot_hero_front_wichita.png",
		"tenants.wichita.template.chatbot_button_img":        "/static/img/chatbot_button_wichita.png",
		"tenants.wichita.template.chatbot_background_img":    "/static/img/chatbot_button_wichita.png",
		"tenants.wichita.template.hero_alt":                  "City of Wichita",
		"tenants.wichita.template.chatbot_name":              "Wichita Assistant",
		"tenants.wichita.template.unified_color":             "#2e4669",
		"tenants.wichita.template.unified_color_light":       "#577cb3",
		"tenants.wichita.template.unified_color_dark":        "#1e304a",
		"tenants.wichita.template.unified_color_secondary":   "#FFFFFF",
		"tenants.wichita.template.text_color":                "#FFFFFF",
		"tenants.wsu.provider":                               ProviderZilliz,
		"tenants.wsu.retriever":                              RetrieverZilliz,
		"tenants.wsu.template.title":                         "WSU Chatbot Dashboard",
		"tenants.wsu.template.hero_img":                      "/static/img/chatbot_hero_back_WSU.png",
		"tenants.wsu.template.hero_overlay_img":              "https://cdn.freelogovectors.net/wp-content/uploads/2023/10/wichita-state-university-logo-freelogovectors.net_.png",
		"tenants.wsu.template.chatbot_button_img":            "https://upload.wikimedia.org/wikipedia/en/thumb/9/90/Wichita_State_Shockers_logo.svg/300px-Wichita_State_Shockers_logo.svg.png",
		"tenants.wsu.template.chatbot_background_img":        "https://cdn.freebiesupply.com/logos/large/2x/wichita-state-shockers-1-logo-black-and-white.png",
		"tenants.wsu.template.hero_alt":                      "Wichita State University Logo",
		"tenants.wsu.template.chatbot_name":                  "Shocker Assistant",
		"tenants.wsu.template.unified_color":                 "#FFC000",
		"tenants.wsu.template.unified_color_light":           "#ffd963",
		"tenants.wsu.template.unified_color_dark":            "#bf9104",
		"tenants.wsu.template.unified_color_secondary":       "#000000",
		"tenants.wsu.template.text_color":                    "#000000",
	}
}

// setDefaults sets default configuration values
func setDefaults(k *koanf.Koanf) {
	for key, value := range Defaults() {
		_ = k.Set(key, value) // Ignore error for setting defaults
	}
}

// loadConfigFiles loads configuration from files
func loadConfigFiles(k *koanf.Koanf) {
	// Try to load YAML config
	if _, err := os.Stat("config.yaml"); err == nil {
		if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
			log.Warnf("failed to load config.yaml: %v", err)
		}
	}

	// Try to load JSON config
	if _, err := os.Stat("config.json"); err == nil {
		if err := k.Load(file.Provider("config.json"), json.Parser()); err != nil {
			log.Warnf("failed to load config.json: %v", err)
		}
	}
}

var legacyEnv = map[string]string{
	"OPENAI_API_KEY":                      "services.openai.api_key",
	"OPENAI_API_CHAT_MODEL_NAME":          "services.openai.chat_model",
	"OPENAI_API_EMBEDDING_MODEL_NAME":     "services.openai.embedding_model",
	"ZILLIZ_AUTH_TOKEN":                   "services.zilliz.token",
	"ZILLIZ_URL":                          "services.zilliz.url",
	"ZILLIZ_COLLECTION_NAME":              "services.zilliz.collection",
	"ZILLIZ_USER_QUERIES_COLLECTION_NAME": "services.zilliz.user_queries_collection",
	"ZILLIZ_VECTOR_FIELD_NAME":            "services.zilliz.vector_field",
	"ZILLIZ_VECTOR_TEXT_FIELD_NAME":       "services.zilliz.text_field",
	"ZILLIZ_PRIMARY_KEY_FIELD_NAME":       "services.zilliz.primary_key_field",
	"AZURE_OPENAI_ENDPOINT":               "services.azure_openai.endpoint",
	"AZURE_OPENAI_API_KEY":                "services.azure_openai.api_key",
	"AZURE_API_VERSION":                   "services.azure_openai.api_version",
	"AZURE_DEPLOYMENT_NAME":               "services.azure_openai.deployment",
	"AZURE_AI_SEARCH_ENDPOINT":            "services.azure_search.endpoint",
	"AZURE_AI_SEARCH_API_KEY":             "services.azure_search.api_key",
	"AZURE_INDEX_NAME":                    "services.azure_search.index_name",
	"AZURE_SPEECH_ENDPOINT":               "services.azure_speech.endpoint",
	"AZURE_SPEECH_API_KEY":                "services.azure_speech.api_key",
	"AZURE_MONGO_CONNECTION_STRING":       "services.mongo.uri",
	"AZURE_MONGO_DATABASE_NAME":           "services.mongo.database",
	"PORT":                                "server.port",
}

func loadLegacyEnv(k *koanf.Koanf) {
	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			_ = k.Set(key, v)
		}
	}
}

// validate validates the configuration
func validate(cfg *Config) error {
	// Validate TLS configuration
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}

		// Check if files exist
		if _, err := os.Stat(cfg.Server.TLS.CertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS cert file does not exist: %s", cfg.Server.TLS.CertFile)
		}
		if _, err := os.Stat(cfg.Server.TLS.KeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", cfg.Server.TLS.KeyFile)
		}
	}

	switch cfg.Security.AuthMode {
	case "none", "mock":
		if cfg.IsProduction() {
			return fmt.Errorf("auth mode %s is not allowed in production", cfg.Security.AuthMode)
		}
	case "oidc":
		if cfg.Security.OIDCIssuer == "" || cfg.Security.OIDCClientID == "" {
			return fmt.Errorf("oidc issuer and client id are required when auth mode is oidc")
		}
	default:
		return fmt.Errorf("unknown auth mode: %s", cfg.Security.AuthMode)
	}

	if cfg.Pipeline.TopK <= 0 {
		return fmt.Errorf("pipeline top_k must be positive")
	}
	if cfg.Pipeline.DeleteBatchSize <= 0 {
		return fmt.Errorf("pipeline delete_batch_size must be positive")
	}

	if len(cfg.Tenants) == 0 {
		return fmt.Errorf("at least one tenant is required")
	}

	for name, t := range cfg.Tenants {
		if err := validateTenant(cfg, name, t); err != nil {
			return err
		}
	}

	return nil
}

func validateTenant(cfg *Config, name string, t TenantConfig) error {
	s := cfg.Services

	switch t.Provider {
	case ProviderAzure:
		if s.AzureOpenAI.Endpoint == "" || s.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("tenant %s: azure_openai endpoint and api_key are required", name)
		}
		if s.Mongo.URI == "" {
			return fmt.Errorf("tenant %s: mongo uri is required", name)
		}
	case ProviderZilliz:
		if s.Zilliz.URL == "" || s.Zilliz.Token == "" {
			return fmt.Errorf("tenant %s: zilliz url and token are required", name)
		}
	default:
		return fmt.Errorf("tenant %s: unknown provider %q", name, t.Provider)
	}

	// Every retriever and the Zilliz analytics path embed queries with OpenAI
	if s.OpenAI.APIKey == "" {
		return fmt.Errorf("tenant %s: openai api_key is required", name)
	}

	switch t.Retriever {
	case RetrieverAzureSearch:
		if s.AzureSearch.Endpoint == "" || s.AzureSearch.APIKey == "" {
			return fmt.Errorf("tenant %s: azure_search endpoint and api_key are required", name)
		}
	case RetrieverZilliz:
		if s.Zilliz.URL == "" || s.Zilliz.Token == "" {
			return fmt.Errorf("tenant %s: zilliz url and token are required", name)
		}
	case RetrieverSQLite:
	default:
		return fmt.Errorf("tenant %s: unknown retriever %q", name, t.Retriever)
	}

	return nil
}

// GetTLSConfig returns a TLS configuration based on the config
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.Server.TLS.Enabled {
		return nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12, // Set default minimum version
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}

	// Set minimum TLS version
	switch c.Server.TLS.MinTLS {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	default:
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

func (p PipelineConfig) CacheTTL() time.Duration {
	return time.Duration(p.FAQTTL) * time.Second
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (z ZillizConfig) RequestTimeout() time.Duration { return seconds(z.Timeout) }

func (a AzureSearchConfig) RequestTimeout() time.Duration { return seconds(a.Timeout) }

func (a AzureSpeechConfig) RequestTimeout() time.Duration { return seconds(a.Timeout) }

func (p PipelineConfig) AnalyticsWriteTimeout() time.Duration { return seconds(p.AnalyticsTimeout) }
