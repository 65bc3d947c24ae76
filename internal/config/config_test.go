package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("CHATBOT_SERVICES__OPENAI__API_KEY", "sk-test")
	t.Setenv("CHATBOT_SERVICES__AZURE_OPENAI__ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("CHATBOT_SERVICES__AZURE_OPENAI__API_KEY", "azure-key")
	t.Setenv("CHATBOT_SERVICES__AZURE_SEARCH__ENDPOINT", "https://example.search.windows.net")
	t.Setenv("CHATBOT_SERVICES__AZURE_SEARCH__API_KEY", "search-key")
	t.Setenv("CHATBOT_SERVICES__MONGO__URI", "mongodb://localhost:27017")
	t.Setenv("ZILLIZ_URL", "https://example.zillizcloud.com")
	t.Setenv("ZILLIZ_AUTH_TOKEN", "zilliz-token")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Pipeline.TopK)
	assert.Equal(t, 0.0, cfg.Pipeline.Temperature)
	assert.Equal(t, 300, cfg.Pipeline.FAQTTL)
	assert.Equal(t, 100, cfg.Pipeline.DeleteBatchSize)
	assert.Equal(t, DefaultSystemPrompt, cfg.Pipeline.SystemPrompt)
	assert.Equal(t, "pk", cfg.Services.Zilliz.PrimaryKeyField)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	require.Contains(t, cfg.Tenants, "wichita")
	require.Contains(t, cfg.Tenants, "wsu")
	assert.Equal(t, ProviderAzure, cfg.Tenants["wichita"].Provider)
	assert.Equal(t, "Wichita Assistant", cfg.Tenants["wichita"].Template.ChatbotName)
	assert.Equal(t, ProviderZilliz, cfg.Tenants["wsu"].Provider)
	assert.Equal(t, "#FFC000", cfg.Tenants["wsu"].Template.UnifiedColor)
}

func TestLoadLegacyEnvNames(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ZILLIZ_COLLECTION_NAME", "campus")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.zillizcloud.com", cfg.Services.Zilliz.URL)
	assert.Equal(t, "campus", cfg.Services.Zilliz.Collection)
}

func TestPrefixedEnvOverridesLegacy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHATBOT_SERVICES__ZILLIZ__URL", "https://override.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://override.example", cfg.Services.Zilliz.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Tenants["wsu"] = TenantConfig{Provider: "pinecone", Retriever: RetrieverZilliz} },
			wantErr: "unknown provider",
		},
		{
			name:    "unknown retriever",
			mutate:  func(c *Config) { c.Tenants["wsu"] = TenantConfig{Provider: ProviderZilliz, Retriever: "faiss"} },
			wantErr: "unknown retriever",
		},
		{
			name:    "zilliz without token",
			mutate:  func(c *Config) { c.Services.Zilliz.Token = "" },
			wantErr: "zilliz url and token",
		},
		{
			name:    "azure without mongo",
			mutate:  func(c *Config) { c.Services.Mongo.URI = "" },
			wantErr: "mongo uri",
		},
		{
			name:    "oidc without issuer",
			mutate:  func(c *Config) { c.Security.AuthMode = "oidc" },
			wantErr: "oidc issuer",
		},
		{
			name: "mock auth in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.Security.AuthMode = "mock"
			},
			wantErr: "auth mode mock is not allowed in production",
		},
		{
			name: "no auth in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.Security.AuthMode = "none"
			},
			wantErr: "auth mode none is not allowed in production",
		},
		{
			name: "oidc in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.Security.AuthMode = "oidc"
				c.Security.OIDCIssuer = "https://login.example.edu"
				c.Security.OIDCClientID = "chatbot"
			},
		},
		{
			name:    "no tenants",
			mutate:  func(c *Config) { c.Tenants = nil },
			wantErr: "at least one tenant",
		},
		{
			name:    "tls without cert",
			mutate:  func(c *Config) { c.Server.TLS.Enabled = true },
			wantErr: "cert file is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetTLSConfig(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.GetTLSConfig())

	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.MinTLS = "1.2"
	tlsCfg := cfg.GetTLSConfig()
	require.NotNil(t, tlsCfg)
	assert.EqualValues(t, 0x0303, tlsCfg.MinVersion)
}
