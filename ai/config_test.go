package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "http://localhost:11434/v1", cfg.Host)
	assert.Equal(t, "embeddinggemma", cfg.Model)
	assert.Equal(t, "none", cfg.Token)
	assert.Zero(t, cfg.Dimensions)
}

func TestNewConfig_Options(t *testing.T) {
	cfg := NewConfig(
		WithHost("http://embeddings.internal:9000"),
		WithModel("text-embedding-3-small"),
		WithToken("sk-test"),
		WithDimensions(1536),
	)

	assert.Equal(t, "http://embeddings.internal:9000", cfg.Host)
	assert.Equal(t, "text-embedding-3-small", cfg.Model)
	assert.Equal(t, "sk-test", cfg.Token)
	assert.Equal(t, 1536, cfg.Dimensions)
}

func TestConfig_Normalize(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{"adds v1 suffix", "http://localhost:11434", "http://localhost:11434/v1"},
		{"strips trailing slash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"keeps existing v1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(WithHost(tt.host))
			cfg.Normalize()
			assert.Equal(t, tt.want, cfg.Host)
		})
	}
}

func TestConfig_Normalize_EmptyToken(t *testing.T) {
	cfg := NewConfig(WithToken(""))
	cfg.Normalize()
	assert.Equal(t, "none", cfg.Token)
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewConfig(WithDimensions(768))
	require.NoError(t, cfg.Validate())

	cfg = NewConfig(WithHost(""))
	assert.Error(t, cfg.Validate())

	cfg = NewConfig(WithModel(""))
	assert.Error(t, cfg.Validate())

	cfg = NewConfig(WithDimensions(-1))
	assert.Error(t, cfg.Validate())
}
