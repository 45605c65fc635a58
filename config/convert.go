package config

import (
	"log/slog"
	"strings"

	"github.com/poiesic/taxcrawl/ai"
	"github.com/poiesic/taxcrawl/chunking"
	"github.com/poiesic/taxcrawl/ratelimit"
	"github.com/poiesic/taxcrawl/storage/qdrant"
)

// AIConfig returns the embedding settings as an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithAPIKey(c.Embedding.APIKey),
		ai.WithDimensions(c.Embedding.VectorSize),
	)
	cfg.Normalize()
	return cfg
}

func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxPerMinute: c.Limits.MaxRequestsPerMinute,
		MaxPerHour:   c.Limits.MaxRequestsPerHour,
		MaxPerDay:    c.Limits.MaxRequestsPerDay,
		MinDelay:     c.Limits.RequestDelay,
	}
}

func (c *Config) ChunkingConfig() chunking.Config {
	return chunking.Config{
		ChunkSize:   c.Chunking.ChunkSize,
		OverlapSize: c.Chunking.OverlapSize,
		MaxChunks:   c.Chunking.MaxChunks,
	}
}

// QdrantStoreConfig returns the qdrant store settings. An endpoint without a
// scheme gets https when use_tls is set and http otherwise.
func (c *Config) QdrantStoreConfig() qdrant.Config {
	endpoint := c.Qdrant.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		if c.Qdrant.UseTLS {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return qdrant.Config{
		Endpoint:   endpoint,
		APIKey:     c.Qdrant.APIKey,
		Collection: c.Qdrant.CollectionName,
		VectorSize: c.Embedding.VectorSize,
	}
}

// SlogLevel maps log_level to a slog level. Unknown values are INFO.
func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps a level name to a slog level. Unknown values are INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Masked returns a copy safe to print. Secrets longer than 8 characters keep
// their first 8, shorter ones are replaced entirely.
func (c *Config) Masked() *Config {
	out := *c
	out.AllowedDomains = append([]string(nil), c.AllowedDomains...)
	out.Embedding.APIKey = mask(c.Embedding.APIKey)
	out.Qdrant.APIKey = mask(c.Qdrant.APIKey)
	return &out
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) > 8:
		return secret[:8] + "..."
	default:
		return "***"
	}
}
