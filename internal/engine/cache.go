package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/beslagsboden/dialog-engine/internal/cache"
	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

// ResponseCache stores completed turn results. Entries only ever leave by
// TTL expiry; the catalog is read-only at runtime so nothing invalidates.
type ResponseCache struct {
	client cache.Client
	logger *observability.Logger
	config ResponseCacheConfig
}

// ResponseCacheConfig configures the response cache.
type ResponseCacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
	Enabled   bool
}

// DefaultResponseCacheConfig returns the production defaults.
func DefaultResponseCacheConfig() ResponseCacheConfig {
	return ResponseCacheConfig{
		TTL:       time.Hour,
		KeyPrefix: "turn:",
		Enabled:   true,
	}
}

// NewResponseCache creates a response cache over the given backend.
func NewResponseCache(client cache.Client, logger *observability.Logger, config ResponseCacheConfig) *ResponseCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "turn:"
	}
	if config.TTL == 0 {
		config.TTL = time.Hour
	}

	return &ResponseCache{
		client: client,
		logger: logger,
		config: config,
	}
}

// QueryKey derives the key for a free-text turn from every piece of
// session state that analysis reads: the utterance, the active focus, the
// last mentioned property and the previous intent. Two sessions share an
// entry only when analysis would produce the same result for both.
func (c *ResponseCache) QueryKey(utterance, activeProduct, lastProperty string, previousIntent session.Intent) string {
	return c.hashKey("q", utterance, activeProduct, lastProperty, string(previousIntent))
}

// CommandKey derives the key for a command turn.
func (c *ResponseCache) CommandKey(command, productID string, params []string) string {
	return c.hashKey("c", command, productID, strings.Join(params, " "))
}

func (c *ResponseCache) hashKey(parts ...string) string {
	hash := sha256.Sum256([]byte(cache.Key(parts...)))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:16])
}

// cachedTurn is the stored envelope.
type cachedTurn struct {
	Result    *TurnResult `json:"result"`
	CachedAt  time.Time   `json:"cached_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Get retrieves a cached turn result if present and fresh.
func (c *ResponseCache) Get(ctx context.Context, key string) (*TurnResult, bool) {
	if !c.config.Enabled || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, key)
	if err != nil {
		if err != cache.ErrCacheMiss {
			c.logger.Debug().Err(err).Str("key", key).Msg("Cache get error")
		}
		return nil, false
	}

	var cached cachedTurn
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached turn")
		return nil, false
	}

	if time.Now().After(cached.ExpiresAt) {
		return nil, false
	}

	c.logger.Debug().Str("key", key).Msg("Cache hit")
	return cached.Result, true
}

// Set stores a turn result.
func (c *ResponseCache) Set(ctx context.Context, key string, result *TurnResult) error {
	if !c.config.Enabled || c.client == nil {
		return nil
	}

	cached := cachedTurn{
		Result:    result,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(c.config.TTL),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal cached turn: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.config.TTL); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache turn")
		return err
	}

	return nil
}
