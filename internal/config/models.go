package config

import (
	"fmt"
	"time"
)

// DatabaseConfig represents the ledger database settings
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RetentionConfig controls the periodic cleanup of old emails
type RetentionConfig struct {
	Enabled    bool
	MaxAgeDays int
	Interval   time.Duration
}

// ServerConfig represents the intake filter settings
type ServerConfig struct {
	FilterType        string
	ListenAddress     string
	FindingsHeader    string
	FingerprintHeader string
	ErrorHeader       string
	PostfixEnabled    bool
	PostfixAddress    string
	PostfixPort       int
	RateLimit         float64
	RateBurst         int
	MaxMessageBytes   int64
}

// Rule is a phrase the rules detector looks for in one segment of a message
type Rule struct {
	Segment string `mapstructure:"segment"`
	Phrase  string `mapstructure:"phrase"`
}

// DetectorConfig selects and configures the phrase detector
type DetectorConfig struct {
	Type        string
	MaxBodySize int
	Timeout     time.Duration
	Rules       []Rule
}

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// CacheConfig represents the report cache settings
type CacheConfig struct {
	Enabled          bool
	Type             string
	TTL              time.Duration
	CleanupFrequency time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	KeyPrefix        string
}

// EventsConfig represents the AMQP event publisher settings
type EventsConfig struct {
	Enabled  bool
	AMQPURL  string
	Exchange string
}

// ObservabilityConfig represents metrics and tracing settings
type ObservabilityConfig struct {
	MetricsEnabled  bool
	MetricsAddress  string
	TracingEnabled  bool
	TracingEndpoint string
	ServiceName     string
	Insecure        bool
}

// GetDatabase returns the database configuration
func (c *Config) GetDatabase() (DatabaseConfig, error) {
	lifetime, err := c.GetDuration("database.conn_max_lifetime")
	if err != nil {
		return DatabaseConfig{}, err
	}
	return DatabaseConfig{
		Driver:          c.GetString("database.driver"),
		DSN:             c.GetString("database.dsn"),
		MaxOpenConns:    c.GetInt("database.max_open_conns"),
		MaxIdleConns:    c.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: lifetime,
	}, nil
}

// GetRetention returns the retention configuration
func (c *Config) GetRetention() (RetentionConfig, error) {
	interval, err := c.GetDuration("retention.interval")
	if err != nil {
		return RetentionConfig{}, err
	}
	days := c.GetInt("retention.max_age_days")
	if days < 0 {
		return RetentionConfig{}, fmt.Errorf("retention.max_age_days must not be negative, got %d", days)
	}
	return RetentionConfig{
		Enabled:    c.GetBool("retention.enabled"),
		MaxAgeDays: days,
		Interval:   interval,
	}, nil
}

// GetServer returns the intake server configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		FilterType:        c.GetString("server.filter_type"),
		ListenAddress:     c.GetString("server.listen_address"),
		FindingsHeader:    c.GetString("server.headers.findings"),
		FingerprintHeader: c.GetString("server.headers.fingerprint"),
		ErrorHeader:       c.GetString("server.headers.error"),
		PostfixEnabled:    c.GetBool("server.postfix.enabled"),
		PostfixAddress:    c.GetString("server.postfix.address"),
		PostfixPort:       c.GetInt("server.postfix.port"),
		RateLimit:         c.GetFloat64("server.rate_limit"),
		RateBurst:         c.GetInt("server.rate_burst"),
		MaxMessageBytes:   int64(c.GetInt("server.max_message_bytes")),
	}
}

// GetDetector returns the detector configuration
func (c *Config) GetDetector() (DetectorConfig, error) {
	var rules []Rule
	if err := c.v.UnmarshalKey("detector.rules", &rules); err != nil {
		return DetectorConfig{}, fmt.Errorf("invalid detector.rules: %w", err)
	}
	timeout, err := c.GetDuration("detector.timeout")
	if err != nil {
		return DetectorConfig{}, err
	}
	return DetectorConfig{
		Type:        c.GetString("detector.type"),
		MaxBodySize: c.GetInt("detector.max_body_size"),
		Timeout:     timeout,
		Rules:       rules,
	}, nil
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetCache returns the report cache configuration
func (c *Config) GetCache() (CacheConfig, error) {
	ttl, err := c.GetDuration("cache.ttl")
	if err != nil {
		return CacheConfig{}, err
	}
	cleanup, err := c.GetDuration("cache.cleanup_frequency")
	if err != nil {
		return CacheConfig{}, err
	}
	return CacheConfig{
		Enabled:          c.GetBool("cache.enabled"),
		Type:             c.GetString("cache.type"),
		TTL:              ttl,
		CleanupFrequency: cleanup,
		RedisAddr:        c.GetString("cache.redis_addr"),
		RedisPassword:    c.GetString("cache.redis_password"),
		RedisDB:          c.GetInt("cache.redis_db"),
		KeyPrefix:        c.GetString("cache.key_prefix"),
	}, nil
}

// GetEvents returns the event publisher configuration
func (c *Config) GetEvents() EventsConfig {
	return EventsConfig{
		Enabled:  c.GetBool("events.enabled"),
		AMQPURL:  c.GetString("events.amqp_url"),
		Exchange: c.GetString("events.exchange"),
	}
}

// GetObservability returns the metrics and tracing configuration
func (c *Config) GetObservability() ObservabilityConfig {
	return ObservabilityConfig{
		MetricsEnabled:  c.GetBool("metrics.enabled"),
		MetricsAddress:  c.GetString("metrics.listen_address"),
		TracingEnabled:  c.GetBool("tracing.enabled"),
		TracingEndpoint: c.GetString("tracing.endpoint"),
		ServiceName:     c.GetString("tracing.service_name"),
		Insecure:        c.GetBool("tracing.insecure"),
	}
}
