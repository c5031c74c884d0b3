package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	LLM       LLMConfig       `json:"llm"`
	Memory    MemoryConfig    `json:"memory"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	TimeoutMS int    `json:"timeout_ms"`
}

func (c EmbeddingConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }

type LLMConfig struct {
	Provider string `json:"provider"` // "anthropic" or "mock"
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

// MemoryConfig groups the tunables of the memory core. Every bounded
// resource named here has an explicit cap.
type MemoryConfig struct {
	WorkingMemory WorkingMemoryConfig `json:"working_memory"`
	Consolidation ConsolidationConfig `json:"consolidation"`
	Decay         DecayConfig         `json:"decay"`
	Inference     InferenceConfig     `json:"inference"`
	Retrieval     RetrievalConfig     `json:"retrieval"`
}

type WorkingMemoryConfig struct {
	MaxItems          int `json:"max_items"`
	DefaultTTLMS      int `json:"default_ttl_ms"`
	CleanupIntervalMS int `json:"cleanup_interval_ms"`
}

func (c WorkingMemoryConfig) DefaultTTL() time.Duration      { return ms(c.DefaultTTLMS) }
func (c WorkingMemoryConfig) CleanupInterval() time.Duration { return ms(c.CleanupIntervalMS) }

type ConsolidationConfig struct {
	IntervalMS     int     `json:"interval_ms"`
	MinAgeMS       int     `json:"min_age_ms"`
	ScoreThreshold float64 `json:"score_threshold"`
}

func (c ConsolidationConfig) Interval() time.Duration { return ms(c.IntervalMS) }
func (c ConsolidationConfig) MinAge() time.Duration   { return ms(c.MinAgeMS) }

type DecayConfig struct {
	IntervalMS      int     `json:"interval_ms"`
	BatchSize       int     `json:"batch_size"`
	ForgetThreshold float64 `json:"forget_threshold"`
	DefaultRate     float64 `json:"default_rate"` // per-day exponential decay rate
	DryRun          bool    `json:"dry_run"`
	FlushIntervalMS int     `json:"flush_interval_ms"` // access tracker flush timer
	FlushThreshold  int     `json:"flush_threshold"`   // access tracker buffer cap
}

func (c DecayConfig) Interval() time.Duration      { return ms(c.IntervalMS) }
func (c DecayConfig) FlushInterval() time.Duration { return ms(c.FlushIntervalMS) }

type InferenceConfig struct {
	DebounceMS           int               `json:"debounce_ms"`
	PassTimeoutMS        int               `json:"pass_timeout_ms"`
	MaxDepth             int               `json:"max_depth"`
	MaxVisited           int               `json:"max_visited"`
	HopDecay             float64           `json:"hop_decay"`
	InversePredicates    map[string]string `json:"inverse_predicates"`
	TransitivePredicates []string          `json:"transitive_predicates"`
}

func (c InferenceConfig) Debounce() time.Duration    { return ms(c.DebounceMS) }
func (c InferenceConfig) PassTimeout() time.Duration { return ms(c.PassTimeoutMS) }

type RetrievalConfig struct {
	Limit          int `json:"limit"`
	MaxSuggestions int `json:"max_suggestions"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a Config with every tunable at its default value,
// suitable for tests and for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	emb := &c.Embedding
	if emb.Dimension <= 0 {
		emb.Dimension = 1536
	}
	if emb.TimeoutMS <= 0 {
		emb.TimeoutMS = int((30 * time.Second).Milliseconds())
	}

	wm := &c.Memory.WorkingMemory
	if wm.MaxItems <= 0 {
		wm.MaxItems = 200
	}
	if wm.DefaultTTLMS <= 0 {
		wm.DefaultTTLMS = int((30 * time.Minute).Milliseconds())
	}
	if wm.CleanupIntervalMS <= 0 {
		wm.CleanupIntervalMS = int((30 * time.Second).Milliseconds())
	}

	cons := &c.Memory.Consolidation
	if cons.IntervalMS <= 0 {
		cons.IntervalMS = int((60 * time.Second).Milliseconds())
	}
	if cons.MinAgeMS < 0 {
		cons.MinAgeMS = 0
	}
	if cons.ScoreThreshold <= 0 {
		cons.ScoreThreshold = 0.3
	}

	dec := &c.Memory.Decay
	if dec.IntervalMS <= 0 {
		dec.IntervalMS = int((5 * time.Minute).Milliseconds())
	}
	if dec.BatchSize <= 0 {
		dec.BatchSize = 100
	}
	if dec.ForgetThreshold <= 0 {
		dec.ForgetThreshold = 0.05
	}
	if dec.DefaultRate <= 0 {
		dec.DefaultRate = 0.05
	}
	if dec.FlushIntervalMS <= 0 {
		dec.FlushIntervalMS = int((10 * time.Second).Milliseconds())
	}
	if dec.FlushThreshold <= 0 {
		dec.FlushThreshold = 256
	}

	inf := &c.Memory.Inference
	if inf.DebounceMS <= 0 {
		inf.DebounceMS = 500
	}
	if inf.PassTimeoutMS <= 0 {
		inf.PassTimeoutMS = int((30 * time.Second).Milliseconds())
	}
	if inf.MaxDepth <= 0 {
		inf.MaxDepth = 3
	}
	if inf.MaxVisited <= 0 {
		inf.MaxVisited = 1000
	}
	if inf.HopDecay <= 0 {
		inf.HopDecay = 0.9
	}
	if len(inf.InversePredicates) == 0 {
		inf.InversePredicates = map[string]string{
			"reports_to": "manages",
			"contains":   "belongs_to",
			"owns":       "owned_by",
		}
	}
	if len(inf.TransitivePredicates) == 0 {
		inf.TransitivePredicates = []string{"contains", "depends_on", "part_of", "reports_to"}
	}

	ret := &c.Memory.Retrieval
	if ret.Limit <= 0 {
		ret.Limit = 10
	}
	if ret.MaxSuggestions <= 0 {
		ret.MaxSuggestions = 2
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
