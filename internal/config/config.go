// Package config loads the aggregator's environment and file
// configuration through koanf, layering a YAML file under environment
// variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the process-wide configuration, covering every environment
// variable named in spec §6.
type Config struct {
	DatabaseURL   string        `koanf:"database_url"`
	AMQPURI       string        `koanf:"amqp_uri"`
	BlocklistFile string        `koanf:"blocklist_file"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`

	AnalysisTimerInterval       time.Duration `koanf:"analysis_timer_interval"`
	AnalysisTimerPrefixBudget   int           `koanf:"analysis_timer_prefix_budget"`
	AnalysisTimerMaxPrefixPerAS int           `koanf:"analysis_timer_max_prefix_per_as"`

	HandlerQueueDepth int `koanf:"handler_queue_depth"`
	BrokerPrefetch    int `koanf:"broker_prefetch"`
}

func defaults() Config {
	return Config{
		AnalysisTimerInterval:       120 * time.Second,
		AnalysisTimerPrefixBudget:   100,
		AnalysisTimerMaxPrefixPerAS: 5,
		HandlerQueueDepth:           4096,
		BrokerPrefetch:              16,
	}
}

// Load reads defaults, then an optional YAML file at path (skipped if
// path is empty; a path naming a missing file is an error), then environment variables prefixed AGGREGATOR_
// (e.g. AGGREGATOR_DATABASE_URL), each layer overriding the last.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	cfg := defaults()

	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("AGGREGATOR_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "AGGREGATOR_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: loading env: %w", err)
	}

	var out Config
	if err := k.Unmarshal("", &out); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}

// Validate enforces the Configuration-class fatal-at-startup errors from
// §7: a missing DSN or broker URI is not recoverable.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: AGGREGATOR_DATABASE_URL is required")
	}
	if c.AMQPURI == "" {
		return fmt.Errorf("config: AGGREGATOR_AMQP_URI is required")
	}
	return nil
}
