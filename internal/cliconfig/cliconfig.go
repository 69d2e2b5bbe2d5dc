// Package cliconfig loads a config.CrawlConfig from a YAML file (plus
// environment overrides), the way the CLI's --config flag and
// DEEPHARVEST_CONFIG env var are documented to behave. Flags always
// win over file values; file values always win over config.DefaultConfig.
package cliconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/logging"
)

// knownKeys is the recognized configuration schema. Anything else in
// the file is logged as an unrecognized key, never an error.
var knownKeys = map[string]bool{
	"seed_urls":              true,
	"max_depth":              true,
	"max_urls":               true,
	"concurrent_requests":    true,
	"per_host_concurrency":   true,
	"enable_js":              true,
	"wait_for_js_ms":         true,
	"handle_infinite_scroll": true,
	"strategy":               true,
	"distributed":            true,
	"redis_url":              true,
	"site_rules":             true,
	"checkpoint_interval":    true,
	"user_agent":             true,
	"allowed_domains":        true,
}

// Load builds a config.CrawlConfig from config.DefaultConfig(),
// overlaid with configPath's contents if set (falling back to the
// DEEPHARVEST_CONFIG environment variable when configPath is empty).
// A missing configPath is not an error: the defaults alone are valid.
func Load(configPath string, log logging.Logger) (*config.CrawlConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("deepharvest")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := config.DefaultConfig()

	if configPath == "" {
		configPath = v.GetString("config")
	}
	if configPath == "" {
		return cfg, nil
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("cliconfig: read %s: %w", configPath, err)
	}

	warnUnknownKeys(v, log)
	apply(v, cfg)

	return cfg, nil
}

func warnUnknownKeys(v *viper.Viper, log logging.Logger) {
	if log == nil {
		return
	}
	for _, k := range v.AllKeys() {
		if !knownKeys[k] {
			log.Warn("unrecognized configuration key", logging.String("key", k))
		}
	}
}

func apply(v *viper.Viper, cfg *config.CrawlConfig) {
	if v.IsSet("seed_urls") {
		cfg.Seeds = v.GetStringSlice("seed_urls")
	}
	if v.IsSet("max_depth") {
		cfg.MaxDepth = v.GetInt("max_depth")
	}
	if v.IsSet("max_urls") {
		cfg.MaxURLs = v.GetInt("max_urls")
	}
	if v.IsSet("concurrent_requests") {
		cfg.ConcurrencyGlobal = v.GetInt("concurrent_requests")
	}
	if v.IsSet("per_host_concurrency") {
		cfg.ConcurrencyHost = v.GetInt("per_host_concurrency")
	}
	if v.IsSet("enable_js") && v.GetBool("enable_js") {
		cfg.RenderMode = config.RenderAdaptive
	}
	if v.IsSet("wait_for_js_ms") {
		cfg.WaitForJSMs = v.GetInt("wait_for_js_ms")
	}
	if v.IsSet("handle_infinite_scroll") {
		cfg.HandleInfiniteScroll = v.GetBool("handle_infinite_scroll")
	}
	if v.IsSet("strategy") {
		cfg.Strategy = config.Strategy(v.GetString("strategy"))
	}
	if v.IsSet("distributed") {
		cfg.Distributed = v.GetBool("distributed")
	}
	if v.IsSet("redis_url") {
		cfg.RedisURL = v.GetString("redis_url")
	}
	if v.IsSet("checkpoint_interval") {
		cfg.CheckpointInterval = v.GetInt("checkpoint_interval")
	}
	if v.IsSet("user_agent") {
		cfg.UserAgent = v.GetString("user_agent")
	}
	if v.IsSet("allowed_domains") {
		_ = v.UnmarshalKey("allowed_domains", &cfg.AllowedDomains)
	}
	if v.IsSet("site_rules") {
		_ = v.UnmarshalKey("site_rules", &cfg.SiteRules)
	}
}
