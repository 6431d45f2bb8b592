//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/plugin"
)

// Config is the deployment level configuration of a runner.
type Config struct {
	// Resumable lets invocations pause on long-running tools.
	Resumable bool `envconfig:"RESUMABLE"`
	// EventBufferSize is the buffer of the channels Run returns.
	EventBufferSize int `envconfig:"EVENT_BUFFER_SIZE" default:"256"`
	// CacheIntervals enables context caching when positive.
	CacheIntervals int `envconfig:"CACHE_INTERVALS"`
	// CacheTTL is the lifetime of provider caches.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30m"`
	// CacheMinTokens skips caching for short prompts.
	CacheMinTokens int32 `envconfig:"CACHE_MIN_TOKENS"`
	// PluginCloseTimeout bounds each plugin Close call.
	PluginCloseTimeout time.Duration `envconfig:"PLUGIN_CLOSE_TIMEOUT" default:"5s"`
}

// DefaultConfig returns a default runner configuration.
func DefaultConfig() Config {
	return Config{
		EventBufferSize:    defaultBufferSize,
		CacheTTL:           model.DefaultCacheTTL,
		PluginCloseTimeout: plugin.DefaultCloseTimeout,
	}
}

// ConfigFromEnv loads a Config from variables named <PREFIX>_<FIELD>,
// e.g. RUNNER_RESUMABLE.
func ConfigFromEnv(prefix string) (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load runner config: %w", err)
	}
	if cfg.EventBufferSize < 0 {
		return Config{}, fmt.Errorf("load runner config: negative event buffer size %d", cfg.EventBufferSize)
	}
	return cfg, nil
}

// Options converts the config into runner options.
func (c Config) Options() []Option {
	opts := []Option{
		WithResumability(c.Resumable),
		WithEventBufferSize(c.EventBufferSize),
		WithPluginOptions(plugin.WithCloseTimeout(c.PluginCloseTimeout)),
	}
	if c.CacheIntervals > 0 {
		opts = append(opts, WithContextCacheConfig(&model.CacheConfig{
			CacheIntervals: c.CacheIntervals,
			TTL:            c.CacheTTL,
			MinTokens:      c.CacheMinTokens,
		}))
	}
	return opts
}
