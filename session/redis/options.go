//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultSessionEventLimit = 1000
	defaultKeyPrefix         = "trpc_agent"
)

// ServiceOpts is the options for the redis session service.
type ServiceOpts struct {
	sessionEventLimit int
	url               string
	instanceName      string
	keyPrefix         string
	ttl               time.Duration
	redisClient       redis.UniversalClient
}

// ServiceOpt is the option for the redis session service.
type ServiceOpt func(*ServiceOpts)

// WithSessionEventLimit sets the limit of events kept per session.
func WithSessionEventLimit(limit int) ServiceOpt {
	return func(opts *ServiceOpts) {
		opts.sessionEventLimit = limit
	}
}

// WithRedisClientURL creates the client from a redis URL.
func WithRedisClientURL(url string) ServiceOpt {
	return func(opts *ServiceOpts) {
		opts.url = url
	}
}

// WithRedisInstance uses a URL registered in storage/redis.
func WithRedisInstance(name string) ServiceOpt {
	return func(opts *ServiceOpts) {
		opts.instanceName = name
	}
}

// WithRedisClient uses an existing client.
func WithRedisClient(client redis.UniversalClient) ServiceOpt {
	return func(opts *ServiceOpts) {
		opts.redisClient = client
	}
}

// WithKeyPrefix namespaces every key written by the service.
func WithKeyPrefix(prefix string) ServiceOpt {
	return func(opts *ServiceOpts) {
		opts.keyPrefix = prefix
	}
}

// WithSessionTTL expires session data after ttl without writes. Zero keeps
// data forever.
func WithSessionTTL(ttl time.Duration) ServiceOpt {
	return func(opts *ServiceOpts) {
		opts.ttl = ttl
	}
}
