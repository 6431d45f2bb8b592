//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis builds go-redis clients for the Redis backed services and
// keeps a registry of named instances.
package redis

import (
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Builder creates a client from a redis URL.
type Builder func(url string) (redis.UniversalClient, error)

var (
	mu        sync.RWMutex
	builder   Builder = DefaultBuilder
	instances         = map[string]string{}
)

// SetBuilder replaces the client builder, e.g. to point tests at miniredis.
func SetBuilder(b Builder) {
	mu.Lock()
	defer mu.Unlock()
	builder = b
}

// DefaultBuilder parses url (redis://<user>:<pass>@<host>:<port>/<db>?<options>)
// and creates a universal client without connecting.
func DefaultBuilder(url string) (redis.UniversalClient, error) {
	if url == "" {
		return nil, fmt.Errorf("redis: url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url %s: %w", url, err)
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           []string{opts.Addr},
		DB:              opts.DB,
		Username:        opts.Username,
		Password:        opts.Password,
		Protocol:        opts.Protocol,
		ClientName:      opts.ClientName,
		TLSConfig:       opts.TLSConfig,
		MaxRetries:      opts.MaxRetries,
		DialTimeout:     opts.DialTimeout,
		ReadTimeout:     opts.ReadTimeout,
		WriteTimeout:    opts.WriteTimeout,
		PoolSize:        opts.PoolSize,
		MinIdleConns:    opts.MinIdleConns,
		ConnMaxIdleTime: opts.ConnMaxIdleTime,
	}), nil
}

// RegisterInstance names a redis URL so services can refer to it by name.
func RegisterInstance(name, url string) {
	mu.Lock()
	defer mu.Unlock()
	instances[name] = url
}

// InstanceURL returns the URL registered under name.
func InstanceURL(name string) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	url, ok := instances[name]
	return url, ok
}

// NewClient builds a client for url with the current builder.
func NewClient(url string) (redis.UniversalClient, error) {
	mu.RLock()
	b := builder
	mu.RUnlock()
	return b(url)
}

// NewClientForInstance builds a client for a registered instance.
func NewClientForInstance(name string) (redis.UniversalClient, error) {
	url, ok := InstanceURL(name)
	if !ok {
		return nil, fmt.Errorf("redis: instance %q not registered", name)
	}
	return NewClient(url)
}
