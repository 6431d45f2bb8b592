//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package gemini implements model.Model on top of the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// DefaultModel is used when New gets an empty model name.
const DefaultModel = "gemini-2.5-flash"

var (
	_ model.Model                          = (*Model)(nil)
	_ model.LiveModel                      = (*Model)(nil)
	_ model.CacheProvider                  = (*Model)(nil)
	_ model.OutputSchemaWithToolsSupporter = (*Model)(nil)
)

// Model talks to Gemini through the Gen AI SDK.
type Model struct {
	name    string
	client  *genai.Client
	backend genai.Backend
	limiter *rate.Limiter
}

type options struct {
	clientConfig genai.ClientConfig
	client       *genai.Client
	limit        rate.Limit
	burst        int
}

// Option configures a Model.
type Option func(*options)

// WithAPIKey selects the Gemini Developer API with the given key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.clientConfig.APIKey = key
		o.clientConfig.Backend = genai.BackendGeminiAPI
	}
}

// WithVertexAI selects Vertex AI in the given project and location.
func WithVertexAI(project, location string) Option {
	return func(o *options) {
		o.clientConfig.Backend = genai.BackendVertexAI
		o.clientConfig.Project = project
		o.clientConfig.Location = location
	}
}

// WithHTTPOptions sets the SDK http options, e.g. api version or headers.
func WithHTTPOptions(h genai.HTTPOptions) Option {
	return func(o *options) { o.clientConfig.HTTPOptions = h }
}

// WithHTTPClient sets the http client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.clientConfig.HTTPClient = c }
}

// WithClient uses an already configured SDK client.
func WithClient(c *genai.Client) Option {
	return func(o *options) { o.client = c }
}

// WithRateLimit bounds the rate of requests sent to the provider.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.limit = limit
		o.burst = burst
	}
}

// New returns a Gemini model. Without explicit credentials the SDK reads
// GOOGLE_API_KEY or the Vertex AI environment variables.
func New(ctx context.Context, name string, opts ...Option) (*Model, error) {
	o := options{limit: rate.Inf}
	for _, opt := range opts {
		opt(&o)
	}
	if name == "" {
		name = DefaultModel
	}
	client := o.client
	if client == nil {
		cc := o.clientConfig
		c, err := genai.NewClient(ctx, &cc)
		if err != nil {
			return nil, fmt.Errorf("gemini: create client: %w", err)
		}
		client = c
	}
	if o.burst <= 0 {
		o.burst = 1
	}
	return &Model{
		name:    name,
		client:  client,
		backend: client.ClientConfig().Backend,
		limiter: rate.NewLimiter(o.limit, o.burst),
	}, nil
}

// Info implements model.Model.
func (m *Model) Info() model.Info { return model.Info{Name: m.name} }

// SupportsOutputSchemaWithTools reports whether a response schema may be
// combined with function tools, which Vertex AI allows from Gemini 2 on.
func (m *Model) SupportsOutputSchemaWithTools() bool {
	return m.backend == genai.BackendVertexAI && isGemini2OrLater(m.name)
}

func isGemini2OrLater(name string) bool {
	name = name[strings.LastIndex(name, "/")+1:]
	rest, ok := strings.CutPrefix(name, "gemini-")
	if !ok {
		return false
	}
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(rest)
	}
	major, err := strconv.Atoi(rest[:end])
	return err == nil && major >= 2
}

func (m *Model) modelName(req *model.Request) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return m.name
}

// GenerateContent implements model.Model. In streaming mode every provider
// chunk is yielded as it arrives and the caller aggregates them.
func (m *Model) GenerateContent(ctx context.Context, req *model.Request,
	stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if err := m.limiter.Wait(ctx); err != nil {
			yield(nil, err)
			return
		}
		name := m.modelName(req)
		log.Debugf("gemini: generate model=%s stream=%t contents=%d", name, stream, len(req.Contents))
		if !stream {
			rsp, err := m.client.Models.GenerateContent(ctx, name, req.Contents, req.Config)
			if err != nil {
				yield(nil, convertError(err))
				return
			}
			yield(model.NewResponseFromGenAI(rsp), nil)
			return
		}
		for rsp, err := range m.client.Models.GenerateContentStream(ctx, name, req.Contents, req.Config) {
			if err != nil {
				yield(nil, convertError(err))
				return
			}
			if !yield(model.NewResponseFromGenAI(rsp), nil) {
				return
			}
		}
	}
}

// convertError turns SDK api errors into model errors so that callers can
// tell rate limiting and server failures apart.
func convertError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return model.NewError(apiErr.Code, apiErr.Status, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return model.NewError(apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message, err)
	}
	return err
}
