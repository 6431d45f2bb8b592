//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai implements model.Model on top of the OpenAI chat
// completions API, for OpenAI and compatible providers.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/internal/schema"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

const responseFormatName = "response"

var _ model.Model = (*Model)(nil)

// Model talks to a chat completions endpoint.
type Model struct {
	name        string
	client      openai.Client
	limiter     *rate.Limiter
	extraFields map[string]any
}

type options struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	clientOpts  []openaiopt.RequestOption
	extraFields map[string]any
	limit       rate.Limit
	burst       int
}

// Option configures a Model.
type Option func(*options)

// WithAPIKey sets the bearer key. Without it the client reads OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL points the client at a compatible provider.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient sets the http client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithOpenAIOptions appends raw SDK request options, e.g. middleware.
func WithOpenAIOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithExtraFields adds provider specific fields to every request body.
func WithExtraFields(fields map[string]any) Option {
	return func(o *options) {
		if o.extraFields == nil {
			o.extraFields = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			o.extraFields[k] = v
		}
	}
}

// WithRateLimit bounds the rate of requests sent to the provider.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.limit = limit
		o.burst = burst
	}
}

// New returns a chat completions model named name.
func New(name string, opts ...Option) *Model {
	o := options{limit: rate.Inf}
	for _, opt := range opts {
		opt(&o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, openaiopt.WithHTTPClient(o.httpClient))
	}
	clientOpts = append(clientOpts, o.clientOpts...)
	if o.burst <= 0 {
		o.burst = 1
	}
	return &Model{
		name:        name,
		client:      openai.NewClient(clientOpts...),
		limiter:     rate.NewLimiter(o.limit, o.burst),
		extraFields: o.extraFields,
	}
}

// Info implements model.Model.
func (m *Model) Info() model.Info { return model.Info{Name: m.name} }

// GenerateContent implements model.Model. In streaming mode text deltas are
// yielded as they arrive; tool calls, usage and the finish reason come in
// one last chunk once the accumulator has assembled them.
func (m *Model) GenerateContent(ctx context.Context, req *model.Request,
	stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if err := m.limiter.Wait(ctx); err != nil {
			yield(nil, err)
			return
		}
		params, opts, err := m.buildParams(req, stream)
		if err != nil {
			yield(nil, err)
			return
		}
		for k, v := range m.extraFields {
			opts = append(opts, openaiopt.WithJSONSet(k, v))
		}
		log.Debugf("openai: generate model=%s stream=%t messages=%d", params.Model, stream, len(params.Messages))
		if !stream {
			completion, err := m.client.Chat.Completions.New(ctx, params, opts...)
			if err != nil {
				yield(nil, convertError(err))
				return
			}
			yield(convertCompletion(completion), nil)
			return
		}
		m.streamCompletion(ctx, params, opts, yield)
	}
}

func (m *Model) streamCompletion(ctx context.Context, params openai.ChatCompletionNewParams,
	opts []openaiopt.RequestOption, yield func(*model.Response, error) bool) {
	s := m.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	defer s.Close()
	acc := openai.ChatCompletionAccumulator{}
	for s.Next() {
		chunk := s.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		rsp := &model.Response{
			Content:       genai.NewContentFromText(chunk.Choices[0].Delta.Content, genai.RoleModel),
			InteractionID: chunk.ID,
		}
		if !yield(rsp, nil) {
			return
		}
	}
	if err := s.Err(); err != nil {
		yield(nil, convertError(err))
		return
	}
	final := &model.Response{
		InteractionID: acc.ID,
		TurnComplete:  true,
		UsageMetadata: convertUsage(acc.Usage),
	}
	if len(acc.Choices) > 0 {
		choice := acc.Choices[0]
		final.FinishReason = convertFinishReason(choice.FinishReason)
		if parts := toolCallParts(choice.Message.ToolCalls); len(parts) > 0 {
			final.Content = &genai.Content{Role: genai.RoleModel, Parts: parts}
		}
	}
	yield(final, nil)
}

// buildParams maps req onto request params. Settings the params have no
// field for are returned as body options.
func (m *Model) buildParams(req *model.Request, stream bool) (openai.ChatCompletionNewParams,
	[]openaiopt.RequestOption, error) {
	var opts []openaiopt.RequestOption
	name := m.name
	if req.Model != "" {
		name = req.Model
	}
	params := openai.ChatCompletionNewParams{Model: shared.ChatModel(name)}
	cfg := req.Config
	if cfg == nil {
		cfg = &genai.GenerateContentConfig{}
	}
	if si := textOf(cfg.SystemInstruction); si != "" {
		params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(si)},
			},
		})
	}
	for _, c := range req.Contents {
		msgs, err := convertContent(c)
		if err != nil {
			return params, nil, err
		}
		params.Messages = append(params.Messages, msgs...)
	}
	params.Tools = convertTools(cfg.Tools)
	if cfg.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(cfg.MaxOutputTokens))
	}
	if cfg.Temperature != nil {
		params.Temperature = openai.Float(float64(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		params.TopP = openai.Float(float64(*cfg.TopP))
	}
	if cfg.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(float64(*cfg.PresencePenalty))
	}
	if cfg.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(float64(*cfg.FrequencyPenalty))
	}
	switch len(cfg.StopSequences) {
	case 0:
	case 1:
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfString: openai.String(cfg.StopSequences[0])}
	default:
		opts = append(opts, openaiopt.WithJSONSet("stop", cfg.StopSequences))
	}
	if rf := responseSchema(cfg); rf != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   responseFormatName,
					Schema: rf,
					Strict: openai.Bool(false),
				},
			},
		}
	}
	if stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}
	return params, opts, nil
}

func responseSchema(cfg *genai.GenerateContentConfig) any {
	if cfg.ResponseJsonSchema != nil {
		return cfg.ResponseJsonSchema
	}
	if cfg.ResponseSchema != nil {
		return schema.ToJSONSchema(cfg.ResponseSchema)
	}
	return nil
}

// convertContent maps one genai turn to chat messages. Function responses
// become tool messages that precede any text of the same turn.
func convertContent(c *genai.Content) ([]openai.ChatCompletionMessageParamUnion, error) {
	if c == nil {
		return nil, nil
	}
	var (
		out   []openai.ChatCompletionMessageParamUnion
		text  []string
		parts []openai.ChatCompletionContentPartUnionParam
		calls []openai.ChatCompletionMessageToolCallParam
	)
	for _, p := range c.Parts {
		switch {
		case p == nil || p.Thought:
		case p.FunctionResponse != nil:
			body, err := json.Marshal(p.FunctionResponse.Response)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal response of %s: %w", p.FunctionResponse.Name, err)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content:    openai.ChatCompletionToolMessageParamContentUnion{OfString: openai.String(string(body))},
					ToolCallID: p.FunctionResponse.ID,
				},
			})
		case p.FunctionCall != nil:
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal args of %s: %w", p.FunctionCall.Name, err)
			}
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID: p.FunctionCall.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      p.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case p.Text != "":
			text = append(text, p.Text)
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfText: &openai.ChatCompletionContentPartTextParam{Text: p.Text},
			})
		case p.InlineData != nil:
			if part := inlinePart(p.InlineData); part != nil {
				parts = append(parts, *part)
			}
		case p.FileData != nil && strings.HasPrefix(p.FileData.MIMEType, "image/"):
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: p.FileData.FileURI},
				},
			})
		}
	}
	if c.Role == genai.RoleModel {
		if len(text) == 0 && len(calls) == 0 {
			return out, nil
		}
		msg := &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
		if len(text) > 0 {
			msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(strings.Join(text, "")),
			}
		}
		return append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: msg}), nil
	}
	if len(parts) == 0 {
		return out, nil
	}
	content := openai.ChatCompletionUserMessageParamContentUnion{OfArrayOfContentParts: parts}
	if len(parts) == len(text) {
		content = openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(strings.Join(text, ""))}
	}
	return append(out, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{Content: content},
	}), nil
}

func inlinePart(b *genai.Blob) *openai.ChatCompletionContentPartUnionParam {
	data := base64.StdEncoding.EncodeToString(b.Data)
	switch mime := b.MIMEType; {
	case strings.HasPrefix(mime, "image/"):
		return &openai.ChatCompletionContentPartUnionParam{
			OfImageURL: &openai.ChatCompletionContentPartImageParam{
				ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
					URL: "data:" + mime + ";base64," + data,
				},
			},
		}
	case mime == "audio/wav" || mime == "audio/mp3" || mime == "audio/mpeg":
		format := "wav"
		if mime != "audio/wav" {
			format = "mp3"
		}
		return &openai.ChatCompletionContentPartUnionParam{
			OfInputAudio: &openai.ChatCompletionContentPartInputAudioParam{
				InputAudio: openai.ChatCompletionContentPartInputAudioInputAudioParam{
					Data:   data,
					Format: format,
				},
			},
		}
	case mime != "":
		return &openai.ChatCompletionContentPartUnionParam{
			OfFile: &openai.ChatCompletionContentPartFileParam{
				File: openai.ChatCompletionContentPartFileFileParam{
					FileData: openai.String("data:" + mime + ";base64," + data),
					Filename: openai.String(b.DisplayName),
				},
			},
		}
	}
	return nil
}

func convertTools(tools []*genai.Tool) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, t := range tools {
		if t == nil {
			continue
		}
		for _, fd := range t.FunctionDeclarations {
			params, err := functionParameters(fd)
			if err != nil {
				log.Errorf("openai: skip tool %s: %v", fd.Name, err)
				continue
			}
			out = append(out, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        fd.Name,
					Description: openai.String(fd.Description),
					Parameters:  params,
				},
			})
		}
	}
	return out
}

func functionParameters(fd *genai.FunctionDeclaration) (shared.FunctionParameters, error) {
	var raw any = map[string]any{"type": "object", "properties": map[string]any{}}
	switch {
	case fd.ParametersJsonSchema != nil:
		raw = fd.ParametersJsonSchema
	case fd.Parameters != nil:
		raw = schema.ToJSONSchema(fd.Parameters)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var params shared.FunctionParameters
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func convertCompletion(c *openai.ChatCompletion) *model.Response {
	rsp := &model.Response{
		InteractionID: c.ID,
		TurnComplete:  true,
		UsageMetadata: convertUsage(c.Usage),
	}
	if len(c.Choices) == 0 {
		return rsp
	}
	choice := c.Choices[0]
	rsp.FinishReason = convertFinishReason(choice.FinishReason)
	var parts []*genai.Part
	if choice.Message.Content != "" {
		parts = append(parts, genai.NewPartFromText(choice.Message.Content))
	}
	parts = append(parts, toolCallParts(choice.Message.ToolCalls)...)
	if len(parts) > 0 {
		rsp.Content = &genai.Content{Role: genai.RoleModel, Parts: parts}
	}
	return rsp
}

// toolCallParts converts assembled tool calls. Empty slots the accumulator
// leaves for providers that start indexing at 1 are skipped, and missing
// ids are synthesized from the position.
func toolCallParts(calls []openai.ChatCompletionMessageToolCall) []*genai.Part {
	var parts []*genai.Part
	for i, tc := range calls {
		if tc.ID == "" && tc.Function.Name == "" {
			continue
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("auto_call_%d", i)
		}
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				log.Warnf("openai: tool call %s has invalid arguments: %v", tc.Function.Name, err)
				args = map[string]any{}
			}
		}
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: id, Name: tc.Function.Name, Args: args}})
	}
	return parts
}

func convertUsage(u openai.CompletionUsage) *genai.GenerateContentResponseUsageMetadata {
	if u.TotalTokens == 0 {
		return nil
	}
	return &genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     int32(u.PromptTokens),
		CandidatesTokenCount: int32(u.CompletionTokens),
		TotalTokenCount:      int32(u.TotalTokens),
	}
}

func convertFinishReason(r string) genai.FinishReason {
	switch r {
	case "":
		return ""
	case "stop", "tool_calls", "function_call":
		return genai.FinishReasonStop
	case "length":
		return genai.FinishReasonMaxTokens
	case "content_filter":
		return genai.FinishReasonSafety
	}
	return genai.FinishReasonOther
}

func textOf(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p != nil && p.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func convertError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.NewError(apiErr.StatusCode, apiErr.Code, apiErr.Message, err)
	}
	return err
}
