//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package llmagent provides an LLM agent implementation.
package llmagent

import (
	"context"
	"sync/atomic"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/codeexecutor"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow/llmflow"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow/processor"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/planner"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// IncludeContents selects how much session history the agent sends.
type IncludeContents string

const (
	// IncludeContentsDefault sends the relevant history of the session.
	IncludeContentsDefault IncludeContents = "default"
	// IncludeContentsNone sends only the current turn.
	IncludeContentsNone IncludeContents = "none"
)

// Option is a function that configures an LLMAgent.
type Option func(*Options)

// WithModel sets the model to use. Without one the agent uses the model of
// its closest LLM ancestor.
func WithModel(m model.Model) Option {
	return func(opts *Options) {
		opts.Model = m
	}
}

// WithDescription sets the description of the agent.
func WithDescription(description string) Option {
	return func(opts *Options) {
		opts.Description = description
	}
}

// WithInstruction sets the instruction of the agent. {key} placeholders are
// filled from session state, {artifact.name} from artifacts and {key?} is
// optional.
func WithInstruction(instruction string) Option {
	return func(opts *Options) {
		opts.Instruction = instruction
	}
}

// WithInstructionProvider builds the instruction at request time. The
// result is used verbatim.
func WithInstructionProvider(p agent.InstructionProvider) Option {
	return func(opts *Options) {
		opts.InstructionProvider = p
	}
}

// WithGlobalInstruction sets an instruction for every agent of the tree.
// Only the root agent's global instruction is used.
func WithGlobalInstruction(instruction string) Option {
	return func(opts *Options) {
		opts.GlobalInstruction = instruction
	}
}

// WithGlobalInstructionProvider is the provider form of WithGlobalInstruction.
func WithGlobalInstructionProvider(p agent.InstructionProvider) Option {
	return func(opts *Options) {
		opts.GlobalInstructionProvider = p
	}
}

// WithStaticInstruction sets a system instruction that never changes. The
// dynamic instruction then travels as user content, keeping the prefix
// cacheable.
func WithStaticInstruction(c *genai.Content) Option {
	return func(opts *Options) {
		opts.StaticInstruction = c
	}
}

// WithGenerateContentConfig sets the generation config.
func WithGenerateContentConfig(cfg *genai.GenerateContentConfig) Option {
	return func(opts *Options) {
		opts.GenerateContentConfig = cfg
	}
}

// WithTools sets the list of tools available to the agent.
func WithTools(tools []tool.Tool) Option {
	return func(opts *Options) {
		opts.Tools = tools
	}
}

// WithToolSets sets the tool sets, expanded on every request.
func WithToolSets(toolSets []tool.ToolSet) Option {
	return func(opts *Options) {
		opts.ToolSets = toolSets
	}
}

// WithPlanner sets the planner.
func WithPlanner(p planner.Planner) Option {
	return func(opts *Options) {
		opts.Planner = p
	}
}

// WithCodeExecutor sets the code executor to use for executing code blocks.
func WithCodeExecutor(ce codeexecutor.CodeExecutor) Option {
	return func(opts *Options) {
		opts.CodeExecutor = ce
	}
}

// WithOutputSchema constrains the final response to s.
func WithOutputSchema(s *genai.Schema) Option {
	return func(opts *Options) {
		opts.OutputSchema = s
	}
}

// WithOutputKey stores the final text response in session state under key.
func WithOutputKey(key string) Option {
	return func(opts *Options) {
		opts.OutputKey = key
	}
}

// WithInputSchema sets the arguments the agent takes when used as a tool.
func WithInputSchema(s *genai.Schema) Option {
	return func(opts *Options) {
		opts.InputSchema = s
	}
}

// WithIncludeContents selects how much history the agent sees.
func WithIncludeContents(mode IncludeContents) Option {
	return func(opts *Options) {
		opts.IncludeContents = mode
	}
}

// WithDisallowTransferToParent keeps the model from handing control back
// to the parent agent.
func WithDisallowTransferToParent(disallow bool) Option {
	return func(opts *Options) {
		opts.DisallowTransferToParent = disallow
	}
}

// WithDisallowTransferToPeers keeps the model from handing control to
// sibling agents.
func WithDisallowTransferToPeers(disallow bool) Option {
	return func(opts *Options) {
		opts.DisallowTransferToPeers = disallow
	}
}

// WithSubAgents sets the list of sub-agents available to the agent.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(opts *Options) {
		opts.SubAgents = subAgents
	}
}

// WithAgentCallbacks sets the agent callbacks.
func WithAgentCallbacks(callbacks *agent.Callbacks) Option {
	return func(opts *Options) {
		opts.AgentCallbacks = callbacks
	}
}

// WithModelCallbacks sets the model callbacks.
func WithModelCallbacks(callbacks *model.Callbacks) Option {
	return func(opts *Options) {
		opts.ModelCallbacks = callbacks
	}
}

// WithToolCallbacks sets the tool callbacks.
func WithToolCallbacks(callbacks *tool.Callbacks) Option {
	return func(opts *Options) {
		opts.ToolCallbacks = callbacks
	}
}

// WithAddCurrentTime adds the current time to the system prompt if true.
func WithAddCurrentTime(addCurrentTime bool) Option {
	return func(opts *Options) {
		opts.AddCurrentTime = addCurrentTime
	}
}

// WithTimezone specifies the timezone to use for time display.
func WithTimezone(timezone string) Option {
	return func(opts *Options) {
		opts.Timezone = timezone
	}
}

// WithTimeFormat specifies the format for time display.
// The format should be a valid Go time format string.
// See https://pkg.go.dev/time#Time.Format for more details.
func WithTimeFormat(timeFormat string) Option {
	return func(opts *Options) {
		opts.TimeFormat = timeFormat
	}
}

// Options contains configuration options for creating an LLMAgent.
type Options struct {
	// Model is the model to use for generating responses.
	Model model.Model
	// Description is a description of the agent.
	Description string
	// Instruction is the instruction template of the agent.
	Instruction string
	// InstructionProvider replaces Instruction when set.
	InstructionProvider agent.InstructionProvider
	// GlobalInstruction applies to every agent of the tree when set on the root.
	GlobalInstruction         string
	GlobalInstructionProvider agent.InstructionProvider
	// StaticInstruction is sent unchanged as the system instruction.
	StaticInstruction *genai.Content
	// GenerateContentConfig is copied into every request.
	GenerateContentConfig *genai.GenerateContentConfig
	// Tools is the list of tools available to the agent.
	Tools []tool.Tool
	// ToolSets is the list of tool sets available to the agent.
	ToolSets []tool.ToolSet
	// Planner is the planner to use for planning instructions.
	Planner      planner.Planner
	CodeExecutor codeexecutor.CodeExecutor
	// OutputSchema constrains the final response. It is validated before
	// the response is stored under OutputKey.
	OutputSchema *genai.Schema
	// OutputKey is the key in session state to store the output of the agent.
	OutputKey string
	// InputSchema is the argument schema when the agent is used as a tool.
	InputSchema     *genai.Schema
	IncludeContents IncludeContents

	DisallowTransferToParent bool
	DisallowTransferToPeers  bool

	// SubAgents is the list of sub-agents available to the agent.
	SubAgents []agent.Agent
	// AgentCallbacks contains callbacks for agent operations.
	AgentCallbacks *agent.Callbacks
	// ModelCallbacks contains callbacks for model operations.
	ModelCallbacks *model.Callbacks
	// ToolCallbacks contains callbacks for tool operations.
	ToolCallbacks *tool.Callbacks

	// AddCurrentTime adds the current time to the system prompt if true.
	AddCurrentTime bool
	// Timezone specifies the timezone to use for time display.
	Timezone string
	// TimeFormat specifies the format for time display.
	TimeFormat string
}

var (
	_ agent.Agent                = (*LLMAgent)(nil)
	_ agent.TransferRules        = (*LLMAgent)(nil)
	_ processor.GlobalInstructor = (*LLMAgent)(nil)
)

// LLMAgent is an agent that uses an LLM to generate responses.
type LLMAgent struct {
	*agent.Base
	opts Options
	flow *llmflow.Flow

	searchAgent atomic.Pointer[LLMAgent]
}

// New creates a new LLMAgent with the given options.
func New(name string, opts ...Option) *LLMAgent {
	options := Options{IncludeContents: IncludeContentsDefault}
	for _, opt := range opts {
		opt(&options)
	}
	if options.OutputSchema != nil && len(options.SubAgents) > 0 {
		log.Warnf("agent %s: output schema set, transfer to sub-agents is still offered", name)
	}

	a := &LLMAgent{opts: options}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: options.Description},
		options.SubAgents, options.AgentCallbacks)
	a.flow = llmflow.New(a.requestProcessors(), a.responseProcessors(), llmflow.Options{
		Tools:   a.flowTools,
		OnEvent: a.observe,
	})
	return a
}

// requestProcessors lists the request processors in their fixed order.
// Transfer is only offered by agents that can hand over control.
func (a *LLMAgent) requestProcessors() []flow.RequestProcessor {
	o := a.opts
	instructionOpts := []processor.InstructionOption{processor.WithStaticInstruction(o.StaticInstruction)}
	if o.InstructionProvider != nil {
		instructionOpts = append(instructionOpts, processor.WithInstructionProvider(o.InstructionProvider))
	}
	reqs := []flow.RequestProcessor{
		processor.NewBasicRequestProcessor(
			processor.WithGenerateContentConfig(o.GenerateContentConfig),
			processor.WithOutputSchema(o.OutputSchema),
			processor.WithBasicTools(a.flowTools),
		),
		processor.NewAuthRequestProcessor(a.flowTools),
		processor.NewConfirmationRequestProcessor(a.flowTools),
		processor.NewInstructionRequestProcessor(o.Instruction, instructionOpts...),
		processor.NewIdentityRequestProcessor(a.Info().Name, o.Description),
	}
	if o.AddCurrentTime {
		reqs = append(reqs, processor.NewTimeRequestProcessor(
			processor.WithTimezone(o.Timezone),
			processor.WithTimeFormat(o.TimeFormat),
		))
	}
	reqs = append(reqs,
		processor.NewContentRequestProcessor(
			processor.WithIncludeContents(processor.IncludeContents(o.IncludeContents))),
		processor.NewContextCacheRequestProcessor(),
		processor.NewInteractionsRequestProcessor(),
	)
	if o.Planner != nil {
		reqs = append(reqs, processor.NewPlanningRequestProcessor(o.Planner))
	}
	if o.CodeExecutor != nil {
		reqs = append(reqs, processor.NewCodeExecutionRequestProcessor(o.CodeExecutor))
	}
	if o.OutputSchema != nil {
		reqs = append(reqs, processor.NewOutputSchemaRequestProcessor(o.OutputSchema, a.flowTools))
	}
	if !a.singleFlow() {
		reqs = append(reqs, processor.NewTransferRequestProcessor())
	}
	return reqs
}

func (a *LLMAgent) responseProcessors() []flow.ResponseProcessor {
	var rsps []flow.ResponseProcessor
	if a.opts.Planner != nil {
		rsps = append(rsps, processor.NewPlanningResponseProcessor(a.opts.Planner))
	}
	if a.opts.CodeExecutor != nil {
		rsps = append(rsps, processor.NewCodeExecutionResponseProcessor(a.opts.CodeExecutor))
	}
	return rsps
}

// singleFlow reports whether the agent runs without agent transfer.
func (a *LLMAgent) singleFlow() bool {
	return a.opts.DisallowTransferToParent && a.opts.DisallowTransferToPeers && len(a.SubAgents()) == 0
}

// Run implements the agent.Agent interface.
func (a *LLMAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
		return a.run(ctx, inv, out, false)
	})
}

// RunLive implements the agent.Agent interface.
func (a *LLMAgent) RunLive(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
		return a.run(ctx, inv, out, true)
	})
}

type pauseKey struct{}

func (a *LLMAgent) run(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, live bool) error {
	inv.Model = a.CanonicalModel()
	inv.ModelCallbacks = a.opts.ModelCallbacks
	inv.ToolCallbacks = a.opts.ToolCallbacks

	if !live && len(inv.AgentState(a.Info().Name)) > 0 {
		if target := a.subAgentToResume(inv); target != nil {
			log.Debugf("agent %s: resuming transfer to %s", a.Info().Name, target.Info().Name)
			events, err := target.Run(ctx, inv)
			if err != nil {
				return err
			}
			pause := false
			for e := range events {
				if err := agent.Send(ctx, out, e); err != nil {
					for range events {
					}
					return err
				}
				pause = pause || inv.ShouldPauseInvocation(e)
			}
			if pause {
				return nil
			}
			return a.EmitState(ctx, inv, out, nil, true)
		}
	}

	paused := &atomic.Bool{}
	ctx = context.WithValue(ctx, pauseKey{}, paused)
	var err error
	if live {
		err = a.flow.RunLive(ctx, inv, out)
	} else {
		err = a.flow.Run(ctx, inv, out)
	}
	if err != nil || paused.Load() || !inv.IsResumable() {
		return err
	}
	return a.EmitState(ctx, inv, out, nil, true)
}

// observe sees every event before it is emitted: it stores the output and
// remembers whether the run has to pause. A pause never cuts the batch short.
func (a *LLMAgent) observe(ctx context.Context, inv *agent.Invocation, e *event.Event) error {
	if err := a.maybeSaveOutputToState(e); err != nil {
		return err
	}
	if paused, ok := ctx.Value(pauseKey{}).(*atomic.Bool); ok && inv.ShouldPauseInvocation(e) {
		paused.Store(true)
	}
	return nil
}

// CanonicalModel returns the agent's model, or the model of its closest
// LLM ancestor.
func (a *LLMAgent) CanonicalModel() model.Model {
	if a.opts.Model != nil {
		return a.opts.Model
	}
	for p := a.Parent(); p != nil; p = p.Parent() {
		if llm, ok := p.(*LLMAgent); ok && llm.opts.Model != nil {
			return llm.opts.Model
		}
	}
	return nil
}

// GlobalInstruction returns the instruction the agent imposes on its tree.
func (a *LLMAgent) GlobalInstruction() (string, agent.InstructionProvider) {
	return a.opts.GlobalInstruction, a.opts.GlobalInstructionProvider
}

// InputSchema returns the argument schema of the agent used as a tool.
func (a *LLMAgent) InputSchema() *genai.Schema { return a.opts.InputSchema }

// OutputSchema returns the schema of the final response.
func (a *LLMAgent) OutputSchema() *genai.Schema { return a.opts.OutputSchema }

// DisallowTransferToParent implements agent.TransferRules.
func (a *LLMAgent) DisallowTransferToParent() bool { return a.opts.DisallowTransferToParent }

// DisallowTransferToPeers implements agent.TransferRules.
func (a *LLMAgent) DisallowTransferToPeers() bool { return a.opts.DisallowTransferToPeers }

// CodeExecutor returns the code executor used by this agent.
func (a *LLMAgent) CodeExecutor() codeexecutor.CodeExecutor { return a.opts.CodeExecutor }
