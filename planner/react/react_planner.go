//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package react implements the Plan-Re-Act planner. It instructs the model to
// plan before acting and to tag each section of its answer, then turns the
// tagged sections back into thought and answer parts.
package react

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/planner"
)

// Tags used to structure the LLM response.
const (
	PlanningTag    = "/*PLANNING*/"
	ReplanningTag  = "/*REPLANNING*/"
	ReasoningTag   = "/*REASONING*/"
	ActionTag      = "/*ACTION*/"
	FinalAnswerTag = "/*FINAL_ANSWER*/"
)

// Verify that Planner implements the planner.Planner interface.
var _ planner.Planner = (*Planner)(nil)

// Planner guides the LLM through plan, act with reasoning, then answer.
type Planner struct{}

// New creates a new React planner instance.
func New() *Planner {
	return &Planner{}
}

// BuildPlanningInstruction builds the system instruction for the React planner.
func (p *Planner) BuildPlanningInstruction(
	ctx context.Context,
	invocation *agent.Invocation,
	llmRequest *model.Request,
) string {
	return p.buildPlannerInstruction()
}

// ProcessPlanningResponse reorganizes the response parts.
//
// Text before the last final answer tag becomes a thought part, text opening
// with a planning, reasoning or action tag is marked as thought, and only the
// first run of named function calls is preserved. Returns nil when the
// response has no parts.
func (p *Planner) ProcessPlanningResponse(
	ctx context.Context,
	invocation *agent.Invocation,
	response *model.Response,
) *model.Response {
	if response == nil || response.Content == nil || len(response.Content.Parts) == 0 {
		return nil
	}
	parts := response.Content.Parts
	var preserved []*genai.Part
	firstCall := -1
	for i, part := range parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			// Calls without a name are dropped.
			if part.FunctionCall.Name == "" {
				continue
			}
			preserved = append(preserved, part)
			firstCall = i
			break
		}
		preserved = append(preserved, p.processTextPart(part)...)
	}
	if firstCall >= 0 {
		for _, part := range parts[firstCall+1:] {
			if part == nil || part.FunctionCall == nil {
				break
			}
			preserved = append(preserved, part)
		}
	}
	out := response.Clone()
	out.Content = &genai.Content{Role: response.Content.Role, Parts: preserved}
	return out
}

func (p *Planner) processTextPart(part *genai.Part) []*genai.Part {
	if part.Text == "" {
		return []*genai.Part{part}
	}
	if strings.Contains(part.Text, FinalAnswerTag) {
		reasoning, answer := p.splitByLastPattern(part.Text, FinalAnswerTag)
		var out []*genai.Part
		if reasoning != "" {
			out = append(out, &genai.Part{Text: reasoning, Thought: true})
		}
		if answer != "" {
			out = append(out, &genai.Part{Text: answer})
		}
		return out
	}
	for _, tag := range []string{PlanningTag, ReplanningTag, ReasoningTag, ActionTag} {
		if strings.HasPrefix(part.Text, tag) {
			c := *part
			c.Thought = true
			return []*genai.Part{&c}
		}
	}
	return []*genai.Part{part}
}

// splitByLastPattern splits text at the last separator. The separator stays
// with the leading half.
func (p *Planner) splitByLastPattern(text, separator string) (string, string) {
	index := strings.LastIndex(text, separator)
	if index == -1 {
		return text, ""
	}
	return text[:index+len(separator)], text[index+len(separator):]
}

// buildPlannerInstruction builds the comprehensive planning instruction
// for the React planner.
func (p *Planner) buildPlannerInstruction() string {
	highLevelPreamble := strings.Join([]string{
		"When answering the question, try to leverage the available tools " +
			"to gather the information instead of your memorized knowledge.",
		"",
		"Follow this process when answering the question: (1) first come up " +
			"with a plan in natural language text format; (2) Then use tools to " +
			"execute the plan and provide reasoning between tool code snippets " +
			"to make a summary of current state and next step. Tool code " +
			"snippets and reasoning should be interleaved with each other. (3) " +
			"In the end, return one final answer.",
		"",
		"Follow this format when answering the question: (1) The planning " +
			"part should be under " + PlanningTag + ". (2) The tool code " +
			"snippets should be under " + ActionTag + ", and the reasoning " +
			"parts should be under " + ReasoningTag + ". (3) The final answer " +
			"part should be under " + FinalAnswerTag + ".",
	}, "\n")

	planningPreamble := strings.Join([]string{
		"Below are the requirements for the planning:",
		"The plan is made to answer the user query if following the plan. The plan " +
			"is coherent and covers all aspects of information from user query, and " +
			"only involves the tools that are accessible by the agent.",
		"The plan contains the decomposed steps as a numbered list where each step " +
			"should use one or multiple available tools.",
		"By reading the plan, you can intuitively know which tools to trigger or " +
			"what actions to take.",
		"If the initial plan cannot be successfully executed, you should learn from " +
			"previous execution results and revise your plan. The revised plan should " +
			"be under " + ReplanningTag + ". Then use tools to follow the new plan.",
	}, "\n")

	reasoningPreamble := strings.Join([]string{
		"Below are the requirements for the reasoning:",
		"The reasoning makes a summary of the current trajectory based on the user " +
			"query and tool outputs.",
		"Based on the tool outputs and plan, the reasoning also comes up with " +
			"instructions to the next steps, making the trajectory closer to the " +
			"final answer.",
	}, "\n")

	finalAnswerPreamble := strings.Join([]string{
		"Below are the requirements for the final answer:",
		"The final answer should be precise and follow query formatting " +
			"requirements.",
		"Some queries may not be answerable with the available tools and " +
			"information. In those cases, inform the user why you cannot process " +
			"their query and ask for more information.",
	}, "\n")

	toolCodePreamble := strings.Join([]string{
		"Below are the requirements for the tool code:",
		"",
		"**Custom Tools:** The available tools are described in the context and " +
			"can be directly used.",
		"- Code must be valid self-contained snippets with no imports and no " +
			"references to tools or libraries that are not in the context.",
		"- You cannot use any parameters or fields that are not explicitly defined " +
			"in the APIs in the context.",
		"- The code snippets should be readable, efficient, and directly relevant to " +
			"the user query and reasoning steps.",
		"- When using the tools, you should use the tool name together with the " +
			"function name.",
		"- If libraries are not provided in the context, NEVER write your own code " +
			"other than the function calls using the provided tools.",
	}, "\n")

	userInputPreamble := strings.Join([]string{
		"VERY IMPORTANT instruction that you MUST follow in addition to the above " +
			"instructions:",
		"",
		"You should ask for clarification if you need more information to answer " +
			"the question.",
		"You should prefer using the information available in the context instead " +
			"of repeated tool use.",
	}, "\n")

	return strings.Join([]string{
		highLevelPreamble,
		planningPreamble,
		reasoningPreamble,
		finalAnswerPreamble,
		toolCodePreamble,
		userInputPreamble,
	}, "\n\n")
}
