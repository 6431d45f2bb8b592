//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"maps"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/auth"
)

// Actions are the side effects an event carries.
type Actions struct {
	// StateDelta is applied to session state when the event is appended.
	StateDelta map[string]any `json:"stateDelta,omitempty"`
	// ArtifactDelta maps filenames to the versions saved by this event.
	ArtifactDelta map[string]int `json:"artifactDelta,omitempty"`
	// RequestedAuthConfigs maps function call ids to the auth they need.
	RequestedAuthConfigs map[string]*auth.Config `json:"requestedAuthConfigs,omitempty"`
	// RequestedToolConfirmations maps function call ids to confirmations.
	RequestedToolConfirmations map[string]*ToolConfirmation `json:"requestedToolConfirmations,omitempty"`
	// TransferToAgent names the agent to hand control to.
	TransferToAgent string `json:"transferToAgent,omitempty"`
	// Escalate terminates the enclosing loop.
	Escalate bool `json:"escalate,omitempty"`
	// EndOfAgent marks the author as done for this invocation.
	EndOfAgent bool `json:"endOfAgent,omitempty"`
	// SkipSummarization keeps a tool result from going back to the model.
	SkipSummarization bool `json:"skipSummarization,omitempty"`
	// Compaction replaces a timestamp range of history with a summary.
	Compaction *Compaction `json:"compaction,omitempty"`
	// RewindBeforeInvocationID drops history from that invocation onwards.
	RewindBeforeInvocationID string `json:"rewindBeforeInvocationId,omitempty"`
}

// Compaction is a summary standing in for the events whose timestamps fall
// in [StartTimestamp, EndTimestamp], expressed in unix seconds.
type Compaction struct {
	StartTimestamp   float64        `json:"startTimestamp"`
	EndTimestamp     float64        `json:"endTimestamp"`
	CompactedContent *genai.Content `json:"compactedContent,omitempty"`
}

// ToolConfirmation is a human-in-the-loop approval for one tool call.
type ToolConfirmation struct {
	Hint      string `json:"hint,omitempty"`
	Confirmed bool   `json:"confirmed"`
	Payload   any    `json:"payload,omitempty"`
}

// IsZero reports whether no action is set.
func (a *Actions) IsZero() bool {
	return a == nil || (len(a.StateDelta) == 0 && len(a.ArtifactDelta) == 0 &&
		len(a.RequestedAuthConfigs) == 0 && len(a.RequestedToolConfirmations) == 0 &&
		a.TransferToAgent == "" && !a.Escalate && !a.EndOfAgent && !a.SkipSummarization &&
		a.Compaction == nil && a.RewindBeforeInvocationID == "")
}

// Clone copies the maps so the result can be mutated independently.
func (a *Actions) Clone() *Actions {
	if a == nil {
		return nil
	}
	c := *a
	c.StateDelta = deepCopyMap(a.StateDelta)
	c.ArtifactDelta = maps.Clone(a.ArtifactDelta)
	c.RequestedAuthConfigs = maps.Clone(a.RequestedAuthConfigs)
	c.RequestedToolConfirmations = maps.Clone(a.RequestedToolConfirmations)
	return &c
}

// Merge folds other into a. Maps are merged key by key, nested state maps
// recursively; scalar fields take other's value when it is set.
func (a *Actions) Merge(other *Actions) {
	if a == nil || other == nil {
		return
	}
	if other.StateDelta != nil {
		a.StateDelta = DeepMerge(a.StateDelta, other.StateDelta)
	}
	if other.ArtifactDelta != nil {
		if a.ArtifactDelta == nil {
			a.ArtifactDelta = map[string]int{}
		}
		maps.Copy(a.ArtifactDelta, other.ArtifactDelta)
	}
	if other.RequestedAuthConfigs != nil {
		if a.RequestedAuthConfigs == nil {
			a.RequestedAuthConfigs = map[string]*auth.Config{}
		}
		maps.Copy(a.RequestedAuthConfigs, other.RequestedAuthConfigs)
	}
	if other.RequestedToolConfirmations != nil {
		if a.RequestedToolConfirmations == nil {
			a.RequestedToolConfirmations = map[string]*ToolConfirmation{}
		}
		maps.Copy(a.RequestedToolConfirmations, other.RequestedToolConfirmations)
	}
	if other.TransferToAgent != "" {
		a.TransferToAgent = other.TransferToAgent
	}
	if other.Escalate {
		a.Escalate = true
	}
	if other.EndOfAgent {
		a.EndOfAgent = true
	}
	if other.SkipSummarization {
		a.SkipSummarization = true
	}
	if other.Compaction != nil {
		a.Compaction = other.Compaction
	}
	if other.RewindBeforeInvocationID != "" {
		a.RewindBeforeInvocationID = other.RewindBeforeInvocationID
	}
}

// DeepMerge merges src into dst, recursing into values that are maps on
// both sides. dst is allocated when nil and returned.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = DeepMerge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if vm, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(vm)
			continue
		}
		out[k] = v
	}
	return out
}
