//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"encoding/json"
	"fmt"
)

// BaseState is the state of an agent that has started but not finished.
type BaseState struct{}

// SequentialState records the sub-agent a sequential agent is running.
type SequentialState struct {
	CurrentSubAgent string `json:"current_sub_agent"`
}

// LoopState records the progress of a loop agent.
type LoopState struct {
	CurrentSubAgent string `json:"current_sub_agent"`
	TimesLooped     int    `json:"times_looped"`
}

// EncodeState marshals an agent state for storage in an event.
func EncodeState(state any) (json.RawMessage, error) {
	if state == nil {
		return nil, nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode agent state: %w", err)
	}
	return b, nil
}
