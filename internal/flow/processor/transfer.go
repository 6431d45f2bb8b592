//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package processor

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/transfer"
)

// TransferRequestProcessor offers transfer_to_agent to the model together
// with an instruction listing the agents it may hand over to.
type TransferRequestProcessor struct{}

// NewTransferRequestProcessor creates a new agent transfer request processor.
func NewTransferRequestProcessor() *TransferRequestProcessor {
	return &TransferRequestProcessor{}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *TransferRequestProcessor) ProcessRequest(_ context.Context, inv *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	if inv.Agent == nil {
		return nil
	}
	targets := TransferTargets(inv.Agent)
	if len(targets) == 0 {
		return nil
	}
	log.Debugf("Transfer request processor: agent %s can transfer to %d agents", inv.AgentName, len(targets))

	parent := ""
	if rules, ok := inv.Agent.(agent.TransferRules); inv.Agent.Parent() != nil && (!ok || !rules.DisallowTransferToParent()) {
		parent = inv.Agent.Parent().Info().Name
	}
	req.AppendInstructions(transfer.Instructions(targets, parent))
	req.AppendTools(transfer.New(targets))
	return nil
}

// TransferTargets lists the agents a may transfer to: its sub-agents, its
// parent unless disallowed, and its peers when the parent itself takes part
// in transfer and peer transfer is allowed.
func TransferTargets(a agent.Agent) []agent.Info {
	var targets []agent.Info
	for _, sub := range a.SubAgents() {
		targets = append(targets, sub.Info())
	}
	parent := a.Parent()
	if parent == nil {
		return targets
	}
	rules, _ := a.(agent.TransferRules)
	if rules == nil || !rules.DisallowTransferToParent() {
		targets = append(targets, parent.Info())
	}
	if _, parentTransfers := parent.(agent.TransferRules); parentTransfers &&
		(rules == nil || !rules.DisallowTransferToPeers()) {
		for _, peer := range parent.SubAgents() {
			if peer.Info().Name != a.Info().Name {
				targets = append(targets, peer.Info())
			}
		}
	}
	return targets
}
