package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthanhphan/go-chord/internal/node/domain"
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// Execute runs cmd on executer. The absent descriptor or this node's own
// descriptor runs it locally; any other live node receives a command
// envelope and has ExecuteTimeout to answer.
func (n *Node) Execute(ctx context.Context, executer ring.Node, cmd domain.Command) (json.RawMessage, error) {
	if !executer.IsZero() && executer.IsNull() {
		return nil, domain.ErrNullExecuter
	}

	if n.isLocal(executer) {
		result, err := n.dispatch(ctx, cmd)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
		}
		return raw, nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.ExecuteTimeout)
	defer cancel()
	return n.transport.Call(ctx, executer, domain.KindCommand, cmd)
}

// HandleCommand is the inbound half of Execute.
func (n *Node) HandleCommand(ctx context.Context, cmd domain.Command) (any, error) {
	return n.dispatch(ctx, cmd)
}

func (n *Node) dispatch(ctx context.Context, cmd domain.Command) (any, error) {
	var here ring.Node

	switch cmd.Function {
	case domain.FnGetSuccessor:
		return n.successor(), nil
	case domain.FnGetPredecessor:
		return n.currentPredecessor(), nil
	case domain.FnFindSuccessor:
		return n.FindSuccessor(ctx, cmd.Args.ID, here)
	case domain.FnFindPredecessor:
		return n.FindPredecessor(ctx, cmd.Args.ID, here)
	case domain.FnClosestPrecedingFinger:
		return n.ClosestPrecedingFinger(cmd.Args.ID), nil
	case domain.FnSetPredecessor:
		return nil, n.SetPredecessor(ctx, cmd.Args.NodeArg(), here)
	case domain.FnNotify:
		n.Notify(ctx, cmd.Args.NodeArg(), here)
		return nil, nil
	case domain.FnUpdateFingerTable:
		if !n.opts.EagerFingerUpdates {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCommand, cmd.Function)
		}
		return nil, n.UpdateFingerTable(ctx, cmd.Args.NodeArg(), cmd.Args.Index, here)
	case domain.FnGetInfo:
		return n.Info(), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCommand, cmd.Function)
	}
}

// executeNode runs cmd and decodes a node descriptor from the result.
func (n *Node) executeNode(ctx context.Context, executer ring.Node, cmd domain.Command) (ring.Node, error) {
	raw, err := n.Execute(ctx, executer, cmd)
	if err != nil {
		return ring.Node{}, err
	}
	var node ring.Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return ring.Node{}, fmt.Errorf("%w: %s returned %s", domain.ErrSerialization, cmd.Function, raw)
	}
	return node, nil
}
