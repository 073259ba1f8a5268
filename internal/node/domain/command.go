package domain

import (
	"github.com/anthanhphan/go-chord/pkg/ring"
)

// Function names an operation that a node may run on behalf of a peer.
type Function string

const (
	FnGetSuccessor           Function = "getSuccessor"
	FnFindSuccessor          Function = "findSuccessor"
	FnGetPredecessor         Function = "getPredecessor"
	FnSetPredecessor         Function = "setPredecessor"
	FnFindPredecessor        Function = "findPredecessor"
	FnClosestPrecedingFinger Function = "closestPrecedingFinger"
	FnNotify                 Function = "notify"
	FnUpdateFingerTable      Function = "updateFingerTable"
	FnGetInfo                Function = "getInfo"
)

// Command is the payload of a command envelope.
type Command struct {
	Function Function    `json:"function"`
	Args     CommandArgs `json:"args"`
}

// CommandArgs carries the typed arguments. Each function reads only the
// fields it needs.
type CommandArgs struct {
	ID    int        `json:"id,omitempty"`
	Index int        `json:"index,omitempty"`
	Node  *ring.Node `json:"node,omitempty"`
}

// NodeArg returns the node argument, or the absent descriptor.
func (a CommandArgs) NodeArg() ring.Node {
	if a.Node == nil {
		return ring.Node{}
	}
	return *a.Node
}

func GetSuccessorCmd() Command {
	return Command{Function: FnGetSuccessor}
}

func GetPredecessorCmd() Command {
	return Command{Function: FnGetPredecessor}
}

func FindSuccessorCmd(id int) Command {
	return Command{Function: FnFindSuccessor, Args: CommandArgs{ID: id}}
}

func FindPredecessorCmd(id int) Command {
	return Command{Function: FnFindPredecessor, Args: CommandArgs{ID: id}}
}

func ClosestPrecedingFingerCmd(id int) Command {
	return Command{Function: FnClosestPrecedingFinger, Args: CommandArgs{ID: id}}
}

func SetPredecessorCmd(node ring.Node) Command {
	return Command{Function: FnSetPredecessor, Args: CommandArgs{Node: &node}}
}

func NotifyCmd(node ring.Node) Command {
	return Command{Function: FnNotify, Args: CommandArgs{Node: &node}}
}

func UpdateFingerTableCmd(node ring.Node, index int) Command {
	return Command{Function: FnUpdateFingerTable, Args: CommandArgs{Node: &node, Index: index}}
}

func GetInfoCmd() Command {
	return Command{Function: FnGetInfo}
}

// FingerEntry is one row of the finger table. Interval is [start, end).
type FingerEntry struct {
	Node     ring.Node `json:"node"`
	Interval [2]int    `json:"interval"`
}

// Start is the first identifier covered by the finger.
func (f FingerEntry) Start() int {
	return f.Interval[0]
}

// Info is a snapshot of a node's routing state.
type Info struct {
	Node        ring.Node     `json:"node"`
	Predecessor ring.Node     `json:"pre"`
	Successor   ring.Node     `json:"suc"`
	Fingers     []FingerEntry `json:"finger"`
}
