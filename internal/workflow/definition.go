// Package workflow compiles node/edge DAG definitions and executes them
// sequentially or in parallel, persisting every run.
package workflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/haasonsaas/stockd/internal/agents"
	"github.com/haasonsaas/stockd/pkg/models"
)

var (
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrCyclicDefinition  = errors.New("workflow definition contains a cycle")
)

// SyntheticStartID is the node ID injected when a definition marks no entry.
const SyntheticStartID = "__start__"

// compiled is a validated definition plus its execution order.
type compiled struct {
	def *models.WorkflowDefinition

	// order is a topological order over all nodes.
	order []models.Node

	// agentNodes is the subset of order that runs an agent, in order.
	agentNodes []models.Node

	// Parallel-mode split: the entry agent (if any) runs first, middles run
	// concurrently, finish agents observe the merged state.
	entryAgent   *models.Node
	middleAgents []models.Node
	finishAgents []models.Node
}

// Compile validates a definition and returns its execution plan. Validity:
// exactly one entry node (a synthetic start is injected when none is marked),
// at least one finish node, every edge references existing nodes, no cycles,
// and every agent node names a registered agent.
func Compile(def *models.WorkflowDefinition, registry *agents.Registry) (*compiled, error) {
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrInvalidDefinition)
	}

	nodes := make([]models.Node, len(def.Nodes))
	copy(nodes, def.Nodes)
	edges := make([]models.Edge, len(def.Edges))
	copy(edges, def.Edges)

	byID := make(map[string]models.Node, len(nodes))
	var entries []string
	finishes := 0
	for _, node := range nodes {
		if node.ID == "" {
			return nil, fmt.Errorf("%w: node with empty id", ErrInvalidDefinition)
		}
		if _, dup := byID[node.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidDefinition, node.ID)
		}
		if node.Type != models.NodeAgent && node.Type != models.NodeCondition {
			return nil, fmt.Errorf("%w: node %q has unknown type %q", ErrInvalidDefinition, node.ID, node.Type)
		}
		if node.Type == models.NodeAgent && node.Agent == "" {
			return nil, fmt.Errorf("%w: agent node %q names no agent", ErrInvalidDefinition, node.ID)
		}
		if node.Type == models.NodeAgent && registry != nil && !registry.Has(node.Agent) {
			return nil, fmt.Errorf("%w: node %q references unregistered agent %q", ErrInvalidDefinition, node.ID, node.Agent)
		}
		byID[node.ID] = node
		if node.IsEntry {
			entries = append(entries, node.ID)
		}
		if node.IsFinish {
			finishes++
		}
	}
	if len(entries) > 1 {
		return nil, fmt.Errorf("%w: multiple entry nodes %v", ErrInvalidDefinition, entries)
	}
	if finishes == 0 {
		return nil, fmt.Errorf("%w: no finish node", ErrInvalidDefinition)
	}

	for _, edge := range edges {
		if _, ok := byID[edge.From]; !ok {
			return nil, fmt.Errorf("%w: edge references unknown node %q", ErrInvalidDefinition, edge.From)
		}
		if _, ok := byID[edge.To]; !ok {
			return nil, fmt.Errorf("%w: edge references unknown node %q", ErrInvalidDefinition, edge.To)
		}
	}

	// With no marked entry, inject a synthetic start feeding every root.
	if len(entries) == 0 {
		if _, taken := byID[SyntheticStartID]; taken {
			return nil, fmt.Errorf("%w: node id %q is reserved", ErrInvalidDefinition, SyntheticStartID)
		}
		start := models.Node{ID: SyntheticStartID, Type: models.NodeCondition, IsEntry: true}
		incoming := make(map[string]int, len(nodes))
		for _, edge := range edges {
			incoming[edge.To]++
		}
		for _, node := range nodes {
			if incoming[node.ID] == 0 {
				edges = append(edges, models.Edge{From: SyntheticStartID, To: node.ID})
			}
		}
		nodes = append([]models.Node{start}, nodes...)
		byID[SyntheticStartID] = start
	}

	order, err := topoSort(nodes, edges)
	if err != nil {
		return nil, err
	}

	plan := &compiled{def: def, order: order}
	for _, node := range order {
		if node.Type != models.NodeAgent {
			continue
		}
		plan.agentNodes = append(plan.agentNodes, node)
		switch {
		case node.IsEntry:
			entry := node
			plan.entryAgent = &entry
		case node.IsFinish:
			plan.finishAgents = append(plan.finishAgents, node)
		default:
			plan.middleAgents = append(plan.middleAgents, node)
		}
	}
	return plan, nil
}

// topoSort orders nodes by Kahn's algorithm, breaking ties by node ID so the
// order is deterministic.
func topoSort(nodes []models.Node, edges []models.Edge) ([]models.Node, error) {
	byID := make(map[string]models.Node, len(nodes))
	indegree := make(map[string]int, len(nodes))
	adjacent := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
		indegree[node.ID] = 0
	}
	for _, edge := range edges {
		adjacent[edge.From] = append(adjacent[edge.From], edge.To)
		indegree[edge.To]++
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]models.Node, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, byID[id])

		next := adjacent[id]
		sort.Strings(next)
		for _, to := range next {
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(nodes) {
		return nil, ErrCyclicDefinition
	}
	return order, nil
}
