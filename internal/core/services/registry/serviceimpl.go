package registry

import (
	"fmt"
	"time"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
)

var _ INodeRegistry = &NodeRegistry{}

// NodeRegistry implements INodeRegistry in memory
type NodeRegistry struct {
	nodes  map[string]*domain.Node
	order  []string
	now    func() time.Time
	logger primary.Logger
}

// Option configures a NodeRegistry
type Option func(*NodeRegistry)

// WithClock replaces the time source used to mint identities
func WithClock(now func() time.Time) Option {
	return func(r *NodeRegistry) {
		r.now = now
	}
}

// NewNodeRegistry creates an empty registry
func NewNodeRegistry(logger primary.Logger, options ...Option) *NodeRegistry {
	r := &NodeRegistry{
		nodes:  make(map[string]*domain.Node),
		now:    time.Now,
		logger: logger,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

func (r *NodeRegistry) Register(candidate domain.NodeDescriptor) (string, error) {
	if candidate.ID != "" {
		if node, ok := r.nodes[candidate.ID]; ok {
			// A crashed worker restarts without saying goodbye.
			if node.State != domain.NodeNotConnected && node.State != domain.NodeCrashed {
				r.logger.Warn("Refusing duplicate connect", "nodeID", node.ID, "state", node.State)
				return "", fmt.Errorf("node %s: %w", node.ID, errs.ErrDuplicateConnect)
			}
			released := release(node)
			r.apply(node, candidate)
			node.State = domain.NodeFree
			node.Fenced = false
			node.Failures = 0
			node.LastSeq = 0
			r.logger.Info("Node reconnected", "nodeID", node.ID, "name", node.Name, "released", len(released))
			return node.ID, nil
		}
		// Unknown but presented identity: keep it so the worker's config stays valid.
		r.add(candidate.ID, candidate)
		r.logger.Info("Node registered with presented identity", "nodeID", candidate.ID, "name", candidate.Name)
		return candidate.ID, nil
	}

	id := r.mint(candidate.Name)
	r.add(id, candidate)
	r.logger.Info("Node registered", "nodeID", id, "name", candidate.Name)
	return id, nil
}

// mint bumps the timestamp by one millisecond on every collision.
func (r *NodeRegistry) mint(name string) string {
	ms := r.now().UnixMilli()
	for {
		id := Identity(ms, name)
		if _, taken := r.nodes[id]; !taken {
			return id
		}
		r.logger.Debug("Identity collision, regenerating", "name", name)
		ms++
	}
}

func (r *NodeRegistry) add(id string, candidate domain.NodeDescriptor) {
	node := &domain.Node{
		ID:           id,
		State:        domain.NodeFree,
		RegisteredAt: r.now(),
	}
	r.apply(node, candidate)
	r.nodes[id] = node
	r.order = append(r.order, id)
}

func (r *NodeRegistry) apply(node *domain.Node, candidate domain.NodeDescriptor) {
	node.Name = candidate.Name
	node.Address = candidate.Address
	node.Port = candidate.Port
	node.Codecs = append([]domain.Codec(nil), candidate.Codecs...)
	node.Threads = candidate.Threads
	if node.Threads < 1 {
		node.Threads = 1
	}
	node.LastSeen = r.now()
}

func (r *NodeRegistry) Deregister(nodeID string) ([]*domain.Task, error) {
	node, err := r.Lookup(nodeID)
	if err != nil {
		return nil, err
	}
	released := release(node)
	node.State = domain.NodeNotConnected
	r.logger.Info("Node disconnected", "nodeID", nodeID, "released", len(released))
	return released, nil
}

func release(node *domain.Node) []*domain.Task {
	released := node.Tasks
	node.Tasks = nil
	for _, t := range released {
		t.Progress.Reset()
		t.NodeID = ""
	}
	return released
}

func (r *NodeRegistry) Lookup(nodeID string) (*domain.Node, error) {
	node, ok := r.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", nodeID, errs.ErrNodeNotFound)
	}
	return node, nil
}

func (r *NodeRegistry) FreeNodes(kind domain.TaskKind) []*domain.Node {
	var out []*domain.Node
	for _, id := range r.order {
		node := r.nodes[id]
		if eligible(node, kind) {
			out = append(out, node)
		}
	}
	return out
}

// eligible keeps video exclusive: a video task needs a strictly FREE empty
// node, an audio task needs a spare thread and no video task on the node.
func eligible(node *domain.Node, kind domain.TaskKind) bool {
	if node.Fenced || node.Failures >= domain.FailureThreshold {
		return false
	}
	switch kind {
	case domain.TaskKindVideo:
		return node.State == domain.NodeFree && len(node.Tasks) == 0
	case domain.TaskKindAudio:
		if node.State != domain.NodeFree && node.State != domain.NodeWorking {
			return false
		}
		return len(node.Tasks) < node.Threads && !node.HasVideoTask()
	}
	return false
}

func (r *NodeRegistry) Nodes() []*domain.Node {
	out := make([]*domain.Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

func (r *NodeRegistry) Remove(nodeID string) ([]*domain.Task, error) {
	node, err := r.Lookup(nodeID)
	if err != nil {
		return nil, err
	}
	released := release(node)
	delete(r.nodes, nodeID)
	for i, id := range r.order {
		if id == nodeID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("Node removed", "nodeID", nodeID)
	return released, nil
}

func (r *NodeRegistry) Restore(snapshots []domain.NodeSnapshot) {
	for _, s := range snapshots {
		if _, ok := r.nodes[s.ID]; ok {
			continue
		}
		node := domain.NodeFromSnapshot(s)
		node.State = domain.NodeNotConnected
		r.nodes[node.ID] = node
		r.order = append(r.order, node.ID)
	}
	r.logger.Info("Registry restored", "nodes", len(snapshots))
}
