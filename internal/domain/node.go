package domain

import "time"

// NodeState represents the lifecycle state of a worker node
type NodeState string

const (
	NodeNotConnected NodeState = "NOT_CONNECTED"
	NodeFree         NodeState = "FREE"
	NodeWorking      NodeState = "WORKING"
	NodePaused       NodeState = "PAUSED"
	NodeCrashed      NodeState = "CRASHED"
)

// FailureThreshold excludes a node from capacity queries once reached.
const FailureThreshold = 10

// Node is the master's record of a worker
type Node struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Port         int       `json:"port"`
	Codecs       []Codec   `json:"codecs"`
	Threads      int       `json:"threads"`
	State        NodeState `json:"state"`
	Failures     int       `json:"failures"`
	Fenced       bool      `json:"fenced"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	LastSeq      uint64    `json:"-"`
	Tasks        []*Task   `json:"-"`
}

// NodeSnapshot is the serializable view of a node.
type NodeSnapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Port         int       `json:"port"`
	Codecs       []Codec   `json:"codecs"`
	Threads      int       `json:"threads"`
	State        NodeState `json:"state"`
	Failures     int       `json:"failures"`
	Fenced       bool      `json:"fenced"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	Tasks        []TaskKey `json:"tasks"`
}

func (n *Node) Supports(codec Codec) bool {
	for _, c := range n.Codecs {
		if c == codec {
			return true
		}
	}
	return false
}

// Online reports whether the node may receive work.
func (n *Node) Online() bool {
	return n.State != NodeNotConnected && n.State != NodePaused
}

func (n *Node) HasVideoTask() bool {
	for _, t := range n.Tasks {
		if t.Kind == TaskKindVideo {
			return true
		}
	}
	return false
}

// AssignedTask returns the held task matching key, if any.
func (n *Node) AssignedTask(key TaskKey) *Task {
	for _, t := range n.Tasks {
		if t.Key() == key {
			return t
		}
	}
	return nil
}

func (n *Node) Assign(t *Task) {
	n.Tasks = append(n.Tasks, t)
}

// Unassign drops t from the node and reports whether it was held.
func (n *Node) Unassign(t *Task) bool {
	for i, held := range n.Tasks {
		if held == t {
			n.Tasks = append(n.Tasks[:i], n.Tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (n *Node) Snapshot() NodeSnapshot {
	keys := make([]TaskKey, 0, len(n.Tasks))
	for _, t := range n.Tasks {
		keys = append(keys, t.Key())
	}
	return NodeSnapshot{
		ID:           n.ID,
		Name:         n.Name,
		Address:      n.Address,
		Port:         n.Port,
		Codecs:       append([]Codec(nil), n.Codecs...),
		Threads:      n.Threads,
		State:        n.State,
		Failures:     n.Failures,
		Fenced:       n.Fenced,
		RegisteredAt: n.RegisteredAt,
		LastSeen:     n.LastSeen,
		Tasks:        keys,
	}
}

// NodeFromSnapshot rebuilds a node without task links; the caller relinks
// tasks from the job store.
func NodeFromSnapshot(s NodeSnapshot) *Node {
	return &Node{
		ID:           s.ID,
		Name:         s.Name,
		Address:      s.Address,
		Port:         s.Port,
		Codecs:       append([]Codec(nil), s.Codecs...),
		Threads:      s.Threads,
		State:        s.State,
		Failures:     s.Failures,
		Fenced:       s.Fenced,
		RegisteredAt: s.RegisteredAt,
		LastSeen:     s.LastSeen,
	}
}
