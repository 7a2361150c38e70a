package registry

import (
	"gitlab.com/encodefarm.net/internal/domain"
)

// INodeRegistry is the authoritative set of known worker nodes. It is not
// safe for concurrent use; the coordinator serializes every call.
type INodeRegistry interface {
	// Register admits a connecting node and returns its identity. A node that
	// is already active is refused with errs.ErrDuplicateConnect.
	Register(candidate domain.NodeDescriptor) (string, error)

	// Deregister marks the node NOT_CONNECTED and returns the tasks it held,
	// each already reset to TODO.
	Deregister(nodeID string) ([]*domain.Task, error)

	// Lookup resolves a sender identity
	Lookup(nodeID string) (*domain.Node, error)

	// FreeNodes lists nodes that can take a task of kind, in registration order
	FreeNodes(kind domain.TaskKind) []*domain.Node

	// Nodes lists every known node in registration order
	Nodes() []*domain.Node

	// Remove forgets a node and returns the tasks it held, reset to TODO
	Remove(nodeID string) ([]*domain.Task, error)

	// Restore loads nodes from a snapshot as NOT_CONNECTED
	Restore(snapshots []domain.NodeSnapshot)
}
