package secondary

import (
	"context"

	"gitlab.com/encodefarm.net/internal/domain"
)

// NodeRepository stores registry snapshots.
type NodeRepository interface {
	// SaveNodes replaces the stored snapshot with nodes
	SaveNodes(ctx context.Context, nodes []domain.NodeSnapshot) error

	// LoadNodes returns the last saved snapshot in registration order
	LoadNodes(ctx context.Context) ([]domain.NodeSnapshot, error)

	DeleteNode(ctx context.Context, nodeID string) error
}
