package nodeport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/ports/secondary"
	"gitlab.com/encodefarm.net/internal/domain"
)

const nodeKeyPrefix = "node:"

var _ secondary.NodeRepository = (*NodeRepository)(nil)

// NodeRepository implements the NodeRepository interface with Redis. Each
// node is one JSON string under node:<id>; keys never expire.
type NodeRepository struct {
	redisClient *redis.Client
	logger      primary.Logger
}

// NewNodeRepository creates a new Redis node repository
func NewNodeRepository(redisClient *redis.Client, logger primary.Logger) *NodeRepository {
	return &NodeRepository{
		redisClient: redisClient,
		logger:      logger,
	}
}

func nodeKey(id string) string {
	return nodeKeyPrefix + id
}

// scanKeys lists every node key with SCAN
func (r *NodeRepository) scanKeys(ctx context.Context) ([]string, error) {
	var (
		cursor   uint64
		nodeKeys []string
	)
	for {
		keys, next, err := r.redisClient.Scan(ctx, cursor, nodeKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan node keys: %w", err)
		}
		nodeKeys = append(nodeKeys, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nodeKeys, nil
}

// SaveNodes writes every snapshot and drops keys of nodes no longer present,
// in one MULTI/EXEC.
func (r *NodeRepository) SaveNodes(ctx context.Context, nodes []domain.NodeSnapshot) error {
	existing, err := r.scanKeys(ctx)
	if err != nil {
		return err
	}

	keep := make(map[string]bool, len(nodes))
	values := make(map[string][]byte, len(nodes))
	for _, n := range nodes {
		nodeJSON, err := json.Marshal(n)
		if err != nil {
			r.logger.Error("Failed to marshal node snapshot", "nodeID", n.ID, "error", err)
			return fmt.Errorf("failed to marshal node %s: %w", n.ID, err)
		}
		keep[nodeKey(n.ID)] = true
		values[nodeKey(n.ID)] = nodeJSON
	}

	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, nodeJSON := range values {
			pipe.Set(ctx, key, nodeJSON, 0)
		}
		for _, key := range existing {
			if !keep[key] {
				pipe.Del(ctx, key)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save node snapshot", "error", err)
		return fmt.Errorf("failed to save nodes: %w", err)
	}
	return nil
}

// LoadNodes retrieves all node snapshots, oldest registration first
func (r *NodeRepository) LoadNodes(ctx context.Context) ([]domain.NodeSnapshot, error) {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	// Use MGET to retrieve all node data at once
	data, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve node data: %w", err)
	}

	nodes := make([]domain.NodeSnapshot, 0, len(data))
	for i, raw := range data {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var n domain.NodeSnapshot
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			r.logger.Warn("Skipping unreadable node snapshot", "key", keys[i], "error", err)
			continue
		}
		if n.ID == "" {
			n.ID = strings.TrimPrefix(keys[i], nodeKeyPrefix)
		}
		nodes = append(nodes, n)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].RegisteredAt.Before(nodes[j].RegisteredAt)
	})
	return nodes, nil
}

func (r *NodeRepository) DeleteNode(ctx context.Context, nodeID string) error {
	if err := r.redisClient.Del(ctx, nodeKey(nodeID)).Err(); err != nil {
		r.logger.Error("Failed to delete node", "nodeID", nodeID, "error", err)
		return fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}
	return nil
}
