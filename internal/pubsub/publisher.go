// Package pubsub publishes the mutation notifications spec §6 names:
// entity.{type}.{id}.changed on every committed mutation, and
// branch.{id}.forked / branch.{id}.merged on fork/merge. It is grounded on
// evalgo-org-eve/db/repository/redis.go's Publish/Subscribe pair, which
// JSON-encodes a message and calls redis.Client.Publish.
//
// Per spec §5(c), publishes happen strictly after the owning transaction
// commits, so callers must invoke Publisher methods post-commit, never
// from inside a transaction body.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jakekausler/campaign-manager/internal/logging"
)

// Publisher emits change notifications over Redis pub/sub.
type Publisher struct {
	client *redis.Client
}

func New(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) publish(ctx context.Context, channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.WithComponent("pubsub").WithError(err).Warn("marshal failed, dropping notification")
		return
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		// Pub/sub delivery is best-effort: a Redis outage must not abort
		// the mutation that already committed.
		logging.WithComponent("pubsub").WithError(err).Debug("publish failed")
	}
}

// EntityChanged publishes entity.{type}.{id}.changed.
func (p *Publisher) EntityChanged(ctx context.Context, entityType, entityID, branchID string) {
	channel := fmt.Sprintf("entity.%s.%s.changed", entityType, entityID)
	p.publish(ctx, channel, map[string]string{
		"entityType": entityType,
		"entityId":   entityID,
		"branchId":   branchID,
	})
}

// BranchForked publishes branch.{id}.forked.
func (p *Publisher) BranchForked(ctx context.Context, parentBranchID, childBranchID string) {
	channel := fmt.Sprintf("branch.%s.forked", parentBranchID)
	p.publish(ctx, channel, map[string]string{
		"parentBranchId": parentBranchID,
		"childBranchId":  childBranchID,
	})
}

// BranchMerged publishes branch.{id}.merged, where {id} is the target.
func (p *Publisher) BranchMerged(ctx context.Context, sourceBranchID, targetBranchID string) {
	channel := fmt.Sprintf("branch.%s.merged", targetBranchID)
	p.publish(ctx, channel, map[string]string{
		"sourceBranchId": sourceBranchID,
		"targetBranchId": targetBranchID,
	})
}
