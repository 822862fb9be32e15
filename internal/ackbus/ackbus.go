// Package ackbus is the semisynchronous-replication collaborator named in
// spec.md §6 ("the replication subsystem ... calls decrement_ack_counter").
// It is a thin go-redis pub/sub wrapper: replica nodes publish an ack
// message on a per-replication channel, and Listen forwards each one to the
// caller-supplied decrement callback. Grounded on the teacher's
// internal/redis IsEnabled-guarded client.
package ackbus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"dev.helix.code/internal/txnid"
)

// Config mirrors the teacher's redis.Config shape.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	Database int
}

// Bus publishes and listens for replication ack messages. A disabled Bus
// (Config.Enabled == false, matching ASYNC replication_mode) is a no-op on
// every method, the same pattern the teacher's redis client uses.
type Bus struct {
	client  *redis.Client
	enabled bool
}

// New constructs a Bus. It does not dial until the first command, matching
// go-redis's lazy-connection client.
func New(cfg Config) *Bus {
	if !cfg.Enabled {
		return &Bus{enabled: false}
	}
	return &Bus{
		enabled: true,
		client: redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.Database,
		}),
	}
}

// IsEnabled reports whether the bus is backed by a live Redis client.
func (b *Bus) IsEnabled() bool { return b.enabled }

// Close releases the underlying client.
func (b *Bus) Close() error {
	if !b.enabled {
		return nil
	}
	return b.client.Close()
}

func channelName(pid txnid.PartitionID, rid txnid.ReplicationID) string {
	return fmt.Sprintf("txnmgr:repl-ack:%d:%d", pid, rid)
}

// PublishAck announces that count acks arrived for (pid, rid). No-op if
// the bus is disabled.
func (b *Bus) PublishAck(ctx context.Context, pid txnid.PartitionID, rid txnid.ReplicationID, count uint32) error {
	if !b.enabled {
		return nil
	}
	return b.client.Publish(ctx, channelName(pid, rid), strconv.FormatUint(uint64(count), 10)).Err()
}

// AckHandler is invoked once per ack message received by Listen.
type AckHandler func(pid txnid.PartitionID, rid txnid.ReplicationID, count uint32)

// Listen subscribes to every replication ack channel and invokes handler
// for each message until ctx is cancelled. Returns immediately (nil) if
// the bus is disabled: callers running in ASYNC replication_mode simply
// never see acks, which is the documented default (spec.md §6).
func (b *Bus) Listen(ctx context.Context, handler AckHandler) error {
	if !b.enabled {
		return nil
	}
	sub := b.client.PSubscribe(ctx, "txnmgr:repl-ack:*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			pid, rid, ok := parseChannel(msg.Channel)
			if !ok {
				continue
			}
			count, err := strconv.ParseUint(msg.Payload, 10, 32)
			if err != nil {
				continue
			}
			handler(pid, rid, uint32(count))
		}
	}
}

func parseChannel(channel string) (txnid.PartitionID, txnid.ReplicationID, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 {
		return 0, 0, false
	}
	pid, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	rid, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return txnid.PartitionID(pid), txnid.ReplicationID(rid), true
}
