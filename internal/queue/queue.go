// Package queue is the durable work-queue contract of the engine: named
// queues, delayed delivery, dedupe by job key, at-least-once handling.
// Handlers must be idempotent.
package queue

import (
	"context"
	"time"
)

// One queue per concern. Expiry is split by order type so a slow consumer
// on one type cannot starve the others.
const (
	QueueExpiryListings   = "expiry:listings"
	QueueExpiryBids       = "expiry:bids"
	QueueExpiryAuctions   = "expiry:auctions"
	QueueRarity           = "rarity"
	QueueCollectionPrices = "collection-prices"
	QueueTransfers        = "transfers"
)

// Job is one unit of deferred work. Key deduplicates: enqueueing a second
// job with the same key replaces the first, including its delay.
type Job struct {
	Key     string
	Payload []byte
	Delay   time.Duration
}

type Handler func(ctx context.Context, payload []byte) error

type Queue interface {
	Enqueue(ctx context.Context, queue string, job Job) error
	Remove(ctx context.Context, queue string, key string) error
}
