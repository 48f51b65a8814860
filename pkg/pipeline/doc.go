// Package pipeline buffers serialized entries and ships them to the remote
// collector in batches. Delivery is at-least-once: a batch is acknowledged
// as a whole, and a failed batch is re-inserted at the head of the queue so
// it is retried ahead of entries enqueued afterwards.
package pipeline
