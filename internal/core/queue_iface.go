package core

import "context"

// BatchHandler receives the pending payloads of one key in push order.
// Returning an error redelivers the same batch later.
type BatchHandler func(ctx context.Context, key string, batch [][]byte) error

// WorkQueue is an at-least-once keyed queue. Batches of one key are never handled concurrently.
type WorkQueue interface {
	Push(ctx context.Context, key string, payload []byte) error
	// Run blocks dispatching batches to h until ctx is done.
	Run(ctx context.Context, h BatchHandler) error
}
