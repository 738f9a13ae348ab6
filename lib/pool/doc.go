// Package pool provides the pooled resources used by the rawnet transports:
// byte buffers for packet data and reusable per-operation state objects.
//
// The package focuses on:
//   - Renting buffers of at least a requested size without ever failing
//   - Bounded retention, so that bursts do not grow the pools without limit
//   - A factory/reset/destroy/reuse-check contract for state objects
//   - Rent/return accounting that tests can use to prove the absence of leaks
//
// Key Components:
//
//   - BufferPool: size-class (power of two) buffer pool. Every class retains at
//     most BuffersPerBucket buffers. Requests above the configured bucket size
//     are served by a separate, small oversized pool so that large one-off
//     buffers never end up in the shared classes. All counters are
//     VictoriaMetrics counters and can be exported in Prometheus format.
//
//   - ObjectPool: generic pool for state objects driven by a Policy. Objects are
//     created on demand, reset before they are retained and destroyed when the
//     policy refuses reuse, when the pool is full or when the pool is disposed.
//
// Ownership:
//
//	Renting never fails. Returning a foreign or already returned object is a
//	programming error that the pools do not detect: each caller must return
//	exactly once per successful rent, on every exit path.
//
// Thread Safety:
//
//	Both pools are safe for concurrent use. Retained items live in buffered
//	channels, so rent and return never block.
package pool
