// Package silo provides a lazy resource-lifecycle container.
//
// It offers:
// - declarative resource specifications with per-resource lifecycle flags
// - lazy instantiation with per-(name, argument) caching and singleflight deduplication
// - circular dependency detection across re-entrant initializers
// - process-fork detection with per-resource fork policy
// - test-time overrides, container locking, and cache seeding
// - ordered best-effort teardown
package silo
