// Package memkv is a sharded in-memory key/value store with TTLs, an
// optional size limit and cheap counters. Expired keys are invisible to
// readers at once and are removed by a periodic sweep on the store's clock.
package memkv
