// Package stores provides SQLite-backed persistence for Statecraft: the
// durability hook for committed snapshots and the durable pending-effect set
// of the secondary synchronizer. The store is an availability aid, not a
// source of truth; the engine operates correctly without it.
package stores
