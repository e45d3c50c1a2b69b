// Package metadata provides the built-in index-metadata executor: tasks
// that create indices and register mapping types on the cluster snapshot,
// staging the storage-system writes and schema events that travel with the
// transition and requesting secondary-index creation once the change is
// published.
package metadata
