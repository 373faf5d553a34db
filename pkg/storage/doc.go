// Package storage provides content-addressed blob storage for artifact
// version contents.
//
// An ObjectStore sits in front of a pluggable Backend (local filesystem or
// an S3-compatible store) and enforces the integrity contract: content is
// hashed with SHA-256 before transmission, verified by read-back after
// every write and on every read, and quarantined permanently if the stored
// bytes ever stop matching their address. Identical uploads deduplicate to
// a single object whose reference count tracks the versions pointing at
// it; the bytes are reclaimed only when the count reaches zero.
//
// Transient backend failures are retried with exponential backoff up to a
// bounded attempt budget before surfacing as ErrBackendUnavailable. Reads
// can be fronted by a two-tier cache (in-process LRU plus shared Redis);
// because keys are content hashes, cached entries are never stale.
package storage
