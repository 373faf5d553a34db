// Package artifacts implements the registry core: artifact metadata,
// append-only version histories with server-assigned sequence numbers, and
// the access grants tying principals to roles.
//
// The Manager is the only entry point API handlers use. Every operation
// runs through the access control evaluator first, and denied operations
// are indistinguishable from operations on artifacts that do not exist.
// Version content lives in the content-addressed object store; the Manager
// keeps version rows and content reference counts consistent.
package artifacts
