// Package api exposes the registry over HTTP: artifact and version CRUD,
// content retrieval, grant management, ownership transfer, usage events,
// and the token-exchange endpoint.
//
// The wire contract is disclosure-safe: a request denied by access control
// and a request for a resource that does not exist produce byte-identical
// 404 responses. Quarantined content returns 410, transient storage
// failures 503, and scope escalation on token issuance 400.
package api
