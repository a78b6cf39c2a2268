// Package schema is the gateway message-definition collaborator.
//
// Ownership boundary:
// - the operation table (numeric operation type -> name), embedded as TOML
// - decoding the UDP discovery reply into address + identity
// - classifying inbound TCP payloads by their operation type
//
// The bridge core treats payloads as opaque; everything here is best-effort
// metadata layered on top of the raw frames.
package schema
