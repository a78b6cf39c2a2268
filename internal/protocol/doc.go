// Package protocol owns the ComfoConnect LAN C wire format.
//
// Ownership boundary:
// - outbound frame layout (length prefix, identity tokens, operation length)
// - inbound stream splitting into length-prefixed frames
//
// Payload semantics (operation types, command bodies) live in
// internal/schema; this package never interprets them.
package protocol
