// Package bridge connects one application identity to one ComfoConnect
// LAN C gateway.
//
// Ownership boundary:
// - discovery/connection sequencing ahead of every transmit
// - the TCP connection lifecycle state machine and its notifications
// - framing of outbound operation+command payloads
//
// A Bridge owns at most one live socket handle at a time. Once a handle is
// torn down it is never reused; the next transmit constructs a fresh one.
package bridge
