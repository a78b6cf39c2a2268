// Package discovery locates the ventilation gateway on the local network.
//
// One probe is one UDP socket: bind ephemeral, send the two-byte probe
// (broadcast/multicast, or unicast when the address is already known), wait
// for a single reply, close. There is no retry here; callers who want
// retries probe again.
package discovery
