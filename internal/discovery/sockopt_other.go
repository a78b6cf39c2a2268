//go:build !unix

package discovery

import "net"

func enableBroadcast(*net.UDPConn) error {
	return nil
}
