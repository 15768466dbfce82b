//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain ListenConfig on other platforms.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
