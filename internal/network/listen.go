package network

import (
	"net"
	"time"
)

// ListenConfig returns the listen configuration shared by the game listener
// and the API: SO_REUSEADDR is set before bind so a restarted process can
// take its port back while the old socket sits in TIME_WAIT. A positive
// keepAlive sets the TCP keep-alive period of accepted sockets.
func ListenConfig(keepAlive time.Duration) net.ListenConfig {
	return net.ListenConfig{
		KeepAlive: keepAlive,
		Control:   reuseAddr,
	}
}
