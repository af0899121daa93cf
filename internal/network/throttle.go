package network

import (
	"net"
	"sync"
	"time"
)

// throttleSweepSize is the bucket count above which expired windows are
// dropped on the next call.
const throttleSweepSize = 1024

// connThrottle caps how many connections one IP may open within a rolling
// one second window.
type connThrottle struct {
	mu        sync.Mutex
	counts    map[string]*throttleBucket
	maxPerSec int
	now       func() time.Time
}

type throttleBucket struct {
	count       int
	windowStart time.Time
}

func newConnThrottle(maxPerSec int) *connThrottle {
	return &connThrottle{
		counts:    make(map[string]*throttleBucket),
		maxPerSec: maxPerSec,
		now:       time.Now,
	}
}

func (t *connThrottle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if len(t.counts) > throttleSweepSize {
		for k, b := range t.counts {
			if now.Sub(b.windowStart) >= time.Second {
				delete(t.counts, k)
			}
		}
	}

	b, exists := t.counts[ip]
	if !exists || now.Sub(b.windowStart) >= time.Second {
		t.counts[ip] = &throttleBucket{count: 1, windowStart: now}
		return true
	}

	b.count++
	return b.count <= t.maxPerSec
}

func (t *connThrottle) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

func extractIP(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
