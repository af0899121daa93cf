package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoogware/crawlspace/internal/config"
)

func TestConnThrottle(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	th := newConnThrottle(2)
	th.now = func() time.Time { return now }

	assert.True(t, th.allow("1.2.3.4"))
	assert.True(t, th.allow("1.2.3.4"))
	assert.False(t, th.allow("1.2.3.4"))
	assert.True(t, th.allow("5.6.7.8"), "limits are per address")

	now = now.Add(time.Second)
	assert.True(t, th.allow("1.2.3.4"), "window rolls over")
}

func TestConnThrottle_SweepsExpiredWindows(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	th := newConnThrottle(1)
	th.now = func() time.Time { return now }

	for i := 0; i <= throttleSweepSize; i++ {
		th.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	require.Equal(t, throttleSweepSize+1, th.len())

	now = now.Add(2 * time.Second)
	th.allow("192.168.0.1")
	assert.Equal(t, 1, th.len())
}

func TestExtractIP(t *testing.T) {
	assert.Equal(t, "127.0.0.1", extractIP(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}))
	assert.Equal(t, "pipe", extractIP(pipeAddr{}))
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

func TestListener_ThrottlesConnections(t *testing.T) {
	srv := newTestServer(t, func(c *config.Core) { c.ConnectionRateLimit = 1 })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.l.Serve(ctx, ln) }()

	first, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	waitFor(t, func() bool { return srv.l.Connections() == 1 })

	second, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(ioTimeout))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "second connection within the window is dropped")
	assert.Equal(t, int64(1), srv.l.Connections())

	cancel()
	select {
	case <-served:
	case <-time.After(ioTimeout):
		t.Fatal("Serve did not return")
	}
}
