// Package network implements the game listener and the per-connection
// protocol state machine.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xoogware/crawlspace/internal/packets"
	"github.com/xoogware/crawlspace/internal/protocol"
	"github.com/xoogware/crawlspace/internal/session"
)

const (
	// AwaitTimeout bounds each expected packet before Play.
	AwaitTimeout = 5 * time.Second
	// WriteTimeout is how long a single write may stall before the
	// connection is considered dead.
	WriteTimeout = 10 * time.Second

	readBufferSize = 4096
	outQueueSize   = 64
)

// errKicked ends a connection that was told to leave by an operator or by
// shutdown. It is not an abnormal termination.
var errKicked = errors.New("disconnected by server")

type readResult struct {
	data []byte
	err  error
}

// Player is the session state attached to a connection after login.
type Player struct {
	UUID       uuid.UUID
	Name       string
	Properties []packets.Property
	Position   packets.Position
	Locale     string
	JoinedAt   time.Time

	// LastKeepAlive is when the client last echoed a keep-alive.
	LastKeepAlive time.Time
}

// Conn is one client connection. The goroutine running serve owns the codec
// and all protocol state; a reader and a writer goroutine move bytes between
// it and the socket.
type Conn struct {
	id     uint64
	raw    net.Conn
	srv    *Listener
	remote string
	logger zerolog.Logger

	state protocol.State
	dec   *protocol.FrameDecoder
	enc   *protocol.FrameEncoder

	in          chan readResult
	out         chan []byte
	writerDone  chan struct{}
	writeFailed chan struct{}
	writeErr    error
	kick        chan string
	done        chan struct{}
	closeOnce   sync.Once

	player     *Player
	registered bool
}

func newConn(id uint64, raw net.Conn, srv *Listener) *Conn {
	remote := raw.RemoteAddr().String()
	return &Conn{
		id:     id,
		raw:    raw,
		srv:    srv,
		remote: remote,
		logger: log.With().
			Str("component", "conn").
			Uint64("conn_id", id).
			Str("remote", remote).
			Logger(),
		state:       protocol.StateHandshake,
		dec:         protocol.NewFrameDecoder(),
		enc:         protocol.NewFrameEncoder(),
		in:          make(chan readResult, 4),
		out:         make(chan []byte, outQueueSize),
		writerDone:  make(chan struct{}),
		writeFailed: make(chan struct{}),
		kick:        make(chan string, 1),
		done:        make(chan struct{}),
	}
}

// ID returns the connection id, which is also the player's entity id.
func (c *Conn) ID() uint64 {
	return c.id
}

// Disconnect asks the connection to send reason and close. It never blocks.
func (c *Conn) Disconnect(reason string) {
	select {
	case c.kick <- packets.ClampReason(reason):
	default:
	}
}

// Closed reports whether the connection has terminated.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

var _ session.Handle = (*Conn)(nil)

// serve runs the connection to completion.
func (c *Conn) serve(ctx context.Context) {
	go c.readLoop()
	go c.writeLoop()

	err := c.run(ctx)
	c.finish(ctx, err)
}

func (c *Conn) readLoop() {
	for {
		buf := make([]byte, readBufferSize)
		n, err := c.raw.Read(buf)
		if n > 0 {
			select {
			case c.in <- readResult{data: buf[:n]}:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case c.in <- readResult{err: err}:
			case <-c.done:
			}
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)

	failed := false
	for frame := range c.out {
		if failed {
			continue
		}
		c.raw.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := c.raw.Write(frame); err != nil {
			c.writeErr = fmt.Errorf("write stalled or failed: %w", err)
			close(c.writeFailed)
			failed = true
		}
	}
}

// send serializes p for the current state and queues it. It blocks while
// the outbound queue is full.
func (c *Conn) send(p packets.Clientbound) error {
	payload, err := packets.Encode(c.state, p)
	if err != nil {
		return err
	}
	c.logger.Trace().
		Str("packet", packets.Name(c.state, p.ID())).
		Int("size", len(payload)).
		Msg("send")
	return c.sendPayload(payload)
}

// sendPayload frames an already encoded payload and queues it.
func (c *Conn) sendPayload(payload []byte) error {
	frame, err := c.enc.Encode(payload)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.writeFailed:
		return c.writeErr
	}
}

// readPayload returns the next complete payload, waiting at most timeout.
func (c *Conn) readPayload(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		payload, err := c.dec.Next()
		if err != nil || payload != nil {
			return payload, err
		}

		select {
		case r := <-c.in:
			if r.err != nil {
				return nil, r.err
			}
			c.dec.Feed(r.data)
		case <-timer.C:
			return nil, fmt.Errorf("%w: no packet within %s in %s state", protocol.ErrTimeout, timeout, c.state)
		case reason := <-c.kick:
			c.disconnect(reason)
			return nil, errKicked
		case <-c.writeFailed:
			return nil, c.writeErr
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s state not completed in time", protocol.ErrTimeout, c.state)
			}
			return nil, ctx.Err()
		}
	}
}

// readPacket reads and decodes the next packet in the current state.
func (c *Conn) readPacket(ctx context.Context) (packets.Packet, error) {
	payload, err := c.readPayload(ctx, AwaitTimeout)
	if err != nil {
		return nil, err
	}
	p, err := packets.Decode(c.state, payload)
	if err != nil {
		return nil, err
	}
	c.logger.Trace().Str("packet", fmt.Sprintf("%T", p)).Msg("recv")
	return p, nil
}

// await reads packets until one of type T arrives. Packets that may appear
// at any point in the current state are handled in passing; anything else
// is a protocol violation.
func await[T packets.Packet](ctx context.Context, c *Conn) (T, error) {
	var zero T
	for {
		p, err := c.readPacket(ctx)
		if err != nil {
			return zero, err
		}
		if t, ok := p.(T); ok {
			return t, nil
		}
		if c.handleAside(p) {
			continue
		}
		return zero, fmt.Errorf("%w: expected %T, got %T in %s state", protocol.ErrSchema, zero, p, c.state)
	}
}

// handleAside consumes packets that are valid at any point in the current
// state and reports whether p was one of them.
func (c *Conn) handleAside(p packets.Packet) bool {
	if c.state != protocol.StateConfiguration {
		return false
	}
	switch p := p.(type) {
	case *packets.ClientInformation:
		if c.player != nil {
			c.player.Locale = p.Locale
		}
		c.logger.Debug().
			Str("locale", p.Locale).
			Int8("view_distance", p.ViewDistance).
			Msg("client information")
		return true
	case *packets.ConfigPluginMessage:
		c.logger.Debug().Str("channel", p.Channel).Int("size", len(p.Data)).Msg("plugin message")
		return true
	case *packets.ConfigKeepAliveResponse:
		return true
	}
	return false
}

// disconnect sends a disconnect packet appropriate to the current state.
// Errors are ignored because the connection is closing anyway.
func (c *Conn) disconnect(reason string) {
	reason = packets.ClampReason(reason)
	var p packets.Clientbound
	switch c.state {
	case protocol.StateLogin:
		p = &packets.LoginDisconnect{Reason: reason}
	case protocol.StateConfiguration:
		p = &packets.ConfigDisconnect{Reason: reason}
	case protocol.StatePlay:
		p = &packets.PlayDisconnect{Reason: reason}
	default:
		return
	}
	if err := c.send(p); err != nil {
		c.logger.Debug().Err(err).Msg("failed to send disconnect")
		return
	}
	c.logger.Info().Str("reason", reason).Msg("disconnected client")
}

// isCleanClose reports whether err is an ordinary end of connection.
func isCleanClose(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, errKicked) ||
		errors.Is(err, context.Canceled)
}

// errorKind classifies err for logs and events.
func errorKind(err error) string {
	if errors.Is(err, session.ErrAlreadyConnected) {
		return "duplicate"
	}
	return protocol.Kind(err)
}

// finish releases everything the connection holds: its registry entry, the
// writer (after flushing queued frames) and the socket.
func (c *Conn) finish(ctx context.Context, err error) {
	c.closeOnce.Do(func() {
		state := c.state
		c.state = protocol.StateClosed

		if c.registered {
			c.srv.sessions.Unregister(c.player.UUID, c.id)
			c.srv.status.Invalidate()
			reason := "disconnected"
			if !isCleanClose(err) {
				reason = err.Error()
			}
			c.srv.emitPlayerLeft(ctx, c, reason)
		}

		if isCleanClose(err) {
			c.logger.Debug().Err(err).Str("state", state.String()).Msg("connection closed")
		} else {
			c.logger.Warn().
				Err(err).
				Str("state", state.String()).
				Str("kind", errorKind(err)).
				Msg("connection terminated")
			c.srv.emitConnectionError(ctx, c, state, err)
		}

		close(c.out)
		select {
		case <-c.writerDone:
		case <-time.After(WriteTimeout):
		}
		c.raw.Close()
		close(c.done)
	})
}

// setPlayerLogger adds the player identity to every later log line.
func (c *Conn) setPlayerLogger() {
	c.logger = c.logger.With().
		Str("player", c.player.Name).
		Str("uuid", c.player.UUID.String()).
		Logger()
}
