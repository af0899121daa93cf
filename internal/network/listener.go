package network

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xoogware/crawlspace/internal/config"
	"github.com/xoogware/crawlspace/internal/events"
	"github.com/xoogware/crawlspace/internal/packets"
	"github.com/xoogware/crawlspace/internal/protocol"
	"github.com/xoogware/crawlspace/internal/session"
	"github.com/xoogware/crawlspace/internal/world"
)

// Listener accepts game clients and runs one Conn per accepted socket.
type Listener struct {
	core     config.Core
	sessions *session.Registry
	bus      *events.EventBus
	status   *StatusCache
	keys     *protocol.KeyPair
	throttle *connThrottle
	logger   zerolog.Logger

	// chunks are the world's chunk packets ordered by distance from spawn.
	chunks        []world.Chunk
	dimensionType int32
	tick          time.Duration

	nextID atomic.Uint64
	active atomic.Int64
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

// NewListener prepares a listener. The world must already be loaded.
func NewListener(core config.Core, store *world.Store, sessions *session.Registry, bus *events.EventBus) (*Listener, error) {
	dimType, err := packets.RegistryIndex("minecraft:dimension_type", dimensionName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dimension type: %w", err)
	}

	l := &Listener{
		core:          core,
		sessions:      sessions,
		bus:           bus,
		status:        NewStatusCache(core.MOTD, sessions, statusCacheTTL),
		logger:        log.With().Str("component", "listener").Logger(),
		chunks:        orderFromSpawn(store.Nearest(), core.SpawnX, core.SpawnZ),
		dimensionType: dimType,
		tick:          time.Second,
	}

	if core.ConnectionRateLimit > 0 {
		l.throttle = newConnThrottle(core.ConnectionRateLimit)
	}
	if core.Encryption {
		l.keys, err = protocol.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}

// orderFromSpawn sorts chunks nearest to the spawn chunk first.
func orderFromSpawn(chunks []world.Chunk, spawnX, spawnZ float64) []world.Chunk {
	cx := int32(math.Floor(spawnX / 16))
	cz := int32(math.Floor(spawnZ / 16))
	dist := func(p world.ChunkPos) int64 {
		dx, dz := int64(p.X-cx), int64(p.Z-cz)
		return dx*dx + dz*dz
	}

	out := make([]world.Chunk, len(chunks))
	copy(out, chunks)
	sort.SliceStable(out, func(i, j int) bool {
		return dist(out[i].Pos) < dist(out[j].Pos)
	})
	return out
}

// viewDistance is the border radius plus one, and never below 2.
func (l *Listener) viewDistance() int {
	if d := l.core.BorderRadius + 1; d > 2 {
		return d
	}
	return 2
}

// Status returns the shared status cache.
func (l *Listener) Status() *StatusCache {
	return l.status
}

// Connections returns the number of open connections, logged in or not.
func (l *Listener) Connections() int64 {
	return l.active.Load()
}

// Start binds the configured address and serves until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	addr := l.core.BindAddress()

	lc := ListenConfig(l.core.KeepAliveTimeout)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start game listener on %s: %w", addr, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// every connection to finish.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info().
		Str("addr", ln.Addr().String()).
		Int("max_players", l.core.MaxPlayers).
		Bool("encryption", l.core.Encryption).
		Bool("velocity", l.core.VelocitySecret != nil).
		Msg("game listener started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("game listener stopping")
				l.wg.Wait()
				return nil
			default:
				l.logger.Error().Err(err).Msg("failed to accept connection")
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		if l.throttle != nil {
			if ip := extractIP(raw.RemoteAddr()); !l.throttle.allow(ip) {
				l.logger.Debug().Str("remote", ip).Msg("connection rate exceeded, dropping")
				raw.Close()
				continue
			}
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.ServeConn(ctx, raw)
		}()
	}
}

// ServeConn runs the protocol on an already accepted connection and returns
// when it closes.
func (l *Listener) ServeConn(ctx context.Context, raw net.Conn) {
	if tcp, ok := raw.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	c := newConn(l.nextID.Add(1), raw, l)
	l.active.Add(1)
	defer l.active.Add(-1)

	c.logger.Debug().Msg("connection accepted")
	c.serve(ctx)
}

// Stop closes the listening socket. Open connections are closed by
// cancelling the context passed to Serve.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// Wait blocks until every connection goroutine has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if l.bus == nil {
		return
	}
	l.bus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:    t,
		Source:  "listener",
		Payload: payload,
	})
}

func (l *Listener) emitPlayerJoined(ctx context.Context, c *Conn) {
	l.emit(ctx, events.EventPlayerJoined, events.PlayerPayload{
		UUID:     c.player.UUID.String(),
		Name:     c.player.Name,
		Remote:   c.remote,
		ConnID:   c.id,
		JoinedAt: c.player.JoinedAt,
		At:       time.Now(),
	})
}

func (l *Listener) emitPlayerLeft(ctx context.Context, c *Conn, reason string) {
	l.emit(ctx, events.EventPlayerLeft, events.PlayerPayload{
		UUID:     c.player.UUID.String(),
		Name:     c.player.Name,
		Remote:   c.remote,
		ConnID:   c.id,
		Reason:   reason,
		JoinedAt: c.player.JoinedAt,
		At:       time.Now(),
	})
}

func (l *Listener) emitLoginRejected(ctx context.Context, c *Conn, name, reason string) {
	l.emit(ctx, events.EventLoginRejected, events.RejectedPayload{
		Name:   name,
		Remote: c.remote,
		Reason: reason,
	})
}

func (l *Listener) emitStatusPing(ctx context.Context, c *Conn, version int32) {
	l.emit(ctx, events.EventStatusPing, events.StatusPingPayload{
		Remote:   c.remote,
		Protocol: version,
	})
}

func (l *Listener) emitConnectionError(ctx context.Context, c *Conn, state protocol.State, err error) {
	l.emit(ctx, events.EventConnectionFail, events.ConnectionErrorPayload{
		Remote: c.remote,
		State:  state.String(),
		Kind:   errorKind(err),
		Error:  err.Error(),
	})
}
