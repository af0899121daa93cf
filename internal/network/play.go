package network

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/xoogware/crawlspace/internal/packets"
	"github.com/xoogware/crawlspace/internal/protocol"
)

const (
	// TeleportTimeout bounds the wait for the spawn teleport confirmation.
	TeleportTimeout = 5 * time.Second

	dimensionName      = "minecraft:the_end"
	simulationDistance = 8
	tabListName        = "You're alone..."
)

// playState is the per-connection Play bookkeeping. It is only touched by
// the serving goroutine.
type playState struct {
	teleportID       int32
	teleportPending  bool
	teleportDeadline time.Time

	keepAliveID      int64
	keepAlivePending bool
	keepAliveSent    time.Time
}

func (c *Conn) handlePlay(ctx context.Context) error {
	now := time.Now()
	c.player.Position = packets.Position{
		X: c.srv.core.SpawnX,
		Y: c.srv.core.SpawnY,
		Z: c.srv.core.SpawnZ,
	}
	c.player.LastKeepAlive = now
	c.srv.emitPlayerJoined(ctx, c)

	ps := &playState{keepAliveSent: now}
	if err := c.sendSpawn(ps); err != nil {
		return err
	}

	ticker := time.NewTicker(c.srv.tick)
	defer ticker.Stop()

	for {
		for {
			payload, err := c.dec.Next()
			if err != nil {
				return err
			}
			if payload == nil {
				break
			}
			if err := c.handlePlayPacket(payload, ps); err != nil {
				return err
			}
		}

		select {
		case r := <-c.in:
			if r.err != nil {
				return r.err
			}
			c.dec.Feed(r.data)
		case now := <-ticker.C:
			if err := c.tickPlay(now, ps); err != nil {
				return err
			}
		case reason := <-c.kick:
			c.disconnect(reason)
			return errKicked
		case <-c.writeFailed:
			return c.writeErr
		case <-ctx.Done():
			c.disconnect(ReasonServerClosed)
			return ctx.Err()
		}
	}
}

// sendSpawn sends the join sequence followed by every loaded chunk.
func (c *Conn) sendSpawn(ps *playState) error {
	core := c.srv.core
	spawnChunkX := int32(math.Floor(core.SpawnX / 16))
	spawnChunkZ := int32(math.Floor(core.SpawnZ / 16))

	ps.teleportID = 1
	ps.teleportPending = true
	ps.teleportDeadline = time.Now().Add(TeleportTimeout)

	seq := []packets.Clientbound{
		&packets.LoginPlay{
			EntityID:           int32(c.id),
			Dimensions:         []string{dimensionName},
			MaxPlayers:         int32(core.MaxPlayers),
			ViewDistance:       int32(c.srv.viewDistance()),
			SimulationDistance: simulationDistance,
			DimensionType:      c.srv.dimensionType,
			DimensionName:      dimensionName,
			Gamemode:           packets.GamemodeCreative,
			PreviousGamemode:   -1,
		},
		&packets.SynchronizePosition{
			X:          core.SpawnX,
			Y:          core.SpawnY,
			Z:          core.SpawnZ,
			TeleportID: ps.teleportID,
		},
		&packets.SetBorderCenter{X: core.SpawnX, Z: core.SpawnZ},
		&packets.SetBorderSize{Diameter: float64(core.BorderRadius * 16 * 2)},
		&packets.PlayerInfoUpdate{
			Actions: packets.PlayerInfoAddPlayer | packets.PlayerInfoUpdateListed,
			Entries: []packets.PlayerInfoEntry{{
				UUID:   c.player.UUID,
				Name:   tabListName,
				Listed: true,
			}},
		},
		&packets.GameEvent{Event: packets.GameEventStartWaitingForChunks},
		&packets.SetCenterChunk{X: spawnChunkX, Z: spawnChunkZ},
	}
	for _, p := range seq {
		if err := c.send(p); err != nil {
			return err
		}
	}

	for _, ch := range c.srv.chunks {
		if err := c.sendPayload(ch.Payload); err != nil {
			return err
		}
	}
	c.logger.Debug().Int("chunks", len(c.srv.chunks)).Msg("spawn sent")
	return nil
}

func (c *Conn) handlePlayPacket(payload []byte, ps *playState) error {
	p, err := packets.Decode(protocol.StatePlay, payload)
	if errors.Is(err, protocol.ErrUnknownPacket) {
		c.logger.Trace().Err(err).Msg("ignoring packet")
		return nil
	}
	if err != nil {
		return err
	}

	switch p := p.(type) {
	case *packets.KeepAliveResponse:
		if ps.keepAlivePending && p.KeepAliveID == ps.keepAliveID {
			ps.keepAlivePending = false
			c.player.LastKeepAlive = time.Now()
			c.logger.Trace().
				Dur("rtt", c.player.LastKeepAlive.Sub(ps.keepAliveSent)).
				Msg("keep-alive")
		}
	case *packets.ConfirmTeleport:
		if !ps.teleportPending || p.TeleportID != ps.teleportID {
			return fmt.Errorf("%w: unexpected teleport confirmation %d", protocol.ErrSchema, p.TeleportID)
		}
		ps.teleportPending = false
	case packets.Movement:
		// Movement before the teleport is confirmed refers to the old position.
		if ps.teleportPending {
			return nil
		}
		p.Apply(&c.player.Position)
	}
	return nil
}

// tickPlay enforces the teleport and keep-alive deadlines and sends a new
// keep-alive when one is due.
func (c *Conn) tickPlay(now time.Time, ps *playState) error {
	if ps.teleportPending && now.After(ps.teleportDeadline) {
		return fmt.Errorf("%w: teleport %d not confirmed", protocol.ErrTimeout, ps.teleportID)
	}

	if ps.keepAlivePending {
		if now.Sub(ps.keepAliveSent) > c.srv.core.KeepAliveTimeout {
			return fmt.Errorf("%w: no keep-alive response for %s", protocol.ErrTimeout, now.Sub(ps.keepAliveSent))
		}
		return nil
	}

	if now.Sub(ps.keepAliveSent) >= c.srv.core.KeepAliveInterval {
		ps.keepAliveID = rand.Int63()
		ps.keepAlivePending = true
		ps.keepAliveSent = now
		return c.send(&packets.KeepAlive{KeepAliveID: ps.keepAliveID})
	}
	return nil
}
