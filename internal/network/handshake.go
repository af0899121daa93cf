package network

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xoogware/crawlspace/internal/packets"
	"github.com/xoogware/crawlspace/internal/protocol"
)

// run walks the connection through its states. Everything before Play must
// finish within the login timeout.
func (c *Conn) run(ctx context.Context) error {
	preCtx, cancel := context.WithTimeout(ctx, c.srv.core.LoginTimeout)
	defer cancel()

	hs, err := await[*packets.Handshake](preCtx, c)
	if err != nil {
		return err
	}
	c.logger.Debug().
		Int32("protocol", hs.ProtocolVersion).
		Str("address", hs.ServerAddress).
		Int32("intent", hs.Intent).
		Msg("handshake")

	switch hs.Intent {
	case protocol.IntentStatus:
		c.state = protocol.StateStatus
		return c.handleStatus(preCtx, hs)
	case protocol.IntentLogin, protocol.IntentTransfer:
		c.state = protocol.StateLogin
	default:
		return fmt.Errorf("%w: handshake intent %d", protocol.ErrSchema, hs.Intent)
	}

	if err := c.handleLogin(preCtx, hs); err != nil {
		return err
	}

	c.state = protocol.StateConfiguration
	if err := c.handleConfiguration(preCtx); err != nil {
		return err
	}

	c.state = protocol.StatePlay
	cancel()
	return c.handlePlay(ctx)
}

// handleStatus answers one status request and an optional ping.
func (c *Conn) handleStatus(ctx context.Context, hs *packets.Handshake) error {
	if _, err := await[*packets.StatusRequest](ctx, c); err != nil {
		return err
	}

	doc, err := c.srv.status.JSON()
	if err != nil {
		return err
	}
	if err := c.send(&packets.StatusResponse{JSON: doc}); err != nil {
		return err
	}
	c.srv.emitStatusPing(ctx, c, hs.ProtocolVersion)

	ping, err := await[*packets.PingRequest](ctx, c)
	if err != nil {
		// Many clients close without pinging.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return c.send(&packets.PongResponse{Payload: ping.Payload})
}
