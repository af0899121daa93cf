package network

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xoogware/crawlspace/internal/packets"
	"github.com/xoogware/crawlspace/internal/protocol"
	"github.com/xoogware/crawlspace/internal/session"
)

// Disconnect reasons shown to the client.
const (
	ReasonServerFull       = "The server is full!"
	ReasonAlreadyConnected = "You are already connected"
	ReasonUnverified       = "Unable to verify player details"
	ReasonServerClosed     = "Server closed"
)

const velocityMessageID = 0

// OfflineUUID derives the UUID vanilla assigns a player name when the server
// does not authenticate with the session service.
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}

func (c *Conn) handleLogin(ctx context.Context, hs *packets.Handshake) error {
	start, err := await[*packets.LoginStart](ctx, c)
	if err != nil {
		return err
	}
	if n := utf8.RuneCountInString(start.Name); n < 1 || n > 16 {
		return fmt.Errorf("%w: player name length %d", protocol.ErrSchema, n)
	}
	c.logger.Debug().Str("name", start.Name).Msg("login start")

	if hs.ProtocolVersion != protocol.ProtocolVersion {
		c.logger.Warn().
			Int32("client", hs.ProtocolVersion).
			Int32("server", protocol.ProtocolVersion).
			Msg("client protocol version differs, serving anyway")
	}

	if c.srv.core.Encryption {
		if err := c.negotiateEncryption(ctx); err != nil {
			return err
		}
	}

	player := &Player{
		UUID:     OfflineUUID(start.Name),
		Name:     start.Name,
		JoinedAt: time.Now(),
	}

	if secret := c.srv.core.VelocitySecret; secret != nil {
		fwd, err := c.velocityForwarding(ctx, secret)
		if err != nil {
			if errors.Is(err, protocol.ErrAuth) {
				c.disconnect(ReasonUnverified)
				c.srv.emitLoginRejected(ctx, c, start.Name, ReasonUnverified)
			}
			return err
		}
		player.UUID = fwd.UUID
		player.Name = fwd.Name
		player.Properties = fwd.Properties
		c.remote = fwd.Address
	}

	entry := session.Entry{
		UUID:     player.UUID,
		Name:     player.Name,
		ConnID:   c.id,
		Remote:   c.remote,
		JoinedAt: player.JoinedAt,
	}
	if err := c.srv.sessions.TryRegister(entry, c); err != nil {
		reason := ReasonServerFull
		if errors.Is(err, session.ErrAlreadyConnected) {
			reason = ReasonAlreadyConnected
		}
		c.disconnect(reason)
		c.srv.emitLoginRejected(ctx, c, player.Name, reason)
		if errors.Is(err, session.ErrFull) {
			return fmt.Errorf("%w: %v", protocol.ErrCapacity, err)
		}
		return err
	}
	c.player = player
	c.registered = true
	c.srv.status.Invalidate()
	c.setPlayerLogger()

	if t := c.srv.core.CompressionThreshold; t >= 0 {
		if err := c.send(&packets.SetCompression{Threshold: int32(t)}); err != nil {
			return err
		}
		c.enc.EnableCompression(t)
		c.dec.EnableCompression(t)
	}

	if err := c.send(&packets.LoginSuccess{
		UUID:       player.UUID,
		Name:       player.Name,
		Properties: player.Properties,
	}); err != nil {
		return err
	}

	if _, err := await[*packets.LoginAcknowledged](ctx, c); err != nil {
		return err
	}
	c.logger.Info().Msg("login complete")
	return nil
}

// negotiateEncryption runs the key exchange and switches both directions of
// the codec to the shared secret. A bad token closes the connection without
// another packet.
func (c *Conn) negotiateEncryption(ctx context.Context) error {
	token, err := protocol.NewVerifyToken()
	if err != nil {
		return err
	}
	if err := c.send(&packets.EncryptionRequest{
		PublicKey:   c.srv.keys.PublicKeyDER(),
		VerifyToken: token,
	}); err != nil {
		return err
	}

	resp, err := await[*packets.EncryptionResponse](ctx, c)
	if err != nil {
		return err
	}

	echoed, err := c.srv.keys.Decrypt(resp.VerifyToken)
	if err != nil {
		return err
	}
	if !bytes.Equal(echoed, token) {
		return fmt.Errorf("%w: verify token mismatch", protocol.ErrAuth)
	}
	secret, err := c.srv.keys.Decrypt(resp.SharedSecret)
	if err != nil {
		return err
	}
	encStream, decStream, err := protocol.NewCipherStreams(secret)
	if err != nil {
		return err
	}

	c.enc.EnableEncryption(encStream)
	c.dec.EnableEncryption(decStream)
	c.logger.Debug().Msg("encryption enabled")
	return nil
}

// velocityForwarding asks the proxy in front of this server for the real
// player identity.
func (c *Conn) velocityForwarding(ctx context.Context, secret []byte) (*packets.ForwardedPlayer, error) {
	if err := c.send(packets.VelocityRequest(velocityMessageID)); err != nil {
		return nil, err
	}

	resp, err := await[*packets.LoginPluginResponse](ctx, c)
	if err != nil {
		return nil, err
	}
	if resp.MessageID != velocityMessageID {
		return nil, fmt.Errorf("%w: plugin response for message %d", protocol.ErrAuth, resp.MessageID)
	}
	if !resp.Understood {
		return nil, fmt.Errorf("%w: proxy did not answer the forwarding request", protocol.ErrAuth)
	}
	return packets.ParseVelocityForwarding(resp.Data, secret)
}
